package apierror

import "strings"

// Canonical status codes carried in Record.Status.
const (
	StatusUnknown = "UNKNOWN_ERROR"

	// Access credential lifecycle.
	StatusAccessTokenExpired        = "ACCESS_TOKEN_EXPIRED"
	StatusAccessTokenStillValid     = "ACCESS_TOKEN_STILL_VALID"
	StatusAccessTokenNotRefreshable = "EXPIRED_ACCESS_TOKEN_NOT_REFRESHABLE"
	StatusInvalidAccessToken        = "INVALID_ACCESS_TOKEN"
	StatusInvalidRefreshToken       = "INVALID_REFRESH_TOKEN"
	StatusRefreshTokenExpired       = "REFRESH_TOKEN_EXPIRED"
	StatusInvalidTokenType          = "INVALID_TOKEN_TYPE"
	StatusInvalidToken              = "INVALID_TOKEN"
	StatusAuthenticationFailed      = "AUTHENTICATION_FAILED"

	// Domain failures surfaced to callers.
	StatusValidationFailed = "VALIDATION_FAILED"
	StatusNotFound         = "NOT_FOUND"
	StatusAlreadyExists    = "ALREADY_EXISTS"
	StatusForbidden        = "FORBIDDEN"
	StatusRateLimited      = "RATE_LIMITED"
	StatusNetworkError     = "NETWORK_ERROR"
)

// legacyStatus maps the codes emitted by older admin API handlers onto the
// canonical vocabulary. Unlisted codes are kept as-is.
var legacyStatus = map[string]string{
	"TOKEN_EXPIRED":        StatusAccessTokenExpired,
	"ERR_TOKEN_EXPIRED":    StatusAccessTokenExpired,
	"ERR_TOKEN_INVALID":    StatusInvalidToken,
	"TOKEN_NOT_VALID":      StatusInvalidToken,
	"TOKEN_REVOKED":        StatusInvalidToken,
	"ERR_UNAUTHORIZED":     StatusAuthenticationFailed,
	"UNAUTHORIZED":         StatusAuthenticationFailed,
	"ERR_VALIDATION":       StatusValidationFailed,
	"ERR_NOT_FOUND":        StatusNotFound,
	"ERR_ALREADY_EXISTS":   StatusAlreadyExists,
	"ERR_FORBIDDEN":        StatusForbidden,
	"ERR_TOO_MANY_REQUEST": StatusRateLimited,
	"ERR_UNKNOWN":          StatusUnknown,
}

// CanonicalStatus upper-cases code and resolves legacy aliases.
func CanonicalStatus(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if mapped, ok := legacyStatus[code]; ok {
		return mapped
	}
	return code
}

// terminalRefreshStatus is the fixed set of refresh failures that end the session.
var terminalRefreshStatus = map[string]struct{}{
	StatusInvalidTokenType:          {},
	StatusInvalidRefreshToken:       {},
	StatusRefreshTokenExpired:       {},
	StatusAccessTokenNotRefreshable: {},
	StatusInvalidAccessToken:        {},
	StatusInvalidToken:              {},
}

// IsTerminalRefreshStatus reports whether a failed refresh with this status
// can never succeed and the session must be torn down.
func IsTerminalRefreshStatus(status string) bool {
	_, ok := terminalRefreshStatus[status]
	return ok
}
