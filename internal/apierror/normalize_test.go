package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *testing.T) time.Time {
	t.Helper()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := now
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = orig })
	return fixed
}

func TestNormalize_StructuredFlatBody(t *testing.T) {
	fixedClock(t)
	body := []byte(`{
		"timestamp": "2026-02-10T08:30:00Z",
		"status": "ACCESS_TOKEN_EXPIRED",
		"statusCode": 401,
		"message": "Access token expired",
		"path": "/api/v1/tutors"
	}`)

	rec := Normalize(Classify(http.StatusUnauthorized, body, "/tutors"))

	assert.Equal(t, StatusAccessTokenExpired, rec.Status)
	assert.Equal(t, 401, rec.StatusCode)
	assert.Equal(t, "Access token expired", rec.Message)
	assert.Equal(t, "/api/v1/tutors", rec.Path)
	assert.Equal(t, time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC), rec.Timestamp)
	assert.Nil(t, rec.ValidationErrors)
}

func TestNormalize_StructuredEnvelopeBody(t *testing.T) {
	fixed := fixedClock(t)
	body := []byte(`{
		"success": false,
		"error": {
			"code": "ERR_VALIDATION",
			"message": "Validation failed",
			"details": [{"field": "email", "message": "must be a valid email"}]
		}
	}`)

	rec := Normalize(Classify(http.StatusBadRequest, body, "/students"))

	assert.Equal(t, StatusValidationFailed, rec.Status)
	assert.Equal(t, http.StatusBadRequest, rec.StatusCode)
	assert.Equal(t, "Validation failed", rec.Message)
	assert.Equal(t, "/students", rec.Path)
	assert.Equal(t, fixed, rec.Timestamp)
	require.Len(t, rec.ValidationErrors, 1)
	assert.Equal(t, "email", rec.ValidationErrors[0].Field)
}

func TestNormalize_LegacyAuthCodes(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"TOKEN_EXPIRED", StatusAccessTokenExpired},
		{"ERR_TOKEN_EXPIRED", StatusAccessTokenExpired},
		{"INVALID_TOKEN", StatusInvalidToken},
		{"invalid_token_type", StatusInvalidTokenType},
		{"TOKEN_REVOKED", StatusInvalidToken},
		{"ERR_NOT_FOUND", StatusNotFound},
		{"SOMETHING_NEW", "SOMETHING_NEW"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			body := []byte(fmt.Sprintf(`{"success":false,"error":{"code":%q,"message":"x"}}`, tt.code))
			rec := Normalize(Classify(http.StatusUnauthorized, body, "/x"))
			assert.Equal(t, tt.want, rec.Status)
		})
	}
}

func TestNormalize_NumericStatusField(t *testing.T) {
	fixedClock(t)
	// servers that put the HTTP code in "status" and the reason in "error"
	body := []byte(`{"timestamp": 1767225600000, "status": 404, "error": "Not Found", "path": "/users/9"}`)

	rec := Normalize(Classify(http.StatusNotFound, body, "/users/9"))

	assert.Equal(t, StatusUnknown, rec.Status)
	assert.Equal(t, 404, rec.StatusCode)
	assert.Equal(t, "Not Found", rec.Message)
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), rec.Timestamp)
}

func TestNormalize_UnstructuredFailure(t *testing.T) {
	fixed := fixedClock(t)

	t.Run("empty body uses status text", func(t *testing.T) {
		rec := Normalize(Classify(http.StatusBadGateway, nil, "/tutors"))
		assert.Equal(t, StatusUnknown, rec.Status)
		assert.Equal(t, http.StatusBadGateway, rec.StatusCode)
		assert.Equal(t, "Bad Gateway", rec.Message)
		assert.Equal(t, "/tutors", rec.Path)
		assert.Equal(t, fixed, rec.Timestamp)
	})

	t.Run("short text body is kept", func(t *testing.T) {
		rec := Normalize(Classify(http.StatusServiceUnavailable, []byte("upstream down\n"), "/tutors"))
		assert.Equal(t, "upstream down", rec.Message)
	})

	t.Run("html body is dropped", func(t *testing.T) {
		rec := Normalize(Classify(http.StatusGatewayTimeout, []byte("<html><body>504</body></html>"), ""))
		assert.Equal(t, "Gateway Timeout", rec.Message)
	})

	t.Run("invalid json is unstructured", func(t *testing.T) {
		_, ok := Classify(http.StatusBadRequest, []byte(`{"status":`), "").(UnstructuredFailure)
		assert.True(t, ok)
	})
}

func TestNormalize_ConnectionFailure(t *testing.T) {
	fixed := fixedClock(t)

	rec := Normalize(ConnectionFailure{Err: errors.New("dial tcp 127.0.0.1:1: connection refused"), Path: "/auth/me"})

	assert.Equal(t, StatusNetworkError, rec.Status)
	assert.Equal(t, DefaultStatusCode, rec.StatusCode)
	assert.Equal(t, "dial tcp 127.0.0.1:1: connection refused", rec.Message)
	assert.Equal(t, "/auth/me", rec.Path)
	assert.Equal(t, fixed, rec.Timestamp)
}

func TestNormalize_Defaults(t *testing.T) {
	fixedClock(t)

	rec := Normalize(ConnectionFailure{})
	assert.Equal(t, StatusNetworkError, rec.Status)
	assert.Equal(t, 500, rec.StatusCode)
	assert.Equal(t, DefaultMessage, rec.Message)
	assert.Equal(t, "", rec.Path)

	rec = Normalize(StructuredFailure{Body: []byte(`{}`)})
	assert.Equal(t, StatusUnknown, rec.Status)
	assert.Equal(t, 500, rec.StatusCode)
	assert.Equal(t, DefaultMessage, rec.Message)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil, "/x"))

	existing := &Record{Status: StatusNotFound, StatusCode: 404}
	wrapped := fmt.Errorf("loading tutor: %w", existing)
	assert.Same(t, existing, FromError(wrapped, "/x"))

	rec := FromError(errors.New("boom"), "/y")
	assert.Equal(t, StatusNetworkError, rec.Status)
	assert.Equal(t, "/y", rec.Path)
}

func TestRecordHelpers(t *testing.T) {
	err := fmt.Errorf("ctx: %w", &Record{Status: StatusAlreadyExists, StatusCode: 409, Message: "duplicate name", Path: "/tutors"})

	assert.True(t, HasStatus(err, StatusAlreadyExists))
	assert.False(t, HasStatus(err, StatusNotFound))
	assert.Equal(t, StatusAlreadyExists, StatusOf(err))
	assert.Equal(t, "", StatusOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "ALREADY_EXISTS 409 /tutors: duplicate name")
}

func TestIsTerminalRefreshStatus(t *testing.T) {
	for _, s := range []string{
		StatusInvalidTokenType,
		StatusInvalidRefreshToken,
		StatusRefreshTokenExpired,
		StatusAccessTokenNotRefreshable,
		StatusInvalidAccessToken,
		StatusInvalidToken,
	} {
		assert.True(t, IsTerminalRefreshStatus(s), s)
	}
	assert.False(t, IsTerminalRefreshStatus(StatusAccessTokenStillValid))
	assert.False(t, IsTerminalRefreshStatus(StatusAccessTokenExpired))
	assert.False(t, IsTerminalRefreshStatus(StatusNetworkError))
}
