// Package session derives advisory session state from the stored credentials
// and tears the session down when the API rejects it for good.
//
// Nothing here verifies a token signature. The decoded claims only drive UI
// hints (who am I, is my session plausibly alive); the API remains the
// authority on what a credential may do.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the admin API token payload the console reads.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string   `json:"user_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	Role      string   `json:"role,omitempty"`
	RoleIDs   []string `json:"role_ids,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
}

// Validity is computed on demand and never stored.
type Validity struct {
	Valid   bool
	Subject string
}

var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// Decode returns the unverified claims of token, or nil if token is malformed.
func Decode(token string) *Claims {
	if token == "" {
		return nil
	}
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

// SubjectOf returns the token subject, falling back to the user_id claim.
// Malformed tokens yield "".
func SubjectOf(token string) string {
	claims := Decode(token)
	if claims == nil {
		return ""
	}
	return claims.SubjectName()
}

// Validate reports whether a credential pair plausibly forms a live session.
func Validate(access, refresh string) Validity {
	if access == "" || refresh == "" {
		return Validity{}
	}
	subject := SubjectOf(access)
	return Validity{Valid: subject != "", Subject: subject}
}

// SubjectName is the identity the claims belong to.
func (c *Claims) SubjectName() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// Expiry returns the expiry claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

// Issued returns the issued-at claim, or the zero time when absent.
func (c *Claims) Issued() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

// ExpiresWithin reports whether the token expires within d of now.
// Tokens without an expiry never do.
func (c *Claims) ExpiresWithin(now time.Time, d time.Duration) bool {
	exp := c.Expiry()
	if exp.IsZero() {
		return false
	}
	return !now.Add(d).Before(exp)
}
