package fakeapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/erp/adminconsole/internal/session"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	errTokenExpired = errors.New("token expired")
	errTokenInvalid = errors.New("token invalid")
)

// issuedToken tracks server-side state of a token the fake has minted.
type issuedToken struct {
	userID  string
	kind    string
	expired bool
	revoked bool
}

// tokenPair is the token block of login and refresh responses.
type tokenPair struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	TokenType             string    `json:"token_type"`
}

// issuePair mints an HS256 access/refresh pair for acct. Caller holds s.mu.
func (s *Server) issuePair(acct *account) (*tokenPair, error) {
	now := time.Now()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	access, err := s.sign(acct, tokenTypeAccess, now, accessExp)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(acct, tokenTypeRefresh, now, refreshExp)
	if err != nil {
		return nil, err
	}
	return &tokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
		TokenType:             "Bearer",
	}, nil
}

func (s *Server) sign(acct *account, kind string, now, exp time.Time) (string, error) {
	jti := uuid.NewString()
	claims := &session.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   acct.ID,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(exp),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:    acct.ID,
		Username:  acct.Username,
		Role:      acct.Role,
		TokenType: kind,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", kind, err)
	}
	s.issued[jti] = &issuedToken{userID: acct.ID, kind: kind}
	return token, nil
}

// parse verifies the signature and returns the claims even when the token is
// past its expiry; expiry is reported separately. Caller holds s.mu.
func (s *Server) parse(raw string) (*session.Claims, *issuedToken, error) {
	claims := &session.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, nil, errTokenInvalid
	}
	state, ok := s.issued[claims.ID]
	if !ok {
		return nil, nil, errTokenInvalid
	}
	if state.expired || time.Now().After(claims.Expiry()) {
		return claims, state, errTokenExpired
	}
	return claims, state, nil
}
