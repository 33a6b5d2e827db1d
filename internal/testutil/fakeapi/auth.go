package fakeapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/erp/adminconsole/internal/session"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	AccessToken  string `json:"access_token" binding:"required"`
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type registerRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=100"`
	Password    string `json:"password" binding:"required,min=8,max=128"`
	Email       string `json:"email" binding:"omitempty,email"`
	DisplayName string `json:"display_name"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "ERR_VALIDATION", "username and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[req.Username]
	if !ok || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(req.Password)) != nil {
		fail(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password")
		return
	}
	pair, err := s.issuePair(acct)
	if err != nil {
		fail(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	success(c, gin.H{"token": pair, "user": acct})
}

func (s *Server) refresh(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshFailure != "" {
		code := http.StatusUnauthorized
		if s.refreshFailure == "ACCESS_TOKEN_STILL_VALID" {
			code = http.StatusBadRequest
		}
		tokenError(c, code, s.refreshFailure, "refresh rejected")
		return
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "ERR_VALIDATION", "access_token and refresh_token are required")
		return
	}

	refreshClaims, refreshState, err := s.parse(req.RefreshToken)
	switch {
	case errors.Is(err, errTokenInvalid):
		tokenError(c, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Refresh token is invalid")
		return
	case errors.Is(err, errTokenExpired):
		tokenError(c, http.StatusUnauthorized, "REFRESH_TOKEN_EXPIRED", "Refresh token has expired")
		return
	case refreshClaims.TokenType != tokenTypeRefresh:
		tokenError(c, http.StatusUnauthorized, "INVALID_TOKEN_TYPE", "Refresh token required")
		return
	case refreshState.revoked:
		tokenError(c, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Refresh token has been used")
		return
	}

	accessClaims, _, err := s.parse(req.AccessToken)
	switch {
	case errors.Is(err, errTokenInvalid):
		tokenError(c, http.StatusUnauthorized, "INVALID_ACCESS_TOKEN", "Access token is invalid")
		return
	case accessClaims.TokenType != tokenTypeAccess:
		tokenError(c, http.StatusUnauthorized, "INVALID_TOKEN_TYPE", "Access token required")
		return
	case err == nil:
		tokenError(c, http.StatusBadRequest, "ACCESS_TOKEN_STILL_VALID", "Access token has not expired yet")
		return
	case accessClaims.Subject != refreshClaims.Subject:
		tokenError(c, http.StatusUnauthorized, "EXPIRED_ACCESS_TOKEN_NOT_REFRESHABLE", "Token pair does not match")
		return
	}

	acct := s.accountByID(refreshClaims.Subject)
	if acct == nil {
		tokenError(c, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Unknown subject")
		return
	}

	refreshState.revoked = true
	pair, err := s.issuePair(acct)
	if err != nil {
		fail(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	success(c, gin.H{"token": pair})
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid registration",
			fieldError{Field: "body", Message: err.Error()})
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		fail(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid registration",
			fieldError{Field: "password", Message: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[req.Username]; exists {
		fail(c, http.StatusConflict, "ERR_ALREADY_EXISTS", "username already taken")
		return
	}
	acct := &account{
		ID:           uuid.NewString(),
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		Role:         "viewer",
		passwordHash: hash,
	}
	s.accounts[req.Username] = acct
	created(c, acct)
}

func (s *Server) logout(c *gin.Context) {
	claims := c.MustGet(claimsKey).(*session.Claims)

	s.mu.Lock()
	for _, t := range s.issued {
		if t.userID == claims.UserID {
			t.revoked = true
		}
	}
	s.mu.Unlock()

	success(c, gin.H{"message": "logged out"})
}

func (s *Server) me(c *gin.Context) {
	claims := c.MustGet(claimsKey).(*session.Claims)

	s.mu.Lock()
	acct := s.accountByID(claims.Subject)
	s.mu.Unlock()

	if acct == nil {
		fail(c, http.StatusNotFound, "ERR_NOT_FOUND", "user not found")
		return
	}
	success(c, gin.H{"user": acct})
}

// accountByID looks up an account. Caller holds s.mu.
func (s *Server) accountByID(id string) *account {
	for _, a := range s.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// hashPassword uses the minimum cost; the fake only needs real hashes, not slow ones.
func hashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
}
