// Package fakeapi is an in-process admin API for tests. It issues real HS256
// tokens, answers with the same envelope and error shapes as the real API,
// and exposes knobs to force credential expiry and refresh failures.
package fakeapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	issuer = "erp-admin-fake"

	// DefaultUsername and DefaultPassword are always accepted by /auth/login.
	DefaultUsername = "admin"
	DefaultPassword = "admin-password"

	claimsKey = "fake_claims"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// account is a user that can log in.
type account struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role"`
	passwordHash []byte
}

// Server is a running fake admin API.
type Server struct {
	srv    *httptest.Server
	engine *gin.Engine
	logger *zap.Logger

	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	seed       int
	faker      *gofakeit.Faker

	mu             sync.Mutex
	accounts       map[string]*account
	issued         map[string]*issuedToken
	collections    map[string]*collection
	refreshFailure string
	calls          map[string]int
}

// Option configures a Server.
type Option func(*Server)

// WithAccessTTL sets the lifetime of minted access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) { s.accessTTL = d }
}

// WithRefreshTTL sets the lifetime of minted refresh tokens.
func WithRefreshTTL(d time.Duration) Option {
	return func(s *Server) { s.refreshTTL = d }
}

// WithSeed fills every collection with n generated records.
func WithSeed(n int) Option {
	return func(s *Server) { s.seed = n }
}

// WithLogger logs requests served by the fake.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New starts a fake API and stops it when tb finishes.
func New(tb testing.TB, opts ...Option) *Server {
	tb.Helper()
	s := &Server{
		logger:      zap.NewNop(),
		secret:      []byte("fake-admin-api-secret-32-bytes!!"),
		accessTTL:   15 * time.Minute,
		refreshTTL:  7 * 24 * time.Hour,
		faker:       gofakeit.New(42),
		accounts:    make(map[string]*account),
		issued:      make(map[string]*issuedToken),
		collections: newCollections(),
		calls:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.AddAccount(DefaultUsername, DefaultPassword, "admin")
	s.seedCollections(s.seed)

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), otelgin.Middleware("fakeapi"), s.count)
	s.routes(s.engine.Group("/api/v1"))

	s.srv = httptest.NewServer(s.engine)
	tb.Cleanup(s.srv.Close)
	return s
}

// URL is the API root clients should use as their base URL.
func (s *Server) URL() string {
	return s.srv.URL + "/api/v1"
}

// Close stops the server early, e.g. to simulate an unreachable API.
func (s *Server) Close() {
	s.srv.Close()
}

func (s *Server) routes(api *gin.RouterGroup) {
	auth := api.Group("/auth")
	auth.POST("/login", s.login)
	auth.POST("/refresh", s.refresh)
	auth.POST("/register", s.register)
	auth.POST("/logout", s.authenticate, s.logout)
	auth.GET("/me", s.authenticate, s.me)

	for name, coll := range s.collections {
		g := api.Group("/"+name, s.authenticate)
		g.GET("", coll.list)
		g.POST("", coll.create())
		g.GET("/:id", coll.get)
		g.PUT("/:id", coll.update())
		g.DELETE("/:id", coll.remove)
	}
}

func (s *Server) count(c *gin.Context) {
	s.mu.Lock()
	s.calls[c.Request.Method+" "+c.FullPath()]++
	s.mu.Unlock()
	c.Next()
	s.logger.Debug("fake api request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
	)
}

// authenticate is the bearer check in front of every protected route.
func (s *Server) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") || len(header) == len("Bearer ") {
		fail(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "Authentication required")
		return
	}

	s.mu.Lock()
	claims, state, err := s.parse(strings.TrimPrefix(header, "Bearer "))
	s.mu.Unlock()

	switch {
	case errors.Is(err, errTokenInvalid):
		fail(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "Invalid token")
	case state.revoked:
		fail(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "Token has been revoked")
	case claims.TokenType != tokenTypeAccess:
		tokenError(c, http.StatusUnauthorized, "INVALID_TOKEN_TYPE", "Access token required")
	case errors.Is(err, errTokenExpired):
		tokenError(c, http.StatusUnauthorized, "ACCESS_TOKEN_EXPIRED", "Access token has expired")
	default:
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// AddAccount registers a login and returns its user id.
func (s *Server) AddAccount(username, password, role string) string {
	hash, err := hashPassword(password)
	if err != nil {
		panic("fakeapi: hashing password: " + err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct := &account{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  s.faker.Name(),
		Email:        username + "@example.com",
		Role:         role,
		passwordHash: hash,
	}
	s.accounts[username] = acct
	return acct.ID
}

// ExpireAccessTokens makes every access token minted so far report as expired.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.issued {
		if t.kind == tokenTypeAccess {
			t.expired = true
		}
	}
}

// FailRefreshWith makes /auth/refresh answer with status until reset with "".
func (s *Server) FailRefreshWith(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFailure = status
}

// Calls returns how many requests hit the route, e.g. Calls("POST", "/auth/refresh").
func (s *Server) Calls(method, route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" /api/v1"+route]
}

// RefreshCalls is Calls("POST", "/auth/refresh").
func (s *Server) RefreshCalls() int {
	return s.Calls(http.MethodPost, "/auth/refresh")
}
