// Package auth logs the console in and out of the admin API and keeps the
// credential pair in the store current.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/erp/adminconsole/internal/client"
	"github.com/erp/adminconsole/internal/credential"
	"github.com/erp/adminconsole/internal/infrastructure/logger"
	"github.com/erp/adminconsole/internal/session"
)

// LogoutReason is reported to the navigator when the user logs out.
const LogoutReason = "LOGOUT"

// ErrMalformedResponse means the API answered 2xx without a usable token pair.
var ErrMalformedResponse = errors.New("auth: response did not contain a token pair")

var validate = validator.New()

// Credentials are the login form values.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest creates a new console account.
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=100"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	DisplayName string `json:"display_name,omitempty"`
}

// TokenPair is the token block returned by login and refresh.
type TokenPair struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	TokenType             string    `json:"token_type"`
}

// User is the signed-in identity as the API describes it.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
}

type tokenResponse struct {
	Token TokenPair `json:"token"`
	User  *User     `json:"user,omitempty"`
}

type meResponse struct {
	User User `json:"user"`
}

// Clearer drops state derived from the signed-in identity.
type Clearer interface {
	Clear()
}

// Service is the auth orchestrator. It never retries; recovery from an
// expired credential belongs to the request pipeline.
type Service struct {
	client     *client.Client
	store      *credential.Store
	terminator *session.Terminator
	logger     *zap.Logger

	mu       sync.RWMutex
	profile  *User
	clearers []Clearer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the service
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClearers registers state to drop on logout, such as page caches.
func WithClearers(c ...Clearer) Option {
	return func(s *Service) { s.clearers = append(s.clearers, c...) }
}

// NewService creates the service and installs it as c's refresher.
func NewService(c *client.Client, store *credential.Store, terminator *session.Terminator, opts ...Option) *Service {
	s := &Service{
		client:     c,
		store:      store,
		terminator: terminator,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	c.SetRefresher(s)
	return s
}

// AddClearer registers more state to drop on logout.
func (s *Service) AddClearer(c Clearer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearers = append(s.clearers, c)
}

// Login exchanges credentials for a token pair and persists it.
func (s *Service) Login(ctx context.Context, creds Credentials) (*TokenPair, error) {
	if err := validate.Struct(creds); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}

	var out tokenResponse
	if _, err := s.client.Fetch(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   creds,
	}, &out); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, out.Token); err != nil {
		return nil, err
	}

	s.terminator.Reset()
	s.mu.Lock()
	s.profile = out.User
	s.mu.Unlock()

	logger.L(ctx, s.logger).Info("logged in", zap.String("username", creds.Username))
	return &out.Token, nil
}

// Refresh exchanges the current pair for a new one and persists it.
func (s *Service) Refresh(ctx context.Context, access, refresh string) (*TokenPair, error) {
	var out tokenResponse
	if _, err := s.client.Fetch(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/auth/refresh",
		Body:   map[string]string{"access_token": access, "refresh_token": refresh},
	}, &out); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, out.Token); err != nil {
		return nil, err
	}
	logger.L(ctx, s.logger).Debug("credentials refreshed")
	return &out.Token, nil
}

// RefreshCredentials implements client.Refresher.
func (s *Service) RefreshCredentials(ctx context.Context, access, refresh string) error {
	_, err := s.Refresh(ctx, access, refresh)
	return err
}

func (s *Service) persist(ctx context.Context, pair TokenPair) error {
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return ErrMalformedResponse
	}
	if err := s.store.SetTokens(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return fmt.Errorf("persisting credentials: %w", err)
	}
	return nil
}

// Logout tells the API the session is over, if it can, then clears local
// state and navigates to login with LogoutReason. Server failures are
// ignored and never navigate on their own.
func (s *Service) Logout(ctx context.Context) error {
	log := logger.L(ctx, s.logger)

	if s.store.IsAuthenticated(ctx) {
		if _, err := s.client.Post(session.WithLogout(ctx), "/auth/logout", nil); err != nil {
			log.Debug("server logout failed, continuing locally", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.profile = nil
	clearers := append([]Clearer(nil), s.clearers...)
	s.mu.Unlock()
	for _, c := range clearers {
		c.Clear()
	}

	err := s.store.ClearTokens(ctx)
	s.terminator.Terminate(ctx, LogoutReason)
	if err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	log.Info("logged out")
	return nil
}

// Register creates an account. It does not log in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid registration: %w", err)
	}
	var user User
	if _, err := s.client.Fetch(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/auth/register",
		Body:   req,
	}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Me returns the signed-in user, from cache when available.
func (s *Service) Me(ctx context.Context) (*User, error) {
	if u := s.Profile(); u != nil {
		return u, nil
	}

	var out meResponse
	if _, err := s.client.Fetch(ctx, client.Request{Method: http.MethodGet, Path: "/auth/me"}, &out); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.profile = &out.User
	s.mu.Unlock()
	u := out.User
	return &u, nil
}

// Profile returns a copy of the cached user, or nil.
func (s *Service) Profile() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	u := *s.profile
	return &u
}

func (s *Service) IsAuthenticated(ctx context.Context) bool {
	return s.store.IsAuthenticated(ctx)
}

func (s *Service) IsValidSession(ctx context.Context) bool {
	return s.store.IsValidSession(ctx)
}

// Session returns the decoded validity of the stored pair.
func (s *Service) Session(ctx context.Context) session.Validity {
	return s.store.Validity(ctx)
}
