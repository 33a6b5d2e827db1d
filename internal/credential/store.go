// Package credential owns the access/refresh credential pair. Store is the
// only component that reads or writes it.
package credential

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/erp/adminconsole/internal/session"
)

// ErrIncompletePair is returned by SetTokens when either credential is empty.
var ErrIncompletePair = errors.New("credential pair requires both access and refresh tokens")

// Store guards the pair held by a Storage backend.
type Store struct {
	mu      sync.RWMutex
	storage Storage
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a store over storage. A nil storage means in-memory.
func NewStore(storage Storage, opts ...Option) *Store {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	s := &Store{storage: storage, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTokens replaces the stored pair. Readers never observe only one of the two.
func (s *Store) SetTokens(ctx context.Context, access, refresh string) error {
	if access == "" || refresh == "" {
		return ErrIncompletePair
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.Save(ctx, Pair{AccessToken: access, RefreshToken: refresh})
}

// Pair returns both credentials read together. Storage failures read as absent.
func (s *Store) Pair(ctx context.Context) Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.storage.Load(ctx)
	if err != nil {
		s.logger.Warn("credential storage unreadable, treating as signed out", zap.Error(err))
		return Pair{}
	}
	return p
}

// AccessToken returns the stored access token, if any.
func (s *Store) AccessToken(ctx context.Context) (string, bool) {
	token := s.Pair(ctx).AccessToken
	return token, token != ""
}

// RefreshToken returns the stored refresh token, if any.
func (s *Store) RefreshToken(ctx context.Context) (string, bool) {
	token := s.Pair(ctx).RefreshToken
	return token, token != ""
}

// ClearTokens removes both credentials. Clearing an empty store is not an error.
func (s *Store) ClearTokens(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.Clear(ctx)
}

// IsAuthenticated reports whether both credentials are present. Expiry is not checked.
func (s *Store) IsAuthenticated(ctx context.Context) bool {
	return s.Pair(ctx).Complete()
}

// IsValidSession additionally requires the access token to decode to a subject.
func (s *Store) IsValidSession(ctx context.Context) bool {
	return s.Validity(ctx).Valid
}

// Validity returns the derived session validity and subject.
func (s *Store) Validity(ctx context.Context) session.Validity {
	p := s.Pair(ctx)
	return session.Validate(p.AccessToken, p.RefreshToken)
}

// Close releases the storage backend.
func (s *Store) Close() error {
	return s.storage.Close()
}
