package session

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/erp/adminconsole/internal/infrastructure/logger"
	"github.com/erp/adminconsole/internal/infrastructure/metrics"
)

// CredentialClearer erases the stored credential pair.
type CredentialClearer interface {
	ClearTokens(ctx context.Context) error
}

// Navigator sends the user to the unauthenticated entry point.
type Navigator interface {
	ToLogin(ctx context.Context, reason string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, reason string)

// ToLogin calls f.
func (f NavigatorFunc) ToLogin(ctx context.Context, reason string) { f(ctx, reason) }

type logoutKey struct{}

// WithLogout marks ctx as part of a user initiated logout. Terminations
// under it clear credentials but leave navigation to the logout itself.
func WithLogout(ctx context.Context) context.Context {
	return context.WithValue(ctx, logoutKey{}, true)
}

func loggingOut(ctx context.Context) bool {
	v, _ := ctx.Value(logoutKey{}).(bool)
	return v
}

// Terminator ends the session after an unrecoverable authentication failure.
//
// Terminate may be called from many failing requests at once. Credentials are
// cleared on every call, but the user is navigated away only once until
// Reset is called after the next successful login.
type Terminator struct {
	store   CredentialClearer
	nav     Navigator
	logger  *zap.Logger
	metrics *metrics.Metrics
	ended   atomic.Bool
}

// TerminatorOption configures a Terminator.
type TerminatorOption func(*Terminator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) TerminatorOption {
	return func(t *Terminator) { t.logger = l }
}

// WithMetrics records terminations by reason.
func WithMetrics(m *metrics.Metrics) TerminatorOption {
	return func(t *Terminator) { t.metrics = m }
}

// NewTerminator creates a Terminator. A nil navigator makes navigation a no-op.
func NewTerminator(store CredentialClearer, nav Navigator, opts ...TerminatorOption) *Terminator {
	t := &Terminator{store: store, nav: nav, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Terminate clears the credential pair and navigates to login.
func (t *Terminator) Terminate(ctx context.Context, reason string) {
	log := logger.L(ctx, t.logger)

	if err := t.store.ClearTokens(ctx); err != nil {
		log.Error("clearing credentials on session end", zap.Error(err))
	}

	if loggingOut(ctx) {
		log.Debug("auth failure during logout", zap.String("reason", reason))
		return
	}

	if !t.ended.CompareAndSwap(false, true) {
		log.Debug("session already ended", zap.String("reason", reason))
		return
	}

	log.Info("session ended", zap.String("reason", reason))
	t.metrics.ObserveTermination(reason)
	if t.nav != nil {
		t.nav.ToLogin(ctx, reason)
	}
}

// Reset re-arms navigation for the next session.
func (t *Terminator) Reset() {
	t.ended.Store(false)
}

// Ended reports whether the session was terminated and not yet re-established.
func (t *Terminator) Ended() bool {
	return t.ended.Load()
}
