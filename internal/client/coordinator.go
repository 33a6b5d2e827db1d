package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/erp/adminconsole/internal/apierror"
	"github.com/erp/adminconsole/internal/credential"
	"github.com/erp/adminconsole/internal/infrastructure/logger"
	"github.com/erp/adminconsole/internal/infrastructure/metrics"
	"github.com/erp/adminconsole/internal/session"
)

// DefaultBypassPaths are the endpoints that must never carry a credential
// or trigger a refresh of their own.
var DefaultBypassPaths = []string{"/auth/login", "/auth/refresh", "/auth/register"}

// Refresher exchanges a credential pair for a new one and persists it.
type Refresher interface {
	RefreshCredentials(ctx context.Context, access, refresh string) error
}

// refreshCoordinator attaches the stored access token and recovers from
// ACCESS_TOKEN_EXPIRED by refreshing once and replaying the request once.
type refreshCoordinator struct {
	store      *credential.Store
	terminator SessionTerminator
	pipeline   *Pipeline
	bypass     map[string]struct{}
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu        sync.RWMutex
	refresher Refresher

	// keyed by refresh token: concurrent expiries of one session share one call
	flight singleflight.Group
}

func newRefreshCoordinator(store *credential.Store, terminator SessionTerminator, bypass []string) *refreshCoordinator {
	c := &refreshCoordinator{
		store:      store,
		terminator: terminator,
		bypass:     make(map[string]struct{}, len(bypass)),
		logger:     zap.NewNop(),
	}
	for _, p := range bypass {
		c.bypass[normalizePath(p)] = struct{}{}
	}
	return c
}

func (c *refreshCoordinator) setRefresher(r Refresher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresher = r
}

func (c *refreshCoordinator) getRefresher() Refresher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refresher
}

func (c *refreshCoordinator) bypassed(path string) bool {
	_, ok := c.bypass[normalizePath(path)]
	return ok
}

func (c *refreshCoordinator) Prepare(ctx context.Context, req *Request) error {
	if c.bypassed(req.Path) {
		return nil
	}
	req.attached = c.store.Pair(ctx)
	if req.attached.AccessToken != "" {
		req.Headers["Authorization"] = "Bearer " + req.attached.AccessToken
		req.subject = session.SubjectOf(req.attached.AccessToken)
	}
	return nil
}

func (c *refreshCoordinator) Recover(ctx context.Context, req *Request, err error) (*Response, error) {
	if c.bypassed(req.Path) || !apierror.HasStatus(err, apierror.StatusAccessTokenExpired) {
		return nil, err
	}
	ctx = req.logContext(ctx)
	log := logger.L(ctx, c.logger).With(zap.String("path", req.Path))

	if req.replayed {
		log.Warn("replayed request rejected with a freshly refreshed credential")
		c.terminator.Terminate(ctx, apierror.StatusAccessTokenExpired)
		return nil, ErrSessionEnded
	}
	if !req.attached.Complete() {
		log.Info("expired credential without a refreshable pair")
		c.terminator.Terminate(ctx, "MISSING_CREDENTIALS")
		return nil, ErrSessionEnded
	}

	refresher := c.getRefresher()
	if refresher == nil {
		return nil, err
	}

	if rerr := c.refresh(ctx, refresher, req.attached); rerr != nil {
		return nil, rerr
	}

	c.metrics.ObserveReplay()
	return c.pipeline.replay(ctx, req)
}

// refresh runs one refresh per refresh token at a time and classifies its failure.
func (c *refreshCoordinator) refresh(ctx context.Context, refresher Refresher, pair credential.Pair) error {
	_, err, shared := c.flight.Do(pair.RefreshToken, func() (interface{}, error) {
		// A request that attached the old pair may arrive after another
		// refresh already rotated it; replaying with the stored pair is enough.
		if current, ok := c.store.AccessToken(ctx); ok && current != pair.AccessToken {
			c.metrics.ObserveRefresh(metrics.RefreshCoalesced)
			return nil, nil
		}
		err := refresher.RefreshCredentials(context.WithoutCancel(ctx), pair.AccessToken, pair.RefreshToken)
		c.metrics.ObserveRefresh(refreshResult(err))
		return nil, err
	})
	log := logger.L(ctx, c.logger).With(zap.Bool("shared", shared))

	switch {
	case err == nil:
		log.Debug("credential refreshed")
		return nil
	case errors.Is(err, ErrAbandoned):
		return err
	case apierror.HasStatus(err, apierror.StatusAccessTokenStillValid):
		log.Debug("refresh refused, access token still valid")
		return ErrAbandoned
	case apierror.IsTerminalRefreshStatus(apierror.StatusOf(err)):
		status := apierror.StatusOf(err)
		log.Info("refresh rejected, ending session", zap.String("status", status))
		c.terminator.Terminate(ctx, status)
		return ErrSessionEnded
	default:
		log.Warn("refresh failed", zap.Error(err))
		return err
	}
}

func refreshResult(err error) string {
	switch {
	case err == nil:
		return metrics.RefreshSucceeded
	case errors.Is(err, ErrAbandoned):
		return metrics.RefreshTerminal
	case apierror.HasStatus(err, apierror.StatusAccessTokenStillValid):
		return metrics.RefreshSwallowed
	case apierror.IsTerminalRefreshStatus(apierror.StatusOf(err)):
		return metrics.RefreshTerminal
	default:
		return metrics.RefreshFailed
	}
}

func normalizePath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
