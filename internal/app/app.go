// Package app wires configuration, storage, the request pipeline, the auth
// orchestrator and the admin resources into one console session.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/erp/adminconsole/internal/admin"
	"github.com/erp/adminconsole/internal/auth"
	"github.com/erp/adminconsole/internal/client"
	"github.com/erp/adminconsole/internal/credential"
	"github.com/erp/adminconsole/internal/infrastructure/config"
	"github.com/erp/adminconsole/internal/infrastructure/logger"
	"github.com/erp/adminconsole/internal/infrastructure/metrics"
	"github.com/erp/adminconsole/internal/session"
)

// App is a fully wired console.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Store      *credential.Store
	Terminator *session.Terminator
	Client     *client.Client
	Auth       *auth.Service
	Console    *admin.Console
}

type options struct {
	logger     *zap.Logger
	storage    credential.Storage
	navigator  session.Navigator
	httpClient *http.Client
}

// Option overrides a wired component.
type Option func(*options)

// WithLogger replaces the logger built from the log config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStorage replaces the storage built from the storage config.
func WithStorage(s credential.Storage) Option {
	return func(o *options) { o.storage = s }
}

// WithNavigator replaces the default re-login hint printed to stderr.
func WithNavigator(n session.Navigator) Option {
	return func(o *options) { o.navigator = n }
}

// WithHTTPClient replaces the pipeline's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New builds an App from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		var err error
		log, err = logger.New(&logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: cfg.Log.Output,
		})
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
	}
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	m := metrics.New(cfg.Metrics.Namespace)

	storage := o.storage
	if storage == nil {
		var err error
		storage, err = credential.NewStorageFactory(cfg.Storage,
			credential.WithFactoryLogger(log.Named("storage")),
		).Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating credential storage: %w", err)
		}
	}
	store := credential.NewStore(storage, credential.WithLogger(log.Named("credentials")))

	nav := o.navigator
	if nav == nil {
		nav = NewHintNavigator(os.Stderr)
	}
	terminator := session.NewTerminator(store, nav,
		session.WithLogger(log.Named("session")),
		session.WithMetrics(m),
	)

	clientOpts := []client.Option{client.WithLogger(log.Named("client")), client.WithMetrics(m)}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(o.httpClient))
	}
	c, err := client.New(client.Config{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		UserAgent:      cfg.API.UserAgent,
		RateLimitQPS:   cfg.API.RateLimitQPS,
		RateLimitBurst: cfg.API.RateLimitBurst,
	}, store, terminator, clientOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating API client: %w", err)
	}

	console := admin.NewConsole(c,
		admin.WithPageSize(cfg.Cache.PageSize),
		admin.WithLogger(log.Named("admin")),
		admin.WithMetrics(m),
	)
	authService := auth.NewService(c, store, terminator,
		auth.WithLogger(log.Named("auth")),
		auth.WithClearers(console),
	)

	return &App{
		Config:     cfg,
		Logger:     log,
		Metrics:    m,
		Store:      store,
		Terminator: terminator,
		Client:     c,
		Auth:       authService,
		Console:    console,
	}, nil
}

// Close releases the credential storage and flushes logs.
func (a *App) Close() error {
	err := a.Store.Close()
	_ = a.Logger.Sync()
	return err
}

// HintNavigator is the CLI's "login page": it tells the operator once per
// session to sign in again.
type HintNavigator struct {
	mu  sync.Mutex
	out io.Writer
}

// NewHintNavigator writes hints to out.
func NewHintNavigator(out io.Writer) *HintNavigator {
	return &HintNavigator{out: out}
}

func (n *HintNavigator) ToLogin(_ context.Context, reason string) {
	if reason == auth.LogoutReason {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.out, "session ended (%s): run 'adminctl login' to sign in again\n", reason)
}
