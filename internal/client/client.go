// Package client is the authenticated request pipeline for the admin API.
//
// Every request passes through three stages in a fixed order, on the way out
// and on the way back: error normalization, credential attachment with
// refresh-and-replay, and termination on outright authentication failure.
// Callers get a response, an *apierror.Record, or an error matching
// ErrAbandoned when the pipeline deliberately dropped the request.
package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/erp/adminconsole/internal/apierror"
	"github.com/erp/adminconsole/internal/credential"
	"github.com/erp/adminconsole/internal/infrastructure/logger"
	"github.com/erp/adminconsole/internal/infrastructure/metrics"
)

// Config configures the client.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	UserAgent      string
	RateLimitQPS   float64
	RateLimitBurst int
}

// Client is the entry point for admin API calls.
type Client struct {
	pipeline    *Pipeline
	transport   *Transport
	coordinator *refreshCoordinator
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

type options struct {
	logger     *zap.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
	bypass     []string
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger shared by all stages.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBypassPaths replaces DefaultBypassPaths.
func WithBypassPaths(paths ...string) Option {
	return func(o *options) { o.bypass = paths }
}

// New wires the pipeline. The refresher is attached later with SetRefresher
// because it is usually built on top of this client.
func New(cfg Config, store *credential.Store, terminator SessionTerminator, opts ...Option) (*Client, error) {
	o := options{logger: zap.NewNop(), bypass: DefaultBypassPaths}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	transport, err := newTransport(cfg.BaseURL, httpClient)
	if err != nil {
		return nil, err
	}
	transport.logger = o.logger.Named("transport")
	transport.metrics = o.metrics
	if cfg.UserAgent != "" {
		transport.headers["User-Agent"] = cfg.UserAgent
	}
	if cfg.RateLimitQPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		transport.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitQPS), burst)
	}

	coordinator := newRefreshCoordinator(store, terminator, o.bypass)
	coordinator.logger = o.logger.Named("refresh")
	coordinator.metrics = o.metrics

	pipeline := &Pipeline{
		stages: []Stage{
			errorNormalizer{},
			coordinator,
			authFailureTerminator{terminator: terminator},
		},
		transport: transport,
	}
	coordinator.pipeline = pipeline

	return &Client{
		pipeline:    pipeline,
		transport:   transport,
		coordinator: coordinator,
		logger:      o.logger,
		metrics:     o.metrics,
	}, nil
}

// SetRefresher installs the component that performs credential refreshes.
func (c *Client) SetRefresher(r Refresher) {
	c.coordinator.setRefresher(r)
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.transport.baseURL.String()
}

// Do runs req through the pipeline.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.pipeline.Do(ctx, req)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrAbandoned):
		outcome = "abandoned"
	case err != nil:
		outcome = apierror.StatusOf(err)
	}
	c.metrics.ObserveRequest(req.Method, outcome)
	if err != nil && outcome != "abandoned" {
		logger.L(ctx, c.logger).Debug("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("status", outcome),
		)
	}
	return resp, err
}

// Fetch runs req and decodes the response payload into out.
func (c *Client) Fetch(ctx context.Context, req Request, out interface{}) (*Meta, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return DecodeData(resp, out)
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, queryParams map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, QueryParams: queryParams})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}
