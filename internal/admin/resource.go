// Package admin manages the console's resources (tutors, students, group
// configs and users) over the authenticated request pipeline, with each
// resource's list pages cached and patched after mutations.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/erp/adminconsole/internal/client"
	"github.com/erp/adminconsole/internal/infrastructure/logger"
	"github.com/erp/adminconsole/internal/infrastructure/metrics"
	"github.com/erp/adminconsole/internal/pagecache"
)

// ErrInvalid wraps local validation failures; nothing was sent.
var ErrInvalid = errors.New("invalid record")

var validate = validator.New()

// selfValidator is implemented by models with rules struct tags cannot express.
type selfValidator interface {
	Validate() error
}

// Resource is one admin collection, e.g. /tutors.
type Resource[T Entity] struct {
	name   string
	client *client.Client
	view   *pagecache.ListView[T]
	logger *zap.Logger
}

type resourceOptions struct {
	pageSize int
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures resources.
type Option func(*resourceOptions)

// WithPageSize sets the initial page size.
func WithPageSize(n int) Option {
	return func(o *resourceOptions) { o.pageSize = n }
}

// WithLogger sets the logger for resources.
func WithLogger(l *zap.Logger) Option {
	return func(o *resourceOptions) { o.logger = l }
}

// WithMetrics records page cache lookups per resource.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *resourceOptions) { o.metrics = m }
}

// NewResource creates the resource served at /name.
func NewResource[T Entity](c *client.Client, name string, opts ...Option) *Resource[T] {
	o := resourceOptions{pageSize: pagecache.DefaultPageSize, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Resource[T]{
		name:   name,
		client: c,
		logger: o.logger.Named(name),
	}
	cache := pagecache.New[T](o.pageSize,
		pagecache.WithLogger(r.logger),
		pagecache.WithMetrics(o.metrics, name),
	)
	r.view = pagecache.NewListView(cache, r.fetchPage, pagecache.WithViewLogger(r.logger))
	return r
}

func (r *Resource[T]) Name() string { return r.name }

func (r *Resource[T]) path(id string) string {
	if id == "" {
		return "/" + r.name
	}
	return "/" + r.name + "/" + url.PathEscape(id)
}

// fetchPage loads the 0-based page index; the API counts pages from 1.
func (r *Resource[T]) fetchPage(ctx context.Context, page, size int) ([]T, int64, error) {
	var items []T
	meta, err := r.client.Fetch(ctx, client.Request{
		Method: http.MethodGet,
		Path:   r.path(""),
		QueryParams: map[string]string{
			"page":      strconv.Itoa(page + 1),
			"page_size": strconv.Itoa(size),
		},
	}, &items)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(items))
	if meta != nil {
		total = meta.Total
	}
	return items, total, nil
}

// List returns the 0-based page, served from cache when possible.
func (r *Resource[T]) List(ctx context.Context, page int) ([]T, error) {
	return r.view.Load(ctx, page)
}

// Refresh refetches the page currently shown.
func (r *Resource[T]) Refresh(ctx context.Context) ([]T, error) {
	return r.view.Refresh(ctx)
}

// SetPageSize changes the page size and reloads the first page.
func (r *Resource[T]) SetPageSize(ctx context.Context, size int) ([]T, error) {
	return r.view.SetPageSize(ctx, size)
}

// View exposes the list state machine.
func (r *Resource[T]) View() *pagecache.ListView[T] {
	return r.view
}

// Get fetches one record.
func (r *Resource[T]) Get(ctx context.Context, id string) (*T, error) {
	var out T
	if _, err := r.client.Fetch(ctx, client.Request{Method: http.MethodGet, Path: r.path(id)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create validates item, creates it and records the insert on the current page.
func (r *Resource[T]) Create(ctx context.Context, item T) (*T, error) {
	if err := check(item); err != nil {
		return nil, err
	}
	var out T
	if _, err := r.client.Fetch(ctx, client.Request{Method: http.MethodPost, Path: r.path(""), Body: item}, &out); err != nil {
		return nil, err
	}
	r.view.Inserted(out)
	logger.L(ctx, r.logger).Debug("record created", zap.String("id", out.EntityID()))
	return &out, nil
}

// Update replaces the record and rewrites it in place if the current page shows it.
func (r *Resource[T]) Update(ctx context.Context, id string, item T) (*T, error) {
	if err := check(item); err != nil {
		return nil, err
	}
	var out T
	if _, err := r.client.Fetch(ctx, client.Request{Method: http.MethodPut, Path: r.path(id), Body: item}, &out); err != nil {
		return nil, err
	}
	if idx := r.indexOf(id); idx >= 0 {
		r.view.Updated(idx, out)
	}
	return &out, nil
}

// Delete removes the record. The current page is evicted when it showed the
// record; otherwise the affected page is unknown and the whole cache goes.
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	if _, err := r.client.Delete(ctx, r.path(id)); err != nil {
		return err
	}
	if r.indexOf(id) >= 0 {
		r.view.Deleted()
		return nil
	}
	cache := r.view.Cache()
	cache.Clear()
	cache.SetTotal(cache.Total() - 1)
	return nil
}

// Paging reports the shown page (0-based) and the known totals.
func (r *Resource[T]) Paging() Paging {
	return Paging{
		Page:       r.view.Page(),
		PageSize:   r.view.Cache().PageSize(),
		Total:      r.view.Total(),
		TotalPages: r.view.TotalPages(),
	}
}

// Clear drops cached pages, e.g. on logout.
func (r *Resource[T]) Clear() {
	r.view.Cache().Clear()
}

// indexOf finds id on the page currently shown, or -1.
func (r *Resource[T]) indexOf(id string) int {
	if r.view.State() != pagecache.Success {
		return -1
	}
	for i, item := range r.view.Items() {
		if item.EntityID() == id {
			return i
		}
	}
	return -1
}

func check(item any) error {
	if err := validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if v, ok := item.(selfValidator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return nil
}

// The untyped methods let callers such as the CLI drive any resource by name.

func (r *Resource[T]) ListAny(ctx context.Context, page int) (any, error) {
	return r.List(ctx, page)
}

func (r *Resource[T]) RefreshAny(ctx context.Context) (any, error) {
	return r.Refresh(ctx)
}

func (r *Resource[T]) GetAny(ctx context.Context, id string) (any, error) {
	return r.Get(ctx, id)
}

// CreateJSON decodes raw into the resource's model and creates it.
func (r *Resource[T]) CreateJSON(ctx context.Context, raw []byte) (any, error) {
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return r.Create(ctx, item)
}

// UpdateJSON fetches the record, overlays raw onto it and saves the result.
func (r *Resource[T]) UpdateJSON(ctx context.Context, id string, raw []byte) (any, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, current); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return r.Update(ctx, id, *current)
}
