// Package pagecache keeps fetched list pages in memory and patches them
// after mutations so page turns do not always need a round trip.
package pagecache

import (
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/erp/adminconsole/internal/infrastructure/metrics"
)

// DefaultPageSize is used when a cache is created with a non-positive size.
const DefaultPageSize = 20

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64
	Misses int64
	Pages  int
}

// Cache maps a 0-based page index to the items last fetched for it.
// The total record count and the page size are tracked alongside.
type Cache[T any] struct {
	mu       sync.Mutex
	pages    map[int][]T
	total    int64
	pageSize int
	// gen changes on every mutation so fetches started earlier can be discarded
	gen uint64

	resource string
	logger   *zap.Logger
	metrics  *metrics.Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	resource string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// WithLogger sets the logger for the cache
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records hits and misses under the given resource label.
func WithMetrics(m *metrics.Metrics, resource string) Option {
	return func(o *options) {
		o.metrics = m
		o.resource = resource
	}
}

// New creates an empty cache.
func New[T any](pageSize int, opts ...Option) *Cache[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cache[T]{
		pages:    make(map[int][]T),
		pageSize: pageSize,
		resource: o.resource,
		logger:   o.logger,
		metrics:  o.metrics,
	}
}

// Get returns a copy of the cached page.
func (c *Cache[T]) Get(page int) ([]T, bool) {
	c.mu.Lock()
	items, ok := c.pages[page]
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.metrics.ObserveCacheLookup(c.resource, ok)
	if !ok {
		return nil, false
	}
	return slices.Clone(items), true
}

// Set stores the items fetched for page.
func (c *Cache[T]) Set(page int, items []T) {
	if page < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[page] = slices.Clone(items)
}

// Clear drops every cached page. The total is kept.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Cache[T]) clearLocked() {
	if len(c.pages) > 0 {
		c.logger.Debug("page cache cleared", zap.String("resource", c.resource), zap.Int("pages", len(c.pages)))
	}
	clear(c.pages)
	c.gen++
}

// Evict drops a single page.
func (c *Cache[T]) Evict(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pages, page)
	c.gen++
}

func (c *Cache[T]) PageSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageSize
}

// SetPageSize changes the page size. Page boundaries depend on it, so any
// change clears the cache.
func (c *Cache[T]) SetPageSize(size int) {
	if size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if size == c.pageSize {
		return
	}
	c.pageSize = size
	c.clearLocked()
}

// fetchState returns the page size a fetch should use and the generation it
// must hand back to storeFetched.
func (c *Cache[T]) fetchState() (int, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageSize, c.gen
}

// storeFetched stores a fetched page and total unless the cache was mutated
// after gen was taken.
func (c *Cache[T]) storeFetched(gen uint64, page int, items []T, total int64) bool {
	if page < 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.pages[page] = slices.Clone(items)
	c.total = max(total, 0)
	return true
}

func (c *Cache[T]) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// SetTotal records the total reported by the server.
func (c *Cache[T]) SetTotal(total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = max(total, 0)
}

// RecordInsert applies a successful create of item while page was active.
// A page with room gets the item appended in place. A full or uncached page
// clears everything, because every later page boundary shifts.
func (c *Cache[T]) RecordInsert(page int, item T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	items, ok := c.pages[page]
	if ok && len(items) < c.pageSize {
		c.pages[page] = append(items, item)
		c.gen++
		return
	}
	c.clearLocked()
}

// RecordDelete applies a successful delete on page: the page is evicted and
// refetched on next access, and the total drops by one.
func (c *Cache[T]) RecordDelete(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pages, page)
	if c.total > 0 {
		c.total--
	}
	c.gen++
}

// RecordUpdate replaces the item at index on page. Uncached pages and
// out-of-range indexes are left alone.
func (c *Cache[T]) RecordUpdate(page, index int, item T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	items, ok := c.pages[page]
	if !ok || index < 0 || index >= len(items) {
		return
	}
	items = slices.Clone(items)
	items[index] = item
	c.pages[page] = items
}

// Stats returns lookup counters and the number of cached pages.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	pages := len(c.pages)
	c.mu.Unlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Pages: pages}
}
