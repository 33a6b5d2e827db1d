package pagecache

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// State is the lifecycle state of a ListView.
type State int

const (
	Idle State = iota
	Loading
	Success
	Failure
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Loading:
		return "LOADING"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Fetcher loads one page from the server and reports the total record count.
type Fetcher[T any] func(ctx context.Context, page, size int) (items []T, total int64, err error)

// ListView drives one paginated list: it serves pages from the cache when it
// can and fetches otherwise. A failed fetch leaves the cache untouched.
type ListView[T any] struct {
	cache  *Cache[T]
	fetch  Fetcher[T]
	logger *zap.Logger

	mu    sync.Mutex
	state State
	page  int
	items []T
	err   error
	seq   uint64
}

// ViewOption configures a ListView.
type ViewOption func(*viewOptions)

type viewOptions struct {
	logger *zap.Logger
}

// WithViewLogger sets the logger for the view.
func WithViewLogger(l *zap.Logger) ViewOption {
	return func(o *viewOptions) { o.logger = l }
}

// NewListView creates an idle view over cache.
func NewListView[T any](cache *Cache[T], fetch Fetcher[T], opts ...ViewOption) *ListView[T] {
	o := viewOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &ListView[T]{cache: cache, fetch: fetch, logger: o.logger}
}

// Load shows page. A cache hit goes straight to SUCCESS without a fetch.
func (v *ListView[T]) Load(ctx context.Context, page int) ([]T, error) {
	if page < 0 {
		return nil, fmt.Errorf("invalid page index %d", page)
	}

	if items, ok := v.cache.Get(page); ok {
		v.mu.Lock()
		v.seq++
		v.state, v.page, v.items, v.err = Success, page, items, nil
		v.mu.Unlock()
		return slices.Clone(items), nil
	}

	size, gen := v.cache.fetchState()

	v.mu.Lock()
	v.seq++
	seq := v.seq
	v.state, v.page, v.err = Loading, page, nil
	v.mu.Unlock()

	items, total, err := v.fetch(ctx, page, size)

	v.mu.Lock()
	defer v.mu.Unlock()
	current := seq == v.seq

	if err != nil {
		if current {
			v.state, v.err = Failure, err
		}
		v.logger.Debug("page load failed", zap.Int("page", page), zap.Error(err))
		return nil, err
	}

	// a mutation or size change while fetching makes this result stale
	if !v.cache.storeFetched(gen, page, items, total) {
		v.logger.Debug("discarding stale page", zap.Int("page", page))
	}
	if current {
		v.state, v.items = Success, slices.Clone(items)
	}
	return items, nil
}

// SetPageSize changes the page size, which clears the cache, and reloads the first page.
func (v *ListView[T]) SetPageSize(ctx context.Context, size int) ([]T, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid page size %d", size)
	}
	v.cache.SetPageSize(size)
	return v.Load(ctx, 0)
}

// Refresh discards the current page and fetches it again.
func (v *ListView[T]) Refresh(ctx context.Context) ([]T, error) {
	page := v.Page()
	v.cache.Evict(page)
	return v.Load(ctx, page)
}

// Inserted records a successful create while the current page was shown.
func (v *ListView[T]) Inserted(item T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache.RecordInsert(v.page, item)
	v.syncLocked()
}

// Deleted records a successful delete from the current page.
func (v *ListView[T]) Deleted() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache.RecordDelete(v.page)
	v.syncLocked()
}

// Updated records a successful in-place edit of the item at index on the current page.
func (v *ListView[T]) Updated(index int, item T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache.RecordUpdate(v.page, index, item)
	v.syncLocked()
}

// syncLocked mirrors the cached page into the view. When the page was
// evicted the view keeps its items until the next Load.
func (v *ListView[T]) syncLocked() {
	v.cache.mu.Lock()
	items, ok := v.cache.pages[v.page]
	v.cache.mu.Unlock()
	if ok {
		v.items = slices.Clone(items)
	}
}

func (v *ListView[T]) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *ListView[T]) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// Items returns the items of the last successful load.
func (v *ListView[T]) Items() []T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.items)
}

// Err returns the error of the last failed load.
func (v *ListView[T]) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Total is the record count last reported by the server, adjusted by mutations.
func (v *ListView[T]) Total() int64 {
	return v.cache.Total()
}

// TotalPages derives the page count from Total and the page size.
func (v *ListView[T]) TotalPages() int {
	size := int64(v.cache.PageSize())
	return int((v.cache.Total() + size - 1) / size)
}

// Cache exposes the underlying page cache.
func (v *ListView[T]) Cache() *Cache[T] {
	return v.cache
}
