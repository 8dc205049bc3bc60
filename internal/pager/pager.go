// Package pager presents a page window over a cached, server-ordered
// collection.
package pager

import (
	"context"
	"sync"

	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/query"
)

// KeyFunc returns the cache key of a 1-based page.
type KeyFunc func(page, limit int) query.Key

// LoadFunc reads a 1-based page from the API.
type LoadFunc func(ctx context.Context, page, limit int) (*model.Page, error)

// State is what a list screen renders.
type State[T model.Resource] struct {
	Items     []T
	Total     int
	IsLoading bool
	Err       error
	PageIndex int // 0-based
	PageCount int
	PageSize  int
}

// HasNext reports whether a later page exists.
func (s State[T]) HasNext() bool { return s.PageIndex+1 < s.PageCount }

// HasPrev reports whether an earlier page exists.
func (s State[T]) HasPrev() bool { return s.PageIndex > 0 }

// Option configures a Pager.
type Option func(*options)

type options struct {
	pageSize  int
	pageIndex int
}

// WithPageSize sets the initial page size.
func WithPageSize(n int) Option {
	return func(o *options) {
		o.pageSize = n
	}
}

// WithPageIndex sets the initial 0-based page.
func WithPageIndex(i int) Option {
	return func(o *options) {
		o.pageIndex = i
	}
}

// Pager is safe for concurrent use.
type Pager[T model.Resource] struct {
	cache *query.Cache
	key   KeyFunc
	load  LoadFunc

	mu        sync.Mutex
	pageIndex int
	limit     int
	shown     *model.Page // last page with data, kept while the next one loads
	observed  query.Key
	release   func()
}

// New creates a Pager over cache. Nothing is fetched until Load.
func New[T model.Resource](cache *query.Cache, key KeyFunc, load LoadFunc, opts ...Option) *Pager[T] {
	o := options{pageSize: constants.DefaultPageSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pageSize <= 0 {
		o.pageSize = constants.DefaultPageSize
	}
	if o.pageIndex < 0 {
		o.pageIndex = 0
	}
	return &Pager[T]{
		cache:     cache,
		key:       key,
		load:      load,
		pageIndex: o.pageIndex,
		limit:     o.pageSize,
	}
}

// Key is the cache key of the currently requested page.
func (p *Pager[T]) Key() query.Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key(p.pageIndex+1, p.limit)
}

// State derives the view from the cache. While the requested page has no
// data yet the previously shown page stays visible.
func (p *Pager[T]) State() State[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := p.cache.Get(p.key(p.pageIndex+1, p.limit))
	data := entry.Data
	if data != nil {
		p.shown = data
	} else {
		data = p.shown
	}

	s := State[T]{
		IsLoading: entry.Status == query.StatusFetching,
		Err:       entry.Err,
		PageIndex: p.pageIndex,
		PageSize:  p.limit,
	}
	if data != nil {
		s.Total = data.Total
		s.PageCount = pageCount(data.Total, p.limit)
		s.Items = make([]T, 0, len(data.Items))
		for _, it := range data.Items {
			if v, ok := it.(T); ok {
				s.Items = append(s.Items, v)
			}
		}
	}
	return s
}

// SetPage moves to page index (0-based), clamped to the known page range,
// and loads it.
func (p *Pager[T]) SetPage(ctx context.Context, index int) error {
	p.mu.Lock()
	p.rememberLocked()
	last := max(p.knownPageCountLocked()-1, 0)
	p.pageIndex = min(max(index, 0), last)
	p.mu.Unlock()
	return p.Load(ctx)
}

// SetPageSize changes the limit and returns to the first page.
func (p *Pager[T]) SetPageSize(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = 1
	}
	p.mu.Lock()
	p.rememberLocked()
	p.limit = limit
	p.pageIndex = 0
	p.mu.Unlock()
	return p.Load(ctx)
}

// Next and Prev step one page.
func (p *Pager[T]) Next(ctx context.Context) error {
	return p.SetPage(ctx, p.State().PageIndex+1)
}

func (p *Pager[T]) Prev(ctx context.Context) error {
	return p.SetPage(ctx, p.State().PageIndex-1)
}

// Load returns cached data for the current page when fresh, otherwise
// fetches it.
func (p *Pager[T]) Load(ctx context.Context) error {
	key, load := p.current()
	_, err := p.cache.Ensure(ctx, key, load)
	return err
}

// Refresh fetches the current page regardless of freshness.
func (p *Pager[T]) Refresh(ctx context.Context) error {
	key, load := p.current()
	_, err := p.cache.Fetch(ctx, key, load)
	return err
}

// Close stops refetching the current page on invalidation.
func (p *Pager[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.release != nil {
		p.release()
		p.release = nil
	}
}

// current returns the key and loader of the requested page and moves the
// cache observation to it.
func (p *Pager[T]) current() (query.Key, query.Loader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, limit := p.pageIndex+1, p.limit
	key := p.key(page, limit)
	load := func(ctx context.Context) (*model.Page, error) {
		return p.load(ctx, page, limit)
	}
	if p.release == nil || key != p.observed {
		if p.release != nil {
			p.release()
		}
		p.release = p.cache.Observe(key, load)
		p.observed = key
	}
	return key, load
}

// rememberLocked keeps the current page's data on screen across a page
// change.
func (p *Pager[T]) rememberLocked() {
	if e, ok := p.cache.Peek(p.key(p.pageIndex+1, p.limit)); ok && e.Data != nil {
		p.shown = e.Data
	}
}

// knownPageCountLocked uses the requested page if cached, else whatever is
// on screen.
func (p *Pager[T]) knownPageCountLocked() int {
	if e, ok := p.cache.Peek(p.key(p.pageIndex+1, p.limit)); ok && e.Data != nil {
		return pageCount(e.Data.Total, p.limit)
	}
	if p.shown != nil {
		return pageCount(p.shown.Total, p.limit)
	}
	return 0
}

func pageCount(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
