// Package query is an in-memory request/response cache keyed by logical
// queries. It deduplicates concurrent reads, discards responses to
// superseded requests and layers optimistic edits over server data.
package query

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/model"
	"golang.org/x/sync/singleflight"
)

// ErrStaleResponse marks a response whose request was superseded. It never
// leaves this package.
var ErrStaleResponse = errors.New("stale response discarded")

// Status of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusFetching
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusFetching:
		return "fetching"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// Loader reads one key from the API.
type Loader func(ctx context.Context) (*model.Page, error)

// Entry is a read-only snapshot of a cached query. Data already has pending
// optimistic edits applied and must not be modified.
type Entry struct {
	Key       Key
	Status    Status
	Data      *model.Page
	Err       error
	FetchedAt time.Time
	RequestID uint64
	Stale     bool
	Version   uint64
}

// Edit applies Apply to every entry whose key matches Match.
type Edit struct {
	Match Predicate
	Apply model.Transform
}

type pendingEdit struct {
	id    string
	apply model.Transform
}

type entry struct {
	key       Key
	status    Status
	base      *model.Page // last authoritative data plus confirmed edits
	visible   *model.Page // base with pending edits folded in
	pending   []pendingEdit
	err       error
	fetchedAt time.Time
	inflight  uint64
	stale     bool
	version   uint64
	load      Loader
	observers int
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:       e.key,
		Status:    e.status,
		Data:      e.visible,
		Err:       e.err,
		FetchedAt: e.fetchedAt,
		RequestID: e.inflight,
		Stale:     e.stale,
		Version:   e.version,
	}
}

// recompute folds pending edits over base in the order they were applied.
func (e *entry) recompute() {
	p := e.base
	for _, pe := range e.pending {
		p = pe.apply(p)
	}
	e.visible = p
	e.version++
}

// Option configures a Cache.
type Option func(*Cache)

// WithStaleTime sets how long a successful read satisfies Ensure.
func WithStaleTime(d time.Duration) Option {
	return func(c *Cache) {
		c.staleTime = d
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache is safe for concurrent use. The lock is never held while a loader
// runs.
type Cache struct {
	mu        sync.Mutex
	entries   map[Key]*entry
	group     singleflight.Group
	nextID    uint64
	staleTime time.Duration
	now       func() time.Time
	watchers  map[int]chan Key
	nextWatch int
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:   make(map[Key]*entry),
		staleTime: constants.StaleTime,
		now:       time.Now,
		watchers:  make(map[int]chan Key),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key}
		c.entries[key] = e
	}
	return e
}

// Get returns the entry for key, creating an idle one if absent.
func (c *Cache) Get(key Key) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entryLocked(key).snapshot()
}

// Peek returns the entry for key without creating it.
func (c *Cache) Peek(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// Fetch loads key. Callers arriving while a request for key is in flight
// share its outcome instead of calling load again; cached data stays
// visible meanwhile. The request outlives ctx so other waiters are not
// affected when one caller gives up.
func (c *Cache) Fetch(ctx context.Context, key Key, load Loader) (*model.Page, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.load = load
	if e.inflight == 0 {
		c.nextID++
		e.inflight = c.nextID
		e.status = StatusFetching
		c.notifyLocked(key)
		log.Debug("fetching", "key", key, "request", e.inflight)
	} else {
		log.Debug("joining in-flight request", "key", key, "request", e.inflight)
	}
	reqID := e.inflight
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey(key, reqID), func() (any, error) {
		return c.run(loadCtx, key, reqID, load)
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		page, _ := res.Val.(*model.Page)
		if errors.Is(res.Err, ErrStaleResponse) {
			return page, nil
		}
		return page, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func flightKey(key Key, reqID uint64) string {
	return key.String() + "#" + strconv.FormatUint(reqID, 10)
}

// run executes one request and applies its result only if it is still the
// entry's current request.
func (c *Cache) run(ctx context.Context, key Key, reqID uint64, load Loader) (*model.Page, error) {
	page, err := load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[key]
	if e == nil || e.inflight != reqID {
		log.Debug("discarding superseded response", "key", key, "request", reqID)
		if err != nil {
			return nil, err
		}
		return page, ErrStaleResponse
	}
	e.inflight = 0
	if err != nil {
		e.status = StatusError
		e.err = err
		e.version++
		c.notifyLocked(key)
		log.Debug("fetch failed, keeping cached data", "key", key, "error", err)
		return e.visible, err
	}
	e.status = StatusSuccess
	e.err = nil
	e.stale = false
	e.fetchedAt = c.now()
	e.base = page
	e.recompute()
	c.notifyLocked(key)
	return e.visible, nil
}

// Ensure returns fresh cached data without a request, or fetches.
func (c *Cache) Ensure(ctx context.Context, key Key, load Loader) (*model.Page, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.freshLocked(e) {
		page := e.visible
		c.mu.Unlock()
		log.Trace("cache hit", "key", key)
		return page, nil
	}
	c.mu.Unlock()
	return c.Fetch(ctx, key, load)
}

func (c *Cache) freshLocked(e *entry) bool {
	if e.status != StatusSuccess || e.stale || e.inflight != 0 || e.base == nil {
		return false
	}
	return c.now().Sub(e.fetchedAt) < c.staleTime
}

// Set replaces the authoritative data of key with update(current). Pending
// optimistic edits are replayed on top. update must not modify its argument.
func (c *Cache) Set(key Key, update model.Transform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(c.entryLocked(key), update)
}

func (c *Cache) setLocked(e *entry, update model.Transform) {
	next := update(e.base)
	if next == e.base {
		return
	}
	if e.base == nil && e.status == StatusIdle {
		e.status = StatusSuccess
		e.fetchedAt = c.now()
	}
	e.base = next
	e.recompute()
	c.notifyLocked(e.key)
	log.Trace("cache set", "key", e.key, "version", e.version)
}

// Invalidate marks matching entries stale and returns their keys. A request
// in flight for a matching key is superseded: its response is discarded.
// Entries with observers are refetched in the background.
func (c *Cache) Invalidate(match Predicate) []Key {
	type refetch struct {
		key  Key
		load Loader
	}
	var (
		keys []Key
		todo []refetch
	)

	c.mu.Lock()
	for key, e := range c.entries {
		if !match(key) {
			continue
		}
		keys = append(keys, key)
		e.stale = true
		if e.inflight != 0 {
			e.inflight = 0
			if e.base != nil {
				e.status = StatusSuccess
			} else {
				e.status = StatusIdle
			}
		}
		e.version++
		c.notifyLocked(key)
		if e.observers > 0 && e.load != nil {
			todo = append(todo, refetch{key: key, load: e.load})
		}
	}
	c.mu.Unlock()

	if len(keys) > 0 {
		log.Debug("invalidated", "count", len(keys), "refetching", len(todo))
	}
	for _, r := range todo {
		go func() {
			if _, err := c.Fetch(context.Background(), r.key, r.load); err != nil {
				log.Debug("background refetch failed", "key", r.key, "error", err)
			}
		}()
	}
	return keys
}

// Observe marks key as displayed so invalidation refetches it. Call the
// returned func when the key is no longer shown.
func (c *Cache) Observe(key Key, load Loader) (release func()) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.observers++
	e.load = load
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if e.observers > 0 {
				e.observers--
			}
			c.mu.Unlock()
		})
	}
}

// ApplyOptimistic registers update under id on every existing entry that
// matches and returns the affected keys.
func (c *Cache) ApplyOptimistic(id string, match Predicate, update model.Transform) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []Key
	for key, e := range c.entries {
		if !match(key) {
			continue
		}
		e.pending = append(e.pending, pendingEdit{id: id, apply: update})
		e.recompute()
		c.notifyLocked(key)
		keys = append(keys, key)
	}
	log.Debug("optimistic edit applied", "id", id, "entries", len(keys))
	return keys
}

// Settle removes the pending edits registered under id and, in the same
// step, applies the confirmed edits to authoritative data. Observers never
// see the state between the two.
func (c *Cache) Settle(id string, confirmed ...Edit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		changed := false
		kept := e.pending[:0:0]
		for _, pe := range e.pending {
			if pe.id == id {
				changed = true
				continue
			}
			kept = append(kept, pe)
		}
		if changed {
			e.pending = kept
		}
		base := e.base
		for _, ed := range confirmed {
			if ed.Match(key) {
				base = ed.Apply(base)
			}
		}
		if base != e.base {
			if e.base == nil && e.status == StatusIdle {
				e.status = StatusSuccess
				e.fetchedAt = c.now()
			}
			e.base = base
			changed = true
		}
		if changed {
			e.recompute()
			c.notifyLocked(key)
		}
	}
}

// Rollback discards the pending edits registered under id. With nothing
// else changed, visible data is deep-equal to what it was before the edit.
func (c *Cache) Rollback(id string) {
	c.Settle(id)
	log.Debug("optimistic edit rolled back", "id", id)
}

// Keys lists the cached keys matching match.
func (c *Cache) Keys(match Predicate) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []Key
	for key := range c.entries {
		if match(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Containing lists the keys whose visible data holds the resource id.
func (c *Cache) Containing(id string) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []Key
	for key, e := range c.entries {
		if e.visible.Contains(id) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Watch returns a channel receiving the key of every entry that changes.
// Notifications are dropped for a watcher that falls behind.
func (c *Cache) Watch() (<-chan Key, func()) {
	ch := make(chan Key, 64)
	c.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Cache) notifyLocked(key Key) {
	for _, ch := range c.watchers {
		select {
		case ch <- key:
		default:
		}
	}
}
