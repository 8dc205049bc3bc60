// Package reconcile folds realtime progress events into cached query data.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/query"
	"github.com/spiffcs/testdeck/internal/realtime"
)

// Kinds whose entries belong to a single resource, keyed by an id param.
var detailKinds = []string{model.KindTestFile, model.KindReport, model.KindReportDetails}

// buffered is an event waiting for its resource, or the last event applied
// to a resource.
type buffered struct {
	ev model.ProgressEvent
	at time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTTL sets how long an unmatched event waits for its resource to show
// up in the cache.
func WithTTL(d time.Duration) Option {
	return func(r *Reconciler) {
		r.ttl = d
	}
}

// WithRetention sets how long the last applied event of a resource is kept
// to correct reads that were issued before it arrived.
func WithRetention(d time.Duration) Option {
	return func(r *Reconciler) {
		r.retain = d
	}
}

// WithSweepInterval sets how often expired events are purged.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.sweepEvery = d
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithOnTerminal runs fn for every event that ends a job, after it has been
// applied.
func WithOnTerminal(fn func(model.ProgressEvent)) Option {
	return func(r *Reconciler) {
		r.onTerminal = fn
	}
}

// Reconciler applies events to every cache entry holding the event's
// resource. Events for resources not cached yet are buffered and replayed
// when a cache change makes the resource appear. The last event applied to
// each resource is re-applied when a response that is older than the event
// replaces cached data.
type Reconciler struct {
	cache      *query.Cache
	ttl        time.Duration
	retain     time.Duration
	sweepEvery time.Duration
	now        func() time.Time
	onTerminal func(model.ProgressEvent)

	mu        sync.Mutex
	unmatched map[string][]buffered
	latest    map[string]buffered
}

// New creates a Reconciler over cache.
func New(cache *query.Cache, opts ...Option) *Reconciler {
	r := &Reconciler{
		cache:      cache,
		ttl:        constants.UnmatchedEventTTL,
		retain:     constants.AppliedEventRetention,
		sweepEvery: constants.ReconcileSweepInterval,
		now:        time.Now,
		unmatched:  make(map[string][]buffered),
		latest:     make(map[string]buffered),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run applies events from l until ctx is done or l is closed.
func (r *Reconciler) Run(ctx context.Context, l *realtime.Listener) error {
	changes, stop := r.cache.Watch()
	defer stop()
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.Ready():
			for _, ev := range l.Drain() {
				r.Apply(ev)
			}
			if l.Closed() {
				return nil
			}
		case key := <-changes:
			r.replayKey(key)
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Apply folds ev into the cache and reports whether any entry held the
// resource. Unmatched events are buffered.
func (r *Reconciler) Apply(ev model.ProgressEvent) bool {
	keys := r.cache.Containing(ev.ResourceID)
	if len(keys) == 0 {
		r.buffer(ev)
		return false
	}

	r.mu.Lock()
	earlier := r.unmatched[ev.ResourceID]
	delete(r.unmatched, ev.ResourceID)
	r.mu.Unlock()
	for _, b := range earlier {
		r.apply(b.ev, keys)
	}
	r.apply(ev, keys)
	return true
}

func (r *Reconciler) apply(ev model.ProgressEvent, keys []query.Key) {
	r.remember(ev)
	for _, key := range keys {
		r.cache.Set(key, model.ApplyProgress(ev))
	}
	log.Trace("progress applied", "resource", ev.ResourceID, "progress", ev.Progress, "entries", len(keys))
	if !ev.Terminal() {
		return
	}

	// Lists already carry the final status. Detail reads and the rows
	// produced by the job are refreshed from the server.
	r.cache.Invalidate(func(k query.Key) bool {
		switch {
		case query.And(query.KindIs(detailKinds...), query.HasParam("id", ev.ResourceID))(k):
			return true
		case k.Kind == model.KindTestcases && k.Param("file_id") == ev.ResourceID:
			return true
		}
		return false
	})
	log.Debug("job finished", "resource", ev.ResourceID, "status", ev.Status)
	if r.onTerminal != nil {
		r.onTerminal(ev)
	}
}

func (r *Reconciler) buffer(ev model.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unmatched[ev.ResourceID] = append(r.unmatched[ev.ResourceID], buffered{ev: ev, at: r.now()})
	log.Trace("event buffered", "resource", ev.ResourceID)
}

// replayKey replays buffered events whose resource key now holds and
// corrects resources it shows behind their last applied event.
func (r *Reconciler) replayKey(key query.Key) {
	entry, ok := r.cache.Peek(key)
	if !ok || entry.Data == nil {
		return
	}
	for _, id := range r.bufferedIDs() {
		if entry.Data.Contains(id) {
			r.replay(id)
		}
	}
	for _, id := range r.latestIDs() {
		if entry.Data.Contains(id) {
			r.catchUp(id)
		}
	}
}

// remember records ev as the last event applied to its resource. A
// finished job is not reopened by a later non-terminal event.
func (r *Reconciler) remember(ev model.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.latest[ev.ResourceID]; ok && prev.ev.Terminal() && !ev.Terminal() {
		return
	}
	r.latest[ev.ResourceID] = buffered{ev: ev, at: r.now()}
}

// catchUp re-applies the last event of id to every entry showing the
// resource behind it. Entries only move forward. The event is forgotten
// once a read made after it shows the job finished everywhere.
func (r *Reconciler) catchUp(id string) {
	r.mu.Lock()
	last, ok := r.latest[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	keys := r.cache.Containing(id)
	finished := len(keys) > 0
	readAfter := false
	for _, key := range keys {
		entry, ok := r.cache.Peek(key)
		if !ok || entry.Data == nil {
			continue
		}
		i := entry.Data.IndexOf(id)
		if i < 0 {
			continue
		}
		item, ok := entry.Data.Items[i].(model.Progressive)
		if !ok {
			finished = false
			continue
		}
		status, progress := item.ProgressState()
		if last.ev.Advances(status, progress) {
			log.Debug("reapplying progress over an older read", "key", key, "resource", id,
				"cached", status, "event", last.ev.Status, "progress", last.ev.Progress)
			r.cache.Set(key, model.ApplyProgress(last.ev))
			finished = false
			continue
		}
		if !status.Terminal() || entry.Status == query.StatusFetching {
			finished = false
		}
		if entry.FetchedAt.After(last.at) {
			readAfter = true
		}
	}

	if finished && readAfter {
		r.forget(id, last)
	}
}

func (r *Reconciler) forget(id string, last buffered) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.latest[id]; ok && cur == last {
		delete(r.latest, id)
		log.Trace("applied event settled", "resource", id)
	}
}

func (r *Reconciler) replay(id string) {
	keys := r.cache.Containing(id)
	if len(keys) == 0 {
		return
	}
	r.mu.Lock()
	events := r.unmatched[id]
	delete(r.unmatched, id)
	r.mu.Unlock()
	if len(events) > 0 {
		log.Debug("replaying buffered events", "resource", id, "count", len(events))
	}
	for _, b := range events {
		r.apply(b.ev, keys)
	}
}

// Sweep drops expired events and replays any whose resource has appeared
// without a change notification reaching Run.
func (r *Reconciler) Sweep() {
	now := r.now()
	r.mu.Lock()
	for id, events := range r.unmatched {
		kept := events[:0]
		for _, b := range events {
			if now.Sub(b.at) < r.ttl {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			delete(r.unmatched, id)
			log.Debug("unmatched events expired", "resource", id, "count", len(events))
			continue
		}
		r.unmatched[id] = kept
	}
	for id, last := range r.latest {
		if now.Sub(last.at) >= r.retain {
			delete(r.latest, id)
		}
	}
	r.mu.Unlock()

	for _, id := range r.bufferedIDs() {
		r.replay(id)
	}
	for _, id := range r.latestIDs() {
		r.catchUp(id)
	}
}

// Buffered counts unmatched events held for id.
func (r *Reconciler) Buffered(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unmatched[id])
}

// Remembered reports whether the last event applied to id is still kept.
func (r *Reconciler) Remembered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.latest[id]
	return ok
}

func (r *Reconciler) latestIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.latest))
	for id := range r.latest {
		ids = append(ids, id)
	}
	return ids
}

func (r *Reconciler) bufferedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.unmatched))
	for id := range r.unmatched {
		ids = append(ids, id)
	}
	return ids
}
