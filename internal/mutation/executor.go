// Package mutation runs API writes with optimistic cache edits that are
// confirmed or rolled back when the call settles.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/query"
)

// Operation describes one write.
type Operation[R any] struct {
	// Name groups operations for IsPending, e.g. "upload".
	Name string

	// Optimistic edits are visible before Call is issued.
	Optimistic []query.Edit

	// Call performs the write. A non-nil error rolls back Optimistic.
	Call func(ctx context.Context) (R, error)

	// Confirm returns edits applied to authoritative data once Call
	// succeeds, in the same step that drops the optimistic edits.
	Confirm func(R) []query.Edit

	// Invalidate selects keys to refetch after success, for changes the
	// client cannot reproduce exactly (e.g. deletes shifting later pages).
	Invalidate func(R) query.Predicate
}

// Executor tracks in-flight operations. It is safe for concurrent use.
type Executor struct {
	cache *query.Cache
	newID func() string

	mu      sync.Mutex
	pending map[string]int
}

// Option configures an Executor.
type Option func(*Executor)

// WithIDFunc overrides correlation id generation.
func WithIDFunc(fn func() string) Option {
	return func(e *Executor) {
		e.newID = fn
	}
}

// New creates an Executor writing to cache.
func New(cache *query.Cache, opts ...Option) *Executor {
	e := &Executor{
		cache:   cache,
		newID:   uuid.NewString,
		pending: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op. Optimistic edits are applied before the call and
// reconciled after it; on failure no part of them stays visible and the
// error is returned wrapped with the operation name.
func Execute[R any](ctx context.Context, e *Executor, op Operation[R]) (R, error) {
	id := e.newID()
	e.begin(op.Name)
	defer e.end(op.Name)

	var touched []query.Key
	for _, ed := range op.Optimistic {
		touched = append(touched, e.cache.ApplyOptimistic(id, ed.Match, ed.Apply)...)
	}
	log.Debug("mutation started", "op", op.Name, "id", id, "optimistic", len(touched))

	res, err := op.Call(ctx)
	if err != nil {
		e.cache.Rollback(id)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The server may have applied the write; read it back.
			e.cache.Invalidate(keySet(touched))
		}
		log.Info("mutation failed", "op", op.Name, "id", id, "error", err)
		return res, fmt.Errorf("%s: %w", op.Name, err)
	}

	var confirmed []query.Edit
	if op.Confirm != nil {
		confirmed = op.Confirm(res)
	}
	e.cache.Settle(id, confirmed...)

	if op.Invalidate != nil {
		if pred := op.Invalidate(res); pred != nil {
			e.cache.Invalidate(pred)
		}
	}
	log.Debug("mutation settled", "op", op.Name, "id", id)
	return res, nil
}

// IsPending reports whether an operation with the given name is in flight.
func (e *Executor) IsPending(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[name] > 0
}

// InFlight returns the number of operations in flight.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.pending {
		n += c
	}
	return n
}

func (e *Executor) begin(name string) {
	e.mu.Lock()
	e.pending[name]++
	e.mu.Unlock()
}

func (e *Executor) end(name string) {
	e.mu.Lock()
	if e.pending[name]--; e.pending[name] <= 0 {
		delete(e.pending, name)
	}
	e.mu.Unlock()
}

func keySet(keys []query.Key) query.Predicate {
	set := make(map[query.Key]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return func(k query.Key) bool {
		_, ok := set[k]
		return ok
	}
}
