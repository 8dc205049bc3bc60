package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/model"
)

// ErrListenerClosed is returned by Next after Close.
var ErrListenerClosed = errors.New("listener closed")

// Listener is a bounded event queue. When full the oldest event is
// dropped: a newer progress value supersedes it.
type Listener struct {
	channel *Channel
	filter  map[string]struct{}
	size    int
	ready   chan struct{}

	mu      sync.Mutex
	queue   []model.ProgressEvent
	dropped int
	closed  bool
}

func newListener(ch *Channel, size int, ids []string) *Listener {
	l := &Listener{
		channel: ch,
		size:    max(size, 1),
		ready:   make(chan struct{}, 1),
	}
	if len(ids) > 0 {
		l.filter = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			l.filter[id] = struct{}{}
		}
	}
	return l
}

func (l *Listener) wants(id string) bool {
	if l.filter == nil {
		return true
	}
	_, ok := l.filter[id]
	return ok
}

func (l *Listener) push(ev model.ProgressEvent) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if len(l.queue) >= l.size {
		l.queue = l.queue[1:]
		l.dropped++
		log.Debug("listener queue full, dropped oldest event", "resource", ev.ResourceID)
	}
	l.queue = append(l.queue, ev)
	l.mu.Unlock()

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// purge discards queued events for id.
func (l *Listener) purge(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.queue[:0]
	for _, ev := range l.queue {
		if ev.ResourceID != id {
			kept = append(kept, ev)
		}
	}
	clear(l.queue[len(kept):])
	l.queue = kept
}

// Ready is signalled when events may be available. Call Drain after each
// signal.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Drain returns and removes all queued events in arrival order.
func (l *Listener) Drain() []model.ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	out := l.queue
	l.queue = nil
	return out
}

// Next blocks until an event is available.
func (l *Listener) Next(ctx context.Context) (model.ProgressEvent, error) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			ev := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return ev, nil
		}
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return model.ProgressEvent{}, ErrListenerClosed
		}

		select {
		case <-l.ready:
		case <-ctx.Done():
			return model.ProgressEvent{}, ctx.Err()
		}
	}
}

// Dropped counts events lost to overflow.
func (l *Listener) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Closed reports whether Close was called.
func (l *Listener) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close detaches the listener from its channel.
func (l *Listener) Close() {
	l.channel.removeListener(l)
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	select {
	case l.ready <- struct{}{}:
	default:
	}
}
