// Package realtime maintains the push connection that delivers progress
// events scoped to a resource id ("room").
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/model"
)

// State of the connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("realtime channel closed")

// SubscriptionError reports that the connection could not be established
// within the configured attempts. Live progress is unknown until Start is
// called again.
type SubscriptionError struct {
	Attempts int
	Err      error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("realtime channel unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Option configures a Channel.
type Option func(*Channel)

// WithReconnect sets the attempt bound and the fixed delay between attempts.
func WithReconnect(attempts int, delay time.Duration) Option {
	return func(c *Channel) {
		c.attempts = attempts
		c.delay = delay
	}
}

// WithQueueSize sets the per-listener buffer.
func WithQueueSize(n int) Option {
	return func(c *Channel) {
		c.queueSize = n
	}
}

// WithOnReconnect runs fn after every successful reconnect, once rooms
// have been re-joined.
func WithOnReconnect(fn func()) Option {
	return func(c *Channel) {
		c.onReconnect = fn
	}
}

// Channel is one logical push connection per session. It is safe for
// concurrent use.
type Channel struct {
	dialer      Dialer
	attempts    int
	delay       time.Duration
	queueSize   int
	onReconnect func()

	writeMu sync.Mutex // orders join/leave frames

	mu        sync.Mutex
	conn      Conn
	state     State
	err       error
	refs      map[string]int
	listeners map[*Listener]struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
}

// New creates a Channel. Call Start to connect.
func New(d Dialer, opts ...Option) *Channel {
	c := &Channel{
		dialer:    d,
		attempts:  constants.ReconnectAttempts,
		delay:     constants.ReconnectDelay,
		queueSize: constants.ListenerQueueSize,
		refs:      make(map[string]int),
		listeners: make(map[*Listener]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts <= 0 {
		c.attempts = 1
	}
	return c
}

// Start connects in the background. It is a no-op while already running
// and restarts a degraded channel.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.err = nil
	c.state = StateConnecting
	go c.run(runCtx, c.done)
	return nil
}

// Close stops the connection and detaches every listener.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, done := c.cancel, c.done
	listeners := make([]*Listener, 0, len(c.listeners))
	for l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, l := range listeners {
		l.Close()
	}
	c.setState(StateClosed, nil)
	return nil
}

// State returns the connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the SubscriptionError of a degraded channel.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Subscribe declares interest in id. Repeated calls add references; the
// room is joined on the first.
func (c *Channel) Subscribe(id string) {
	c.mu.Lock()
	c.refs[id]++
	first := c.refs[id] == 1
	conn := c.conn
	if !first || conn == nil {
		c.mu.Unlock()
		return
	}
	c.writeMu.Lock()
	c.mu.Unlock()
	defer c.writeMu.Unlock()
	c.send(conn, Frame{Type: FrameJoin, Room: id})
}

// Unsubscribe drops one reference to id. At zero the room is left and
// undelivered events for id are discarded. Extra calls are no-ops.
func (c *Channel) Unsubscribe(id string) {
	c.mu.Lock()
	n, ok := c.refs[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	if n > 1 {
		c.refs[id] = n - 1
		c.mu.Unlock()
		return
	}
	delete(c.refs, id)
	for l := range c.listeners {
		l.purge(id)
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return
	}
	c.writeMu.Lock()
	c.mu.Unlock()
	defer c.writeMu.Unlock()
	c.send(conn, Frame{Type: FrameLeave, Room: id})
}

// Subscribed returns the reference count of id.
func (c *Channel) Subscribed(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[id]
}

// Listen registers a listener for events of the given ids, or of every
// subscribed resource when none are given.
func (c *Channel) Listen(ids ...string) *Listener {
	l := newListener(c, c.queueSize, ids)
	c.mu.Lock()
	c.listeners[l] = struct{}{}
	c.mu.Unlock()
	return l
}

func (c *Channel) removeListener(l *Listener) {
	c.mu.Lock()
	delete(c.listeners, l)
	c.mu.Unlock()
}

// send writes f; failures surface as a read error on the same connection
// and are handled by reconnecting. Callers hold writeMu.
func (c *Channel) send(conn Conn, f Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DialTimeout)
	defer cancel()
	if err := conn.Write(ctx, f); err != nil {
		log.Debug("realtime write failed", "type", f.Type, "room", f.Room, "error", err)
		return
	}
	log.Trace("realtime frame sent", "type", f.Type, "room", f.Room)
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.conn = nil
		if c.state != StateDegraded {
			c.state = StateIdle
		}
		c.mu.Unlock()
	}()

	connected := false
	failures := 0
	for {
		dialCtx, cancel := context.WithTimeout(ctx, constants.DialTimeout)
		conn, err := c.dialer.Dial(dialCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			log.Debug("realtime dial failed", "attempt", failures, "error", err)
			if failures >= c.attempts {
				serr := &SubscriptionError{Attempts: failures, Err: err}
				log.Warn("live progress unavailable", "error", serr)
				c.setState(StateDegraded, serr)
				return
			}
			if !sleep(ctx, c.delay) {
				return
			}
			continue
		}

		failures = 0
		c.attach(conn)
		if connected {
			log.Info("realtime channel reconnected")
			if c.onReconnect != nil {
				c.onReconnect()
			}
		} else {
			log.Info("realtime channel connected")
		}
		connected = true

		err = c.readLoop(ctx, conn)
		c.detach(conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn("realtime connection lost", "error", err)
		c.setState(StateReconnecting, nil)
		if !sleep(ctx, c.delay) {
			return
		}
	}
}

// attach makes conn current and re-joins every active room, since room
// membership does not survive a dropped connection.
func (c *Channel) attach(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.err = nil
	rooms := make([]string, 0, len(c.refs))
	for id := range c.refs {
		rooms = append(rooms, id)
	}
	c.writeMu.Lock()
	c.mu.Unlock()
	defer c.writeMu.Unlock()
	for _, id := range rooms {
		c.send(conn, Frame{Type: FrameJoin, Room: id})
	}
}

func (c *Channel) detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		f, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if f.Type != FrameProgress {
			log.Trace("ignoring realtime frame", "type", f.Type)
			continue
		}
		var ev model.ProgressEvent
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &ev); err != nil {
				log.Debug("malformed progress frame", "room", f.Room, "error", err)
				continue
			}
		}
		if ev.ResourceID == "" {
			ev.ResourceID = f.Room
		}
		c.dispatch(ev.Normalize())
	}
}

// dispatch delivers ev to listeners in arrival order. Events for rooms
// without references are dropped.
func (c *Channel) dispatch(ev model.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs[ev.ResourceID] == 0 {
		log.Trace("event for unsubscribed resource dropped", "resource", ev.ResourceID)
		return
	}
	for l := range c.listeners {
		if l.wants(ev.ResourceID) {
			l.push(ev)
		}
	}
}

func (c *Channel) setState(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.err = err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
