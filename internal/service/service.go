// Package service wires the API client, query cache, realtime channel,
// reconciler and mutation executor into one session.
package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/spiffcs/testdeck/internal/api"
	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/mutation"
	"github.com/spiffcs/testdeck/internal/query"
	"github.com/spiffcs/testdeck/internal/realtime"
	"github.com/spiffcs/testdeck/internal/reconcile"
)

// API is the subset of the HTTP client a session uses.
type API interface {
	ListTestFiles(ctx context.Context, page, limit int) (*model.Page, error)
	GetTestFile(ctx context.Context, id string) (model.TestFile, error)
	UploadTestFile(ctx context.Context, name, filename string, content io.Reader) (string, error)
	DeleteTestFile(ctx context.Context, id string) error
	ListTestcases(ctx context.Context, fileID string, page, limit int) (*model.Page, error)
	RunTestcase(ctx context.Context, id, reportName string) (api.RunResult, error)
	ListReports(ctx context.Context, page, limit int) (*model.Page, error)
	GetReport(ctx context.Context, id string) (model.Report, error)
	ListReportDetails(ctx context.Context, reportID string, page, limit int) (*model.Page, error)
}

var _ API = (*api.Client)(nil)

// Options tunes a Session. Zero values take the package defaults.
type Options struct {
	PageSize              int
	StaleTime             time.Duration
	ReconnectAttempts     int
	ReconnectDelay        time.Duration
	QueueSize             int
	UnmatchedTTL          time.Duration
	InvalidateOnReconnect bool
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = constants.DefaultPageSize
	}
	if o.StaleTime <= 0 {
		o.StaleTime = constants.StaleTime
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = constants.ReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = constants.ReconnectDelay
	}
	if o.QueueSize <= 0 {
		o.QueueSize = constants.ListenerQueueSize
	}
	if o.UnmatchedTTL <= 0 {
		o.UnmatchedTTL = constants.UnmatchedEventTTL
	}
	return o
}

// Session is the explicitly constructed context of one client run. Create
// it with New, call Start to go live and Close when done.
type Session struct {
	api        API
	opts       Options
	cache      *query.Cache
	channel    *realtime.Channel
	reconciler *reconcile.Reconciler
	executor   *mutation.Executor
	live       bool

	mu      sync.Mutex
	tracked map[string]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a session. A nil dialer disables live progress.
func New(client API, dialer realtime.Dialer, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		api:     client,
		opts:    opts,
		cache:   query.New(query.WithStaleTime(opts.StaleTime)),
		live:    dialer != nil,
		tracked: make(map[string]struct{}),
	}

	chOpts := []realtime.Option{
		realtime.WithReconnect(opts.ReconnectAttempts, opts.ReconnectDelay),
		realtime.WithQueueSize(opts.QueueSize),
	}
	if opts.InvalidateOnReconnect {
		chOpts = append(chOpts, realtime.WithOnReconnect(func() {
			s.cache.Invalidate(query.All)
		}))
	}
	s.channel = realtime.New(dialer, chOpts...)
	s.reconciler = reconcile.New(s.cache,
		reconcile.WithTTL(opts.UnmatchedTTL),
		reconcile.WithOnTerminal(s.jobFinished),
	)
	s.executor = mutation.New(s.cache)
	return s
}

// Start connects the realtime channel and begins reconciling events. It
// is a no-op for a session without a dialer.
func (s *Session) Start(ctx context.Context) error {
	if !s.live {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	if err := s.channel.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	l := s.channel.Listen()
	go func(done chan struct{}) {
		defer close(done)
		defer l.Close()
		if err := s.reconciler.Run(runCtx, l); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("reconciler stopped", "error", err)
		}
	}(s.done)
	return nil
}

// Close stops reconciliation and the realtime channel.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return s.channel.Close()
}

// Cache exposes the query cache to views that watch for changes.
func (s *Session) Cache() *query.Cache {
	return s.cache
}

// PageSize is the configured page size.
func (s *Session) PageSize() int {
	return s.opts.PageSize
}

// IsPending reports whether a mutation of the given kind is in flight:
// "upload", "delete" or "run".
func (s *Session) IsPending(name string) bool {
	return s.executor.IsPending(name)
}

// Live reports the realtime channel state. It is StateIdle for a session
// created without a dialer.
func (s *Session) Live() (realtime.State, error) {
	return s.channel.State(), s.channel.Err()
}

// ProgressCurrent reports whether cached progress of running jobs is kept
// up to date: the channel is connected or making its first connection.
// Views show progress as unknown otherwise.
func (s *Session) ProgressCurrent() bool {
	switch s.channel.State() {
	case realtime.StateConnected, realtime.StateConnecting:
		return true
	default:
		return false
	}
}

// Watch subscribes to progress of id until Unwatch.
func (s *Session) Watch(id string) {
	s.channel.Subscribe(id)
}

// Unwatch drops a subscription taken with Watch.
func (s *Session) Unwatch(id string) {
	s.channel.Unsubscribe(id)
}

// Listen returns a listener for events of ids, or of every subscribed
// resource when none are given.
func (s *Session) Listen(ids ...string) *realtime.Listener {
	return s.channel.Listen(ids...)
}

// Track subscribes to every unfinished job on p. Tracked subscriptions are
// released when the job reports a terminal status.
func (s *Session) Track(p *model.Page) {
	if p == nil {
		return
	}
	for _, item := range p.Items {
		if status, ok := statusOf(item); ok && !status.Terminal() {
			s.track(item.ResourceID())
		}
	}
}

func (s *Session) track(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	if _, ok := s.tracked[id]; ok {
		s.mu.Unlock()
		return
	}
	s.tracked[id] = struct{}{}
	s.mu.Unlock()
	s.channel.Subscribe(id)
}

func (s *Session) untrack(id string) {
	s.mu.Lock()
	_, ok := s.tracked[id]
	delete(s.tracked, id)
	s.mu.Unlock()
	if ok {
		s.channel.Unsubscribe(id)
	}
}

// Tracked reports whether id is subscribed because of Track or a mutation.
func (s *Session) Tracked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[id]
	return ok
}

func (s *Session) jobFinished(ev model.ProgressEvent) {
	s.untrack(ev.ResourceID)
}

func statusOf(r model.Resource) (model.Status, bool) {
	switch v := r.(type) {
	case model.TestFile:
		return v.Status, true
	case model.Report:
		return v.Status, true
	default:
		return "", false
	}
}
