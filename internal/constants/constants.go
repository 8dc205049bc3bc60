// Package constants provides a centralized location for defaults and magic
// numbers used throughout testdeck.
package constants

import "time"

// API defaults
const (
	// DefaultAPIURL is where the test management API listens in a default
	// local deployment.
	DefaultAPIURL = "http://localhost:3005"

	// DefaultSocketURL is the realtime progress endpoint.
	DefaultSocketURL = "ws://localhost:3005/ws"

	// DefaultPageSize is the page size of every list screen.
	DefaultPageSize = 10

	// MaxPageSize bounds --limit.
	MaxPageSize = 100

	// HTTPTimeout bounds a single API round trip.
	HTTPTimeout = 30 * time.Second

	// MaxReadRetries is the number of retries for idempotent reads.
	MaxReadRetries = 3

	// RetryBaseDelay and RetryMaxDelay bound read retry backoff.
	RetryBaseDelay = 100 * time.Millisecond
	RetryMaxDelay  = 2 * time.Second
)

// Cache constants
const (
	// StaleTime is how long a successful read is served without refetching.
	StaleTime = 30 * time.Second
)

// Realtime channel constants
const (
	// ReconnectAttempts is how many times a dropped connection is retried
	// before the channel degrades.
	ReconnectAttempts = 5

	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay = time.Second

	// ListenerQueueSize is the per-listener event buffer. The oldest event
	// is dropped on overflow.
	ListenerQueueSize = 256

	// UnmatchedEventTTL is how long an event for a resource that is not in
	// any cached page is kept for replay.
	UnmatchedEventTTL = 10 * time.Second

	// AppliedEventRetention is how long the last event applied to a
	// resource is kept to correct responses to requests sent before it.
	AppliedEventRetention = time.Minute

	// ReconcileSweepInterval is how often expired unmatched events are purged.
	ReconcileSweepInterval = time.Second

	// DialTimeout bounds a single websocket handshake.
	DialTimeout = 10 * time.Second
)

// TUI constants
const (
	// HeaderLines is the number of lines used for the list view header.
	HeaderLines = 2

	// FooterLines is the number of lines used for the list view footer.
	FooterLines = 3

	// StatusMessageDuration is how long a status line stays visible.
	StatusMessageDuration = 2 * time.Second

	// ConnectionPollInterval is how often watch checks the realtime channel
	// state.
	ConnectionPollInterval = 500 * time.Millisecond

	// WatchResyncInterval is how often watch rereads jobs that have not
	// reported progress, covering events sent before the room was joined.
	WatchResyncInterval = 5 * time.Second

	// TruncationSuffixWidth is the width of the "..." suffix when truncating strings.
	TruncationSuffixWidth = 3
)
