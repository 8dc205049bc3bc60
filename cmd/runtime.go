package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spiffcs/testdeck/config"
	"github.com/spiffcs/testdeck/internal/api"
	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/output"
	"github.com/spiffcs/testdeck/internal/realtime"
	"github.com/spiffcs/testdeck/internal/service"
	"golang.org/x/oauth2"
)

// appRuntime bundles what every data command needs: resolved settings, the
// output mode and a session against the API.
type appRuntime struct {
	opts     *Options
	cfg      *config.Config
	settings config.Settings
	format   output.Format
	useTUI   bool
	limit    int
	session  *service.Session

	stopProfiler func()
}

// runtimeOption tweaks how newRuntime builds the session.
type runtimeOption func(*runtimeConfig)

type runtimeConfig struct {
	live bool
}

// withLive connects the realtime channel so running jobs report progress.
func withLive() runtimeOption {
	return func(c *runtimeConfig) {
		c.live = true
	}
}

// newRuntime loads configuration, initializes logging and starts a
// session. Callers must call close.
func newRuntime(ctx context.Context, opts *Options, ropts ...runtimeOption) (*appRuntime, error) {
	var rc runtimeConfig
	for _, o := range ropts {
		o(&rc)
	}

	profiler := NewProfiler(opts.CPUProfile, opts.MemProfile, opts.Trace)
	if err := profiler.Start(); err != nil {
		return nil, err
	}
	rt := &appRuntime{opts: opts, stopProfiler: profiler.Stop}

	if err := rt.init(ctx, rc); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *appRuntime) init(ctx context.Context, rc runtimeConfig) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	rt.cfg = cfg

	name := rt.opts.Format
	if name == "" {
		name = cfg.DefaultFormat
	}
	rt.format, err = output.ParseFormat(name)
	if err != nil {
		return err
	}
	rt.useTUI = shouldUseTUI(rt.opts, rt.format)

	// Logs would interleave with the TUI display.
	if rt.useTUI {
		log.Initialize(rt.opts.Verbosity, io.Discard)
	} else {
		log.Initialize(rt.opts.Verbosity, os.Stderr)
	}

	rt.settings, err = cfg.GetSettings()
	if err != nil {
		return err
	}
	rt.limit = rt.settings.PageSize
	if rt.opts.Limit != 0 {
		rt.limit = rt.opts.Limit
	}
	if rt.limit < 1 || rt.limit > constants.MaxPageSize {
		return fmt.Errorf("invalid --limit %d (must be between 1 and %d)", rt.limit, constants.MaxPageSize)
	}
	if rt.opts.Page < 1 {
		return fmt.Errorf("invalid --page %d (pages start at 1)", rt.opts.Page)
	}

	token := cfg.GetToken()
	client := api.NewClient(ctx, rt.settings.APIURL, token)

	// The interactive browser always follows running jobs.
	live := rc.live || rt.useTUI
	var dialer realtime.Dialer
	if live {
		dialer = socketDialer(ctx, rt.settings.SocketURL, token)
	}
	log.Debug("session settings",
		"api", rt.settings.APIURL,
		"socket", rt.settings.SocketURL,
		"live", live,
		"pageSize", rt.limit,
	)

	rt.session = service.New(client, dialer, service.Options{
		PageSize:              rt.limit,
		StaleTime:             rt.settings.StaleTime,
		ReconnectAttempts:     rt.settings.ReconnectAttempts,
		ReconnectDelay:        rt.settings.ReconnectDelay,
		QueueSize:             rt.settings.QueueSize,
		UnmatchedTTL:          rt.settings.UnmatchedTTL,
		InvalidateOnReconnect: rt.settings.InvalidateOnReconnect,
	})
	return rt.session.Start(ctx)
}

// socketDialer authorizes the websocket handshake the same way the API
// client authorizes requests.
func socketDialer(ctx context.Context, url, token string) *realtime.WebsocketDialer {
	d := &realtime.WebsocketDialer{URL: url}
	if token = strings.TrimSpace(token); token != "" {
		// No client timeout: it would cut the upgraded connection.
		d.HTTPClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	return d
}

// formatter returns the formatter for one-shot output. Rendered data is a
// fresh read, so progress is shown as current.
func (rt *appRuntime) formatter() output.Formatter {
	return output.NewFormatter(rt.format, true)
}

// pageIndex is the 0-based page requested with --page.
func (rt *appRuntime) pageIndex() int {
	return rt.opts.Page - 1
}

// close stops the session and profiling.
func (rt *appRuntime) close() {
	if rt.session != nil {
		if err := rt.session.Close(); err != nil {
			log.Debug("session close", "error", err)
		}
	}
	if rt.stopProfiler != nil {
		rt.stopProfiler()
	}
}
