package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/output"
	"github.com/spiffcs/testdeck/internal/realtime"
	"github.com/spiffcs/testdeck/internal/service"
	"github.com/spiffcs/testdeck/internal/tui"
)

const taskPrefetch = "prefetch"

// statusReport is the JSON form of the status command.
type statusReport struct {
	APIURL      string   `json:"api_url"`
	SocketURL   string   `json:"socket_url"`
	Realtime    string   `json:"realtime"`
	RealtimeErr string   `json:"realtime_error,omitempty"`
	Files       int      `json:"files"`
	Reports     int      `json:"reports"`
	RunningJobs []string `json:"running_jobs"`
}

// NewCmdStatus creates the status command.
func NewCmdStatus(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the server connection and running jobs",
		Long: `Load the first page of test files and reports in parallel, connect to
the progress channel and summarize what is currently running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, opts)
		},
	}
	addOutputFlag(cmd, opts)
	return cmd
}

func runStatus(cmd *cobra.Command, opts *Options) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, opts, withLive())
	if err != nil {
		return err
	}
	defer rt.close()

	var events chan tui.Event
	var tuiDone chan error
	if rt.useTUI {
		events = make(chan tui.Event, 10)
		tuiDone = make(chan error, 1)
		go func() {
			tuiDone <- tui.Run(events, tui.WithTasks([]tui.Task{tui.NewTask(taskPrefetch, "Loading first pages")}))
		}()
	}

	onProgress := func(completed, total int) {
		if events != nil {
			tui.SendTaskEvent(events, taskPrefetch, tui.StatusRunning,
				tui.WithProgress(completed*100/max(total, 1)),
				tui.WithMessage(fmt.Sprintf("%d/%d sources", completed, total)))
			return
		}
		log.Progress("Loading first pages: %d/%d...", completed, total)
	}

	res, err := rt.session.Prefetch(ctx, onProgress)
	if events != nil {
		if err != nil {
			tui.SendTaskEvent(events, taskPrefetch, tui.StatusError, tui.WithError(err))
		} else {
			tui.SendTaskEvent(events, taskPrefetch, tui.StatusComplete)
		}
		close(events)
		<-tuiDone
	} else {
		log.ProgressDone()
	}
	if err != nil {
		return err
	}

	state, chErr := waitConnected(ctx, rt.session, constants.DialTimeout)
	report := buildStatus(rt, res, state, chErr)
	return writeStatus(report, rt.format, cmd.OutOrStdout())
}

// waitConnected waits until the first connection attempt settles.
func waitConnected(ctx context.Context, sess *service.Session, timeout time.Duration) (realtime.State, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(constants.ConnectionPollInterval / 5)
	defer ticker.Stop()
	for {
		state, err := sess.Live()
		if state != realtime.StateConnecting {
			return state, err
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-deadline.C:
			return state, fmt.Errorf("no connection after %s", timeout)
		case <-ticker.C:
		}
	}
}

func buildStatus(rt *appRuntime, res *service.PrefetchResult, state realtime.State, chErr error) statusReport {
	r := statusReport{
		APIURL:      rt.settings.APIURL,
		SocketURL:   rt.settings.SocketURL,
		Realtime:    state.String(),
		RunningJobs: []string{},
	}
	if chErr != nil {
		r.RealtimeErr = chErr.Error()
	}
	for _, p := range []*model.Page{res.Files, res.Reports} {
		if p == nil {
			continue
		}
		for _, item := range p.Items {
			if rt.session.Tracked(item.ResourceID()) {
				r.RunningJobs = append(r.RunningJobs, item.ResourceID())
			}
		}
	}
	if res.Files != nil {
		r.Files = res.Files.Total
	}
	if res.Reports != nil {
		r.Reports = res.Reports.Total
	}
	return r
}

func writeStatus(r statusReport, f output.Format, w io.Writer) error {
	if f == output.FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	realtimeText := color.GreenString(r.Realtime)
	if r.Realtime != realtime.StateConnected.String() {
		realtimeText = color.YellowString(r.Realtime)
	}
	fmt.Fprintf(w, "API:       %s\n", r.APIURL)
	fmt.Fprintf(w, "Progress:  %s (%s)\n", r.SocketURL, realtimeText)
	if r.RealtimeErr != "" {
		fmt.Fprintf(w, "           %s\n", color.RedString(r.RealtimeErr))
	}
	fmt.Fprintf(w, "Files:     %d\n", r.Files)
	fmt.Fprintf(w, "Reports:   %d\n", r.Reports)
	if len(r.RunningJobs) == 0 {
		fmt.Fprintln(w, "Running:   none on the first pages")
		return nil
	}
	fmt.Fprintf(w, "Running:   %d (follow with 'testdeck watch <id>')\n", len(r.RunningJobs))
	for _, id := range r.RunningJobs {
		fmt.Fprintf(w, "  - %s\n", id)
	}
	return nil
}
