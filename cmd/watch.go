package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spiffcs/testdeck/internal/api"
	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/format"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/realtime"
	"github.com/spiffcs/testdeck/internal/service"
	"github.com/spiffcs/testdeck/internal/tui"
	"golang.org/x/sync/errgroup"
)

// job is a test file being processed or a report being run.
type job struct {
	ID       string
	Kind     string
	Name     string
	Status   model.Status
	Progress int
}

func (j *job) apply(ev model.ProgressEvent) {
	j.Progress = ev.Progress
	if ev.Status != "" {
		j.Status = ev.Status
	}
}

func (j *job) done() bool {
	return j.Status.Terminal()
}

func (j *job) label() string {
	if j.Name == "" {
		return j.Kind + " " + j.ID
	}
	return j.Kind + " " + j.Name
}

// NewCmdWatch creates the watch command.
func NewCmdWatch(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>...",
		Short: "Follow processing of test files and runs of reports",
		Long: `Follow live progress of test files and reports until every one of them
has finished. Each id may name a test file or a report.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args)
		},
	}
}

func runWatch(cmd *cobra.Command, opts *Options, ids []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, opts, withLive())
	if err != nil {
		return err
	}
	defer rt.close()

	jobs, err := follow(ctx, rt, ids, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return summarize(jobs, cmd.OutOrStdout())
}

// follow subscribes to ids, reads their current state and reports progress
// until every job has finished. The subscription is taken before the read
// so a job finishing in between is not missed.
func follow(ctx context.Context, rt *appRuntime, ids []string, w io.Writer) ([]*job, error) {
	sess := rt.session
	l := sess.Listen(ids...)
	defer l.Close()
	for _, id := range ids {
		sess.Watch(id)
	}
	defer func() {
		for _, id := range ids {
			sess.Unwatch(id)
		}
	}()

	jobs, err := resolveJobs(ctx, sess, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	var r reporter = &lineReporter{w: w}
	if rt.useTUI {
		r = newTUIReporter(jobs)
	}
	defer r.close()
	for _, j := range jobs {
		r.update(j)
	}

	ticker := time.NewTicker(constants.ConnectionPollInterval)
	defer ticker.Stop()
	resync := time.NewTicker(constants.WatchResyncInterval)
	defer resync.Stop()
	state, _ := sess.Live()

	for !allDone(jobs) {
		select {
		case <-ctx.Done():
			return jobs, ctx.Err()

		case <-r.quit():
			return jobs, nil

		case <-l.Ready():
			for _, ev := range l.Drain() {
				j, ok := byID[ev.ResourceID]
				if !ok || j.done() {
					continue
				}
				j.apply(ev)
				r.update(j)
			}

		case <-resync.C:
			resyncJobs(ctx, sess, jobs, r)

		case <-ticker.C:
			next, chErr := sess.Live()
			if next == state {
				continue
			}
			log.Debug("realtime channel", "state", next, "error", chErr)
			state = next
			r.connection(state, chErr)
			switch state {
			case realtime.StateConnected:
				// Rooms were joined just now; anything sent before is only
				// visible by reading.
				resyncJobs(ctx, sess, jobs, r)
			case realtime.StateDegraded, realtime.StateClosed:
				if chErr == nil {
					chErr = errors.New(state.String())
				}
				return jobs, fmt.Errorf("live progress unavailable: %w", chErr)
			}
		}
	}
	return jobs, nil
}

// resolveJobs reads every id concurrently. An id that is not a test file is
// looked up as a report.
func resolveJobs(ctx context.Context, sess *service.Session, ids []string) ([]*job, error) {
	jobs := make([]*job, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			j, err := resolveJob(gctx, sess, id)
			if err != nil {
				return err
			}
			jobs[i] = j
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func resolveJob(ctx context.Context, sess *service.Session, id string) (*job, error) {
	f, err := sess.TestFile(ctx, id)
	if err == nil {
		return &job{ID: id, Kind: "file", Name: f.Name, Status: f.Status, Progress: f.Progress}, nil
	}
	var rejected *api.ServerRejected
	if !errors.As(err, &rejected) || !rejected.NotFound() {
		return nil, err
	}

	r, err := sess.Report(ctx, id)
	if err != nil {
		if errors.As(err, &rejected) && rejected.NotFound() {
			return nil, fmt.Errorf("%s: no test file or report with this id", id)
		}
		return nil, err
	}
	return &job{ID: id, Kind: "report", Name: r.Name, Status: r.Status, Progress: r.Progress}, nil
}

// resyncJobs rereads unfinished jobs from the server. A read never moves
// progress backwards unless it ends the job.
func resyncJobs(ctx context.Context, sess *service.Session, jobs []*job, r reporter) {
	var ids []string
	for _, j := range jobs {
		if !j.done() {
			ids = append(ids, j.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	sess.MarkStale(ids...)
	fresh, err := resolveJobs(ctx, sess, ids)
	if err != nil {
		log.Debug("resync failed", "error", err)
		return
	}
	byID := make(map[string]*job, len(fresh))
	for _, f := range fresh {
		byID[f.ID] = f
	}
	for _, j := range jobs {
		f, ok := byID[j.ID]
		if !ok || (!f.done() && f.Progress < j.Progress) || (f.Status == j.Status && f.Progress == j.Progress) {
			continue
		}
		j.Status, j.Progress = f.Status, f.Progress
		r.update(j)
	}
}

func allDone(jobs []*job) bool {
	for _, j := range jobs {
		if !j.done() {
			return false
		}
	}
	return true
}

// summarize prints the final state of every job and fails if any job did.
func summarize(jobs []*job, w io.Writer) error {
	var failed int
	for _, j := range jobs {
		fmt.Fprintf(w, "%s: %s\n", j.label(), format.StatusText(j.Status, j.Progress, true))
		if j.Status == model.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(jobs))
	}
	return nil
}

// reporter displays job progress.
type reporter interface {
	update(j *job)
	connection(state realtime.State, err error)
	// quit is closed when the user stops watching.
	quit() <-chan struct{}
	close()
}

// lineReporter prints one line per change.
type lineReporter struct {
	w io.Writer
}

func (r *lineReporter) update(j *job) {
	fmt.Fprintf(r.w, "%s: %s\n", j.label(), format.StatusText(j.Status, j.Progress, true))
}

func (r *lineReporter) connection(state realtime.State, err error) {
	if err != nil {
		log.Warn("realtime channel", "state", state, "error", err)
		return
	}
	log.Info("realtime channel", "state", state)
}

func (r *lineReporter) quit() <-chan struct{} { return nil }

func (r *lineReporter) close() {}

// tuiReporter drives the progress display.
type tuiReporter struct {
	events chan tui.Event
	done   chan struct{}
	err    error
}

func newTUIReporter(jobs []*job) *tuiReporter {
	tasks := make([]tui.Task, len(jobs))
	for i, j := range jobs {
		tasks[i] = tui.NewTask(j.ID, j.label())
	}
	r := &tuiReporter{
		events: make(chan tui.Event, 100),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		r.err = tui.Run(r.events, tui.WithTasks(tasks))
	}()
	return r
}

func (r *tuiReporter) update(j *job) {
	opts := []tui.TaskEventOption{
		tui.WithName(j.label()),
		tui.WithProgress(j.Progress),
	}
	if j.Status == model.StatusFailed {
		opts = append(opts, tui.WithError(errors.New("failed")))
	}
	tui.SendTaskEvent(r.events, j.ID, tui.StatusFor(j.Status), opts...)
}

func (r *tuiReporter) connection(state realtime.State, err error) {
	live := state == realtime.StateConnected || state == realtime.StateConnecting
	reason := state.String()
	if err != nil {
		reason = err.Error()
	}
	tui.SendEvent(r.events, tui.ConnectionEvent{Live: live, Reason: reason})
}

func (r *tuiReporter) quit() <-chan struct{} { return r.done }

// close stops the display and waits for it to restore the terminal.
func (r *tuiReporter) close() {
	close(r.events)
	<-r.done
	if r.err != nil {
		log.Warn("progress display", "error", r.err)
	}
}
