package tui

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/pager"
	"golang.org/x/term"
)

// Run starts the progress display and blocks until it completes.
func Run(events <-chan Event, opts ...ModelOption) error {
	m := NewModel(events, opts...)
	// Don't use alt screen - render inline
	p := tea.NewProgram(m)
	_, err := p.Run()
	return err
}

// RunList starts the interactive browser for one paginated collection.
func RunList[T model.Resource](ctx context.Context, title string, p *pager.Pager[T], columns []Column[T], opts ...ListOption[T]) error {
	m := NewListModel(ctx, title, p, columns, opts...)
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := prog.Run()
	return err
}

// ShouldUseTUI returns true if the TUI should be used based on environment.
func ShouldUseTUI() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}

	ciVars := []string{
		"CI",
		"GITHUB_ACTIONS",
		"JENKINS_URL",
		"GITLAB_CI",
		"BUILDKITE",
	}
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return false
		}
	}

	return true
}

// SendEvent sends an event to the channel in a non-blocking manner.
func SendEvent(ch chan<- Event, e Event) {
	if ch == nil {
		return
	}
	select {
	case ch <- e:
	default:
		// Drop when the display is behind; the next update supersedes it.
	}
}

// SendTaskEvent is a convenience function for sending task events.
func SendTaskEvent(ch chan<- Event, task string, status TaskStatus, opts ...TaskEventOption) {
	e := TaskEvent{
		Task:   task,
		Status: status,
	}
	for _, opt := range opts {
		opt(&e)
	}
	SendEvent(ch, e)
}

// TaskEventOption is a functional option for TaskEvent.
type TaskEventOption func(*TaskEvent)

// WithName sets the display name on a TaskEvent.
func WithName(name string) TaskEventOption {
	return func(e *TaskEvent) {
		e.Name = name
	}
}

// WithMessage sets the message on a TaskEvent.
func WithMessage(msg string) TaskEventOption {
	return func(e *TaskEvent) {
		e.Message = msg
	}
}

// WithProgress sets the progress on a TaskEvent from a 0-100 percentage.
func WithProgress(percent int) TaskEventOption {
	return func(e *TaskEvent) {
		e.Progress = float64(min(max(percent, 0), 100)) / 100
	}
}

// WithError sets the error on a TaskEvent.
func WithError(err error) TaskEventOption {
	return func(e *TaskEvent) {
		e.Error = err
	}
}
