package tui

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Model is the Bubble Tea model for the job progress display.
type Model struct {
	tasks        []Task
	spinner      spinner.Model
	progress     progress.Model
	events       <-chan Event
	done         bool
	live         bool
	reason       string
	windowWidth  int
	windowHeight int
}

// doneMsg signals that the event channel was closed.
type doneMsg struct{}

// ModelOption is a functional option for configuring a Model.
type ModelOption func(*Model)

// WithTasks sets the tasks shown before any event arrives.
func WithTasks(tasks []Task) ModelOption {
	return func(m *Model) {
		m.tasks = tasks
	}
}

// NewModel creates a new progress model.
func NewModel(events <-chan Event, opts ...ModelOption) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	p := progress.New(
		progress.WithScaledGradient("#60a5fa", "#1e3a8a"),
		progress.WithWidth(25),
		progress.WithoutPercentage(),
	)

	m := Model{
		spinner:  s,
		progress: p,
		events:   events,
		live:     true,
	}

	for _, opt := range opts {
		opt(&m)
	}

	return m
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForEvent(m.events),
	)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TaskEvent:
		m = m.updateTask(msg)
		return m, waitForEvent(m.events)

	case ConnectionEvent:
		m.live = msg.Live
		m.reason = msg.Reason
		return m, waitForEvent(m.events)

	case DoneEvent, doneMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

// updateTask applies e to its task, adding the task when first seen.
func (m Model) updateTask(e TaskEvent) Model {
	i := m.indexOf(e.Task)
	if i < 0 {
		m.tasks = append(m.tasks, NewTask(e.Task, e.Name))
		i = len(m.tasks) - 1
	}
	t := &m.tasks[i]
	t.Status = e.Status
	if e.Name != "" && t.Name == "" {
		t.Name = e.Name
	}
	if e.Message != "" {
		t.Message = e.Message
	}
	if e.Progress > 0 || e.Status == StatusComplete {
		t.Progress = e.Progress
	}
	if e.Error != nil {
		t.Error = e.Error
	}
	return m
}

func (m Model) indexOf(id string) int {
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// Tasks returns the tasks in display order.
func (m Model) Tasks() []Task {
	return m.tasks
}

// View renders the model.
func (m Model) View() string {
	var s string

	for _, task := range m.tasks {
		s += task.View(m.spinner.View(), m.progress, m.live) + "\n"
	}

	if !m.live {
		msg := "\n  Live progress unavailable"
		if m.reason != "" {
			msg += " (" + m.reason + ")"
		}
		s += warnStyle.Render(msg) + "\n"
	}

	// Only show cancel hint while running
	if !m.done {
		s += footerStyle.Render("\n  Press Ctrl+C to stop watching")
	}
	s += "\n"

	return s
}

// waitForEvent creates a command that waits for the next event.
func waitForEvent(events <-chan Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return doneMsg{}
		}
		return event
	}
}
