package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
)

// Task represents a single job in the progress display.
type Task struct {
	ID       string
	Name     string
	Status   TaskStatus
	Message  string
	Progress float64
	Error    error
}

// NewTask creates a pending task.
func NewTask(id, name string) Task {
	return Task{
		ID:     id,
		Name:   name,
		Status: StatusPending,
	}
}

// View renders the task. live=false replaces the bar of a running task
// with an unknown marker.
func (t Task) View(spinnerFrame string, prog progress.Model, live bool) string {
	icon := StatusIcon(t.Status, spinnerFrame)

	name := t.Name
	if name == "" {
		name = t.ID
	}
	if t.Status == StatusPending {
		name = taskDimStyle.Render(name)
	} else {
		name = taskNameStyle.Render(name)
	}

	line := fmt.Sprintf("  %s %s", icon, name)

	switch {
	case t.Status == StatusRunning && !live:
		line += " " + messageStyle.Render("progress unknown")
	case t.Status == StatusRunning || t.Status == StatusComplete:
		line += fmt.Sprintf(" %s %3d%%", prog.ViewAs(t.Progress), int(t.Progress*100))
	}

	if t.Message != "" {
		line += " " + messageStyle.Render(fmt.Sprintf("(%s)", t.Message))
	}

	if t.Error != nil {
		line += " " + errorStyle.Render(t.Error.Error())
	}

	return line
}

// Done reports whether the task reached a final status.
func (t Task) Done() bool {
	return t.Status == StatusComplete || t.Status == StatusError || t.Status == StatusSkipped
}
