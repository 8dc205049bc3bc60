package tui

import "github.com/spiffcs/testdeck/internal/model"

// TaskStatus represents the current status of a task.
type TaskStatus int

const (
	StatusPending TaskStatus = iota
	StatusRunning
	StatusComplete
	StatusError
	StatusSkipped
)

// StatusFor maps a server job status onto a task status.
func StatusFor(s model.Status) TaskStatus {
	switch s {
	case model.StatusProcessing, model.StatusRunning:
		return StatusRunning
	case model.StatusSuccess:
		return StatusComplete
	case model.StatusFailed:
		return StatusError
	default:
		return StatusPending
	}
}

// Event is the interface for all TUI events.
type Event interface {
	isEvent()
}

// TaskEvent represents an update to a task's status. Tasks are keyed by the
// resource id they follow and are added on first sight.
type TaskEvent struct {
	Task     string
	Name     string     // Display name, kept from the first event that sets it
	Status   TaskStatus
	Message  string
	Progress float64 // 0.0 to 1.0
	Error    error
}

func (TaskEvent) isEvent() {}

// ConnectionEvent reports whether live progress is being received.
type ConnectionEvent struct {
	Live   bool
	Reason string
}

func (ConnectionEvent) isEvent() {}

// DoneEvent signals that all work is complete.
type DoneEvent struct{}

func (DoneEvent) isEvent() {}
