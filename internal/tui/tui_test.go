package tui

import (
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/spiffcs/testdeck/internal/model"
)

func TestTaskStatus(t *testing.T) {
	statuses := []TaskStatus{StatusPending, StatusRunning, StatusComplete, StatusError, StatusSkipped}
	seen := make(map[TaskStatus]bool)

	for _, status := range statuses {
		if seen[status] {
			t.Errorf("duplicate status: %d", status)
		}
		seen[status] = true
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		in   model.Status
		want TaskStatus
	}{
		{model.StatusPending, StatusPending},
		{"", StatusPending},
		{model.StatusProcessing, StatusRunning},
		{model.StatusRunning, StatusRunning},
		{model.StatusSuccess, StatusComplete},
		{model.StatusFailed, StatusError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.in); got != tt.want {
			t.Errorf("StatusFor(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewTask(t *testing.T) {
	task := NewTask("f1", "checkout.xlsx")

	if task.ID != "f1" || task.Name != "checkout.xlsx" {
		t.Errorf("NewTask() = %+v", task)
	}
	if task.Status != StatusPending {
		t.Errorf("expected status %d, got %d", StatusPending, task.Status)
	}
	if task.Done() {
		t.Error("pending task reported done")
	}
}

func TestSendEvent(t *testing.T) {
	ch := make(chan Event, 1)

	SendEvent(ch, TaskEvent{Task: "r1", Status: StatusComplete})

	select {
	case received := <-ch:
		te, ok := received.(TaskEvent)
		if !ok {
			t.Fatal("expected TaskEvent type")
		}
		if te.Task != "r1" {
			t.Errorf("expected task r1, got %s", te.Task)
		}
	default:
		t.Error("expected event in channel")
	}
}

func TestSendEventNilChannel(t *testing.T) {
	// Should not panic with nil channel
	SendEvent(nil, TaskEvent{})
}

func TestSendEventFullChannelDoesNotBlock(t *testing.T) {
	ch := make(chan Event, 1)
	SendEvent(ch, DoneEvent{})
	SendEvent(ch, DoneEvent{})
	if len(ch) != 1 {
		t.Errorf("len(ch) = %d, want 1", len(ch))
	}
}

func TestSendTaskEvent(t *testing.T) {
	ch := make(chan Event, 1)
	testErr := errors.New("step 3 failed")

	SendTaskEvent(ch, "r1", StatusError,
		WithName("nightly"),
		WithMessage("report"),
		WithProgress(75),
		WithError(testErr),
	)

	te, ok := (<-ch).(TaskEvent)
	if !ok {
		t.Fatal("expected TaskEvent type")
	}
	if te.Task != "r1" || te.Name != "nightly" || te.Message != "report" {
		t.Errorf("unexpected event %+v", te)
	}
	if te.Progress != 0.75 {
		t.Errorf("expected progress 0.75, got %f", te.Progress)
	}
	if te.Error != testErr {
		t.Errorf("expected error %v, got %v", testErr, te.Error)
	}
}

func TestWithProgressClamps(t *testing.T) {
	var e TaskEvent
	WithProgress(250)(&e)
	if e.Progress != 1 {
		t.Errorf("Progress = %f, want 1", e.Progress)
	}
	WithProgress(-5)(&e)
	if e.Progress != 0 {
		t.Errorf("Progress = %f, want 0", e.Progress)
	}
}

func TestModelAddsTasksOnFirstSight(t *testing.T) {
	m := NewModel(nil, WithTasks([]Task{NewTask("f1", "checkout.xlsx")}))

	updated, _ := m.Update(TaskEvent{Task: "f1", Status: StatusRunning, Progress: 0.4})
	updated, _ = updated.Update(TaskEvent{Task: "r9", Name: "nightly", Status: StatusRunning, Progress: 0.1})
	updated, _ = updated.Update(TaskEvent{Task: "f1", Name: "ignored", Status: StatusComplete, Progress: 1})
	m = updated.(Model)

	tasks := m.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Name != "checkout.xlsx" || tasks[0].Status != StatusComplete || tasks[0].Progress != 1 {
		t.Errorf("task f1 = %+v", tasks[0])
	}
	if tasks[1].ID != "r9" || tasks[1].Name != "nightly" {
		t.Errorf("task r9 = %+v", tasks[1])
	}
}

func TestModelShowsUnknownProgressWhenOffline(t *testing.T) {
	m := NewModel(nil, WithTasks([]Task{{ID: "f1", Name: "checkout.xlsx", Status: StatusRunning, Progress: 0.5}}))

	if v := m.View(); !strings.Contains(v, "50%") {
		t.Errorf("online view should show percentage:\n%s", v)
	}

	updated, _ := m.Update(ConnectionEvent{Live: false, Reason: "reconnecting"})
	v := updated.(Model).View()
	if !strings.Contains(v, "progress unknown") || !strings.Contains(v, "Live progress unavailable (reconnecting)") {
		t.Errorf("offline view missing unknown markers:\n%s", v)
	}
	if strings.Contains(v, "50%") {
		t.Errorf("offline view should not show a stale percentage:\n%s", v)
	}
}

func TestModelDone(t *testing.T) {
	m := NewModel(nil)
	updated, cmd := m.Update(DoneEvent{})
	if cmd == nil {
		t.Fatal("DoneEvent should quit")
	}
	if strings.Contains(updated.(Model).View(), "Ctrl+C") {
		t.Error("finished view still shows the cancel hint")
	}
}

func TestTaskViewError(t *testing.T) {
	task := Task{ID: "r1", Status: StatusError, Error: errors.New("boom")}
	v := task.View(">", progress.New(), true)
	if !strings.Contains(v, "r1") || !strings.Contains(v, "boom") {
		t.Errorf("View() = %q, want id fallback and error", v)
	}
}

func TestShouldUseTUIInCI(t *testing.T) {
	t.Setenv("CI", "true")
	if ShouldUseTUI() {
		t.Error("ShouldUseTUI() = true in CI")
	}
}

func TestStatusIcon(t *testing.T) {
	statuses := []TaskStatus{StatusPending, StatusRunning, StatusComplete, StatusError, StatusSkipped}

	for _, status := range statuses {
		if icon := StatusIcon(status, ">"); icon == "" {
			t.Errorf("StatusIcon returned empty string for status %d", status)
		}
	}
}
