package format

import (
	"testing"

	"github.com/spiffcs/testdeck/internal/model"
)

func TestStatusText(t *testing.T) {
	tests := []struct {
		name     string
		status   model.Status
		progress int
		live     bool
		expected string
	}{
		{"processing shows percent", model.StatusProcessing, 42, true, "processing 42%"},
		{"running clamps", model.StatusRunning, 140, true, "running 100%"},
		{"offline is unknown", model.StatusProcessing, 42, false, "processing ?%"},
		{"success hides percent", model.StatusSuccess, 100, true, "success"},
		{"failed offline", model.StatusFailed, 30, false, "failed"},
		{"empty is pending", "", 0, true, "pending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusText(tt.status, tt.progress, tt.live); got != tt.expected {
				t.Errorf("StatusText() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBar(t *testing.T) {
	tests := []struct {
		progress int
		width    int
		expected string
	}{
		{0, 4, "░░░░"},
		{50, 4, "██░░"},
		{100, 4, "████"},
		{-10, 2, "░░"},
		{60, 0, ""},
	}

	for _, tt := range tests {
		if got := Bar(tt.progress, tt.width); got != tt.expected {
			t.Errorf("Bar(%d, %d) = %q, want %q", tt.progress, tt.width, got, tt.expected)
		}
	}
}

func TestToneOf(t *testing.T) {
	tests := map[model.Status]Tone{
		model.StatusSuccess:    ToneGood,
		model.StatusFailed:     ToneBad,
		model.StatusRunning:    ToneActive,
		model.StatusProcessing: ToneActive,
		model.StatusPending:    ToneNeutral,
	}
	for s, want := range tests {
		if got := ToneOf(s); got != want {
			t.Errorf("ToneOf(%q) = %d, want %d", s, got, want)
		}
	}
}
