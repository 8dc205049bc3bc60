package format

import (
	"fmt"
	"strings"

	"github.com/spiffcs/testdeck/internal/model"
)

// Unknown is shown in place of progress that cannot currently be known,
// such as while the progress channel is down.
const Unknown = "?"

// Percent clamps p to 0..100.
func Percent(p int) int {
	return min(max(p, 0), 100)
}

// StatusText renders a lifecycle status, appending the percentage for jobs
// that are still moving. live=false replaces the percentage with Unknown.
func StatusText(s model.Status, progress int, live bool) string {
	if s == "" {
		s = model.StatusPending
	}
	if s.Terminal() || s == model.StatusPending {
		return string(s)
	}
	if !live {
		return fmt.Sprintf("%s %s%%", s, Unknown)
	}
	return fmt.Sprintf("%s %d%%", s, Percent(progress))
}

// Bar renders a fixed-width text progress bar.
func Bar(progress, width int) string {
	if width <= 0 {
		return ""
	}
	filled := Percent(progress) * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Tone groups statuses by how renderers should color them.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneActive
	ToneGood
	ToneBad
)

// ToneOf returns the color group for s.
func ToneOf(s model.Status) Tone {
	switch s {
	case model.StatusSuccess:
		return ToneGood
	case model.StatusFailed:
		return ToneBad
	case model.StatusProcessing, model.StatusRunning:
		return ToneActive
	default:
		return ToneNeutral
	}
}
