package breach

import (
	"time"

	"github.com/atmx/risk-gate/internal/model"
)

// Hysteresis debounces raw breach classifications. A level is committed
// only after it has been observed continuously for at least Window, and a
// committed state never decreases within a day.
type Hysteresis struct {
	Window time.Duration
}

// NewHysteresis creates a controller with the given confirmation window.
func NewHysteresis(window time.Duration) *Hysteresis {
	if window < 0 {
		window = 0
	}
	return &Hysteresis{Window: window}
}

// Apply folds one observation into the committed state.
//
// A HARD observation also satisfies the SOFT band, so it extends both
// streaks. A SOFT observation breaks the HARD streak; NONE breaks both.
// Neither clears an already committed state.
func (h *Hysteresis) Apply(current model.KillState, markers Markers, observed model.KillState, now time.Time) (model.KillState, Markers) {
	if !current.Valid() {
		current = model.KillNone
	}
	next := markers.clone()

	switch observed {
	case model.KillHard:
		startStreak(next, SoftMarker, now)
		startStreak(next, HardMarker, now)
	case model.KillSoft:
		startStreak(next, SoftMarker, now)
		delete(next, HardMarker)
	default:
		delete(next, SoftMarker)
		delete(next, HardMarker)
		return current, next
	}

	for _, level := range []model.KillState{model.KillSoft, model.KillHard} {
		first, ok := next[MarkerFor(level)]
		if !ok || level.Rank() <= current.Rank() {
			continue
		}
		if now.Sub(first) >= h.Window {
			current = level
		}
	}
	return current, next
}

func startStreak(m Markers, label string, now time.Time) {
	if _, ok := m[label]; !ok {
		m[label] = now
	}
}
