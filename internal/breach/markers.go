package breach

import (
	"sort"
	"strings"
	"time"

	"github.com/atmx/risk-gate/internal/model"
)

// Marker labels stored in DayState.KillReason.
const (
	SoftMarker = "soft_breach"
	HardMarker = "hard_breach"
)

// MarkerFor returns the label tracking a breach level, or "" for NONE.
func MarkerFor(level model.KillState) string {
	switch level {
	case model.KillSoft:
		return SoftMarker
	case model.KillHard:
		return HardMarker
	default:
		return ""
	}
}

// Markers maps a breach label to the first time it was observed in the
// current unbroken streak.
type Markers map[string]time.Time

// ParseMarkers decodes "label:rfc3339|label:rfc3339". Malformed tokens are
// skipped so a corrupted entry costs at most one confirmation window.
func ParseMarkers(s string) Markers {
	m := make(Markers)
	for _, token := range strings.Split(s, "|") {
		if token == "" {
			continue
		}
		label, ts, ok := strings.Cut(token, ":")
		if !ok || label == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			continue
		}
		m[label] = t
	}
	return m
}

// String encodes markers with labels in sorted order so identical state
// always serializes identically.
func (m Markers) String() string {
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, label+":"+m[label].UTC().Format(time.RFC3339Nano))
	}
	return strings.Join(parts, "|")
}

func (m Markers) clone() Markers {
	out := make(Markers, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
