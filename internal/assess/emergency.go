package assess

import (
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/risk-gate/internal/metrics"
)

// EmergencyStop is the process-wide trading halt. It is safe for
// concurrent use and satisfies gate.StopSwitch, so one switch halts both
// the assessor and the gate.
type EmergencyStop struct {
	mu     sync.RWMutex
	active bool
	reason string
	since  time.Time
	onSet  []func(active bool, reason string)
}

// StopStatus is a snapshot of the switch.
type StopStatus struct {
	Active bool      `json:"active"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since,omitempty"`
}

// NewEmergencyStop returns a disengaged switch.
func NewEmergencyStop() *EmergencyStop {
	return &EmergencyStop{}
}

// OnChange registers fn to run after every Set. Callbacks run outside the
// switch's lock.
func (s *EmergencyStop) OnChange(fn func(active bool, reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSet = append(s.onSet, fn)
}

// Set engages or releases the stop. It takes effect on the next call.
func (s *EmergencyStop) Set(active bool, reason string) {
	s.mu.Lock()
	s.active = active
	if active {
		s.reason = reason
		s.since = time.Now().UTC()
	} else {
		s.reason = ""
		s.since = time.Time{}
	}
	hooks := append([]func(bool, string){}, s.onSet...)
	s.mu.Unlock()

	if active {
		metrics.EmergencyStopActive.Set(1)
		slog.Warn("emergency stop activated", "reason", reason)
	} else {
		metrics.EmergencyStopActive.Set(0)
		slog.Info("emergency stop deactivated")
	}
	for _, fn := range hooks {
		fn(active, reason)
	}
}

// Active reports whether the stop is engaged.
func (s *EmergencyStop) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Status returns the current state.
func (s *EmergencyStop) Status() StopStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StopStatus{Active: s.active, Reason: s.reason, Since: s.since}
}
