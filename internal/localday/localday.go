// Package localday computes trading-day boundaries in the single reference
// timezone used by every daily cap and kill-state reset.
package localday

import (
	"time"
	_ "time/tzdata" // the reference zone must resolve even on hosts without zoneinfo
)

// ReferenceTimezone anchors daily resets. It is deliberately not
// configurable: every evaluation path must agree on the same boundary.
const ReferenceTimezone = "America/Los_Angeles"

// DateLayout is the format of a day key.
const DateLayout = "2006-01-02"

var loc = mustLoad(ReferenceTimezone)

func mustLoad(name string) *time.Location {
	l, err := time.LoadLocation(name)
	if err != nil {
		panic("localday: load " + name + ": " + err.Error())
	}
	return l
}

// Key returns the YYYY-MM-DD day key for now.
func Key(now time.Time) string {
	return now.In(loc).Format(DateLayout)
}

// Start returns local midnight of the day containing now.
func Start(now time.Time) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
