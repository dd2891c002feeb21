// Package caps enforces the daily spend, per-market spend and open-position
// limits that bound every new open.
package caps

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/model"
)

var (
	// ErrDailyCapReached is returned when an open would push today's spend
	// beyond the daily cap.
	ErrDailyCapReached = errors.New("caps: daily spend cap reached")

	// ErrPerMarketCapReached is returned when an open would push today's
	// spend in one market beyond the per-market cap.
	ErrPerMarketCapReached = errors.New("caps: per-market spend cap reached")

	// ErrTooManyPositions is returned when the user already holds the
	// maximum number of open positions for the current kill state.
	ErrTooManyPositions = errors.New("caps: too many open positions")

	// ErrInvalidLimits is returned by Validate.
	ErrInvalidLimits = errors.New("caps: invalid limits")
)

// Enforcer holds the configured caps.
type Enforcer struct {
	DailyCap     decimal.Decimal
	PerMarketCap decimal.Decimal

	// MaxPositions applies under NONE and HARD; SoftMaxPositions applies
	// while the kill state is SOFT.
	MaxPositions     int
	SoftMaxPositions int
}

// Usage is today's consumption read from the ledger and day state.
type Usage struct {
	DailySpend    decimal.Decimal
	MarketSpend   decimal.Decimal
	OpenPositions int
}

// NewEnforcer creates an enforcer after validating the limits.
func NewEnforcer(dailyCap, perMarketCap decimal.Decimal, maxPositions, softMaxPositions int) (*Enforcer, error) {
	e := &Enforcer{
		DailyCap:         dailyCap,
		PerMarketCap:     perMarketCap,
		MaxPositions:     maxPositions,
		SoftMaxPositions: softMaxPositions,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate rejects negative caps and a soft position limit above the hard one.
func (e *Enforcer) Validate() error {
	switch {
	case e.DailyCap.IsNegative(), e.PerMarketCap.IsNegative():
		return fmt.Errorf("%w: caps must be non-negative", ErrInvalidLimits)
	case e.MaxPositions < 0, e.SoftMaxPositions < 0:
		return fmt.Errorf("%w: position limits must be non-negative", ErrInvalidLimits)
	case e.SoftMaxPositions > e.MaxPositions:
		return fmt.Errorf("%w: soft max positions %d exceeds max %d", ErrInvalidLimits, e.SoftMaxPositions, e.MaxPositions)
	}
	return nil
}

// PositionLimit returns the open-position ceiling for a kill state.
func (e *Enforcer) PositionLimit(kill model.KillState) int {
	if kill == model.KillSoft {
		return e.SoftMaxPositions
	}
	return e.MaxPositions
}

// Check evaluates an intended open. Order is fixed: daily cap, per-market
// cap, then position count, so the first violation is reported.
func (e *Enforcer) Check(u Usage, intendedSpend decimal.Decimal, kill model.KillState) error {
	if u.DailySpend.Add(intendedSpend).GreaterThan(e.DailyCap) {
		return ErrDailyCapReached
	}
	if u.MarketSpend.Add(intendedSpend).GreaterThan(e.PerMarketCap) {
		return ErrPerMarketCapReached
	}
	if u.OpenPositions >= e.PositionLimit(kill) {
		return ErrTooManyPositions
	}
	return nil
}

// Remaining reports headroom, floored at zero.
func (e *Enforcer) Remaining(u Usage, kill model.KillState) model.Limits {
	return model.Limits{
		DailyRemaining:     floorZero(e.DailyCap.Sub(u.DailySpend)),
		PerMarketRemaining: floorZero(e.PerMarketCap.Sub(u.MarketSpend)),
		MaxPositions:       e.PositionLimit(kill),
	}
}

// ReasonFor maps a Check error onto its reason code.
func ReasonFor(err error) (model.ReasonCode, bool) {
	switch {
	case errors.Is(err, ErrDailyCapReached):
		return model.ReasonDailyCapReached, true
	case errors.Is(err, ErrPerMarketCapReached):
		return model.ReasonPerMarketCapReached, true
	case errors.Is(err, ErrTooManyPositions):
		return model.ReasonTooManyPositions, true
	default:
		return "", false
	}
}

func floorZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
