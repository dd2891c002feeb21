// Package breach classifies realized drawdown into kill-state bands and
// debounces those classifications into a persisted kill state.
package breach

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/model"
)

var (
	// ErrNonPositiveEquity is returned when drawdown is requested against a
	// start equity that is zero or negative.
	ErrNonPositiveEquity = errors.New("breach: start equity must be positive")

	// ErrInvalidThresholds is returned when the bands are not ordered
	// hard < soft < 0.
	ErrInvalidThresholds = errors.New("breach: thresholds must satisfy hard < soft < 0")
)

// DrawdownScale is the number of decimal places drawdown is rounded to
// before classification.
const DrawdownScale int32 = 4

// Thresholds are the two monotone drawdown bands, expressed as negative
// fractions of start equity (e.g. -0.02 and -0.03).
type Thresholds struct {
	Soft decimal.Decimal
	Hard decimal.Decimal
}

// Validate checks band ordering.
func (t Thresholds) Validate() error {
	if !t.Soft.IsNegative() || !t.Hard.LessThan(t.Soft) {
		return fmt.Errorf("%w: soft=%s hard=%s", ErrInvalidThresholds, t.Soft, t.Hard)
	}
	return nil
}

// Detector computes drawdown and its breach band.
type Detector struct {
	thresholds Thresholds
}

// NewDetector creates a detector after validating the bands.
func NewDetector(t Thresholds) (*Detector, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Detector{thresholds: t}, nil
}

// Breach is one drawdown observation.
type Breach struct {
	Drawdown decimal.Decimal `json:"drawdown"`
	Level    model.KillState `json:"level"`
}

// Drawdown returns min(realized, 0) / startEquity rounded to DrawdownScale
// places. Gains never count as drawdown.
func Drawdown(realized, startEquity decimal.Decimal) (decimal.Decimal, error) {
	if !startEquity.IsPositive() {
		return decimal.Zero, ErrNonPositiveEquity
	}
	loss := decimal.Min(realized, decimal.Zero)
	return loss.Div(startEquity).RoundBank(DrawdownScale), nil
}

// Classify maps a drawdown onto NONE / SOFT / HARD.
func (d *Detector) Classify(drawdown decimal.Decimal) model.KillState {
	switch {
	case drawdown.LessThanOrEqual(d.thresholds.Hard):
		return model.KillHard
	case drawdown.LessThanOrEqual(d.thresholds.Soft):
		return model.KillSoft
	default:
		return model.KillNone
	}
}

// Detect computes and classifies drawdown in one step.
func (d *Detector) Detect(realized, startEquity decimal.Decimal) (Breach, error) {
	dd, err := Drawdown(realized, startEquity)
	if err != nil {
		return Breach{}, err
	}
	return Breach{Drawdown: dd, Level: d.Classify(dd)}, nil
}
