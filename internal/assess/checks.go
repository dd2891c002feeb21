package assess

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/correlation"
)

// criticalMultiple escalates a HIGH breach to CRITICAL.
const criticalMultiple = 1.5

func checkDailyLoss(p Portfolio, cfg RiskConfig) Check {
	lossPct := 0.0
	if p.DailyPnL.IsNegative() {
		lossPct = p.DailyPnL.Abs().Div(p.Value).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	limit := cfg.DailyLossLimitPercent
	details := map[string]any{
		"daily_loss":            p.DailyPnL.String(),
		"daily_loss_percentage": lossPct,
		"limit_percentage":      limit,
	}

	switch {
	case lossPct > limit*criticalMultiple:
		details["excess_by"] = lossPct - limit
		return Check{Name: CheckDailyLoss, Level: LevelCritical, Details: details,
			Message: fmt.Sprintf("Daily loss %.2f%% critically exceeds limit of %g%%", lossPct, limit)}
	case lossPct > limit:
		details["excess_by"] = lossPct - limit
		return Check{Name: CheckDailyLoss, Level: LevelHigh, Details: details,
			Message: fmt.Sprintf("Daily loss %.2f%% exceeds limit of %g%%", lossPct, limit)}
	}
	return Check{Name: CheckDailyLoss, Passed: true, Level: LevelLow, Details: details,
		Message: fmt.Sprintf("Daily loss %.2f%% within limit of %g%%", lossPct, limit)}
}

// checkDrawdown blocks only at the critical threshold; the warning band
// passes with HIGH severity.
func checkDrawdown(p Portfolio, cfg RiskConfig) Check {
	dd := p.DrawdownPercent
	details := map[string]any{
		"current_drawdown":   dd,
		"warning_threshold":  cfg.DrawdownWarningPercent,
		"critical_threshold": cfg.DrawdownCriticalPercent,
	}

	switch {
	case dd > cfg.DrawdownCriticalPercent:
		return Check{Name: CheckDrawdown, Level: LevelCritical, Details: details,
			Message: fmt.Sprintf("Critical drawdown: %.2f%% exceeds limit of %g%%", dd, cfg.DrawdownCriticalPercent)}
	case dd > cfg.DrawdownWarningPercent:
		return Check{Name: CheckDrawdown, Passed: true, Level: LevelHigh, Details: details,
			Message: fmt.Sprintf("Drawdown warning: %.2f%% exceeds warning threshold of %g%%", dd, cfg.DrawdownWarningPercent)}
	}
	return Check{Name: CheckDrawdown, Passed: true, Level: LevelLow, Details: details,
		Message: fmt.Sprintf("Drawdown %.2f%% within acceptable limits", dd)}
}

func checkPositionSize(sizePct float64, profile Profile) Check {
	limit := profile.MaxPositionSizePercent
	details := map[string]any{
		"position_percentage": sizePct,
		"max_allowed":         limit,
	}

	switch {
	case sizePct > limit*criticalMultiple:
		details["excess_by"] = sizePct - limit
		return Check{Name: CheckPositionSize, Level: LevelCritical, Details: details,
			Message: fmt.Sprintf("Position size %.2f%% far exceeds limit of %g%%", sizePct, limit)}
	case sizePct > limit:
		details["excess_by"] = sizePct - limit
		return Check{Name: CheckPositionSize, Level: LevelHigh, Details: details,
			Message: fmt.Sprintf("Position size %.2f%% exceeds limit of %g%%", sizePct, limit)}
	}
	return Check{Name: CheckPositionSize, Passed: true, Level: LevelLow, Details: details,
		Message: fmt.Sprintf("Position size %.2f%% within limits", sizePct)}
}

// degraded is the passing result for a check whose input is unavailable.
func degraded(name, msg string) Check {
	return Check{Name: name, Passed: true, Level: LevelLow, Message: msg,
		Details: map[string]any{"degraded": true}}
}

func checkCategory(l *correlation.ExposureLimiter, category string, size decimal.Decimal, p Portfolio) Check {
	if category == "" {
		return degraded(CheckCategoryExposure, "Market category unknown - cannot check category exposure")
	}

	exp, err := l.CheckCategory(category, size, p.Value, p.Exposures)
	pct := exp.Percent.InexactFloat64()
	limit := l.MaxCategoryPercent.InexactFloat64()
	details := map[string]any{
		"category":            category,
		"current_exposure":    exp.Current.String(),
		"new_exposure":        exp.New.String(),
		"exposure_percentage": pct,
		"max_allowed":         limit,
	}

	switch {
	case errors.Is(err, correlation.ErrCategoryLimitExceeded):
		return Check{Name: CheckCategoryExposure, Level: LevelHigh, Details: details,
			Message: fmt.Sprintf("Category %s exposure %.2f%% exceeds limit of %g%%", category, pct, limit)}
	case err != nil:
		return degraded(CheckCategoryExposure, "Cannot check category exposure: "+err.Error())
	}
	return Check{Name: CheckCategoryExposure, Passed: true, Level: LevelLow, Details: details,
		Message: fmt.Sprintf("Category %s exposure %.2f%% within limits", category, pct)}
}

func checkCorrelation(l *correlation.ExposureLimiter, category string, size decimal.Decimal, p Portfolio) Check {
	if category == "" {
		return degraded(CheckCorrelation, "Market category unknown - cannot check correlation")
	}

	exp, err := l.CheckCorrelated(category, size, p.Value, p.Exposures)
	ratio := exp.Percent.InexactFloat64()
	limit := l.MaxCorrelation.InexactFloat64()
	details := map[string]any{
		"market_category":   category,
		"related":           exp.Related,
		"similar_exposure":  exp.New.String(),
		"correlation_ratio": ratio,
		"max_allowed":       limit,
	}

	switch {
	case errors.Is(err, correlation.ErrCorrelatedLimitExceeded):
		return Check{Name: CheckCorrelation, Level: LevelMedium, Details: details,
			Message: fmt.Sprintf("High correlation risk: %.2f exposure to similar markets", ratio)}
	case err != nil:
		return degraded(CheckCorrelation, "Cannot check correlation: "+err.Error())
	}
	return Check{Name: CheckCorrelation, Passed: true, Level: LevelLow, Details: details,
		Message: fmt.Sprintf("Correlation risk acceptable: %.2f", ratio)}
}

func checkConfidence(winProbability float64, profileName string, profile Profile) Check {
	pct := winProbability * 100
	details := map[string]any{
		"win_probability": pct,
		"min_confidence":  profile.MinConfidence,
		"profile":         profileName,
	}
	if pct < profile.MinConfidence {
		return Check{Name: CheckConfidence, Level: LevelCritical, Details: details,
			Message: fmt.Sprintf("Win probability %.1f%% below minimum %g%% for %s profile", pct, profile.MinConfidence, profileName)}
	}
	return Check{Name: CheckConfidence, Passed: true, Level: LevelLow, Details: details,
		Message: fmt.Sprintf("Win probability %.1f%% meets %s profile minimum", pct, profileName)}
}
