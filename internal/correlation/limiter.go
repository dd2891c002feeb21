// Package correlation implements exposure limits that account for
// correlation between market categories.
//
// Markets in related categories (an election and a government shutdown
// market, say) tend to resolve together. This package groups categories
// with a fixed similarity map and enforces both a per-category limit and
// an aggregate limit across each correlated group.
package correlation

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrCategoryLimitExceeded is returned when a trade would push a single
	// category's exposure beyond the per-category maximum.
	ErrCategoryLimitExceeded = errors.New("correlation: category exposure limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a trade would push the
	// aggregate exposure across correlated categories beyond the
	// correlated maximum.
	ErrCorrelatedLimitExceeded = errors.New("correlation: correlated exposure limit exceeded")

	// ErrNonPositivePortfolio is returned when exposure is measured against
	// a portfolio value that is zero or negative.
	ErrNonPositivePortfolio = errors.New("correlation: portfolio value must be positive")
)

var hundred = decimal.NewFromInt(100)

// DefaultGroups maps an anchor category to the categories considered
// correlated with it.
func DefaultGroups() map[string][]string {
	return map[string][]string{
		"politics":   {"government"},
		"finance":    {"economy", "banking"},
		"sports":     {"entertainment"},
		"technology": {"innovation"},
	}
}

// ExposureLimiter enforces category exposure limits with correlation
// awareness.
type ExposureLimiter struct {
	// MaxCategoryPercent is the maximum exposure to any single category as
	// a percentage of portfolio value (20 means 20%).
	MaxCategoryPercent decimal.Decimal

	// MaxCorrelation is the maximum aggregate exposure across a correlated
	// group as a fraction of portfolio value (0.7 means 70%).
	MaxCorrelation decimal.Decimal

	// Groups is the similarity map; see DefaultGroups.
	Groups map[string][]string
}

// NewExposureLimiter creates a limiter using DefaultGroups.
func NewExposureLimiter(maxCategoryPercent, maxCorrelation decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{
		MaxCategoryPercent: maxCategoryPercent,
		MaxCorrelation:     maxCorrelation,
		Groups:             DefaultGroups(),
	}
}

// Exposure describes the post-trade exposure a check was evaluated on.
type Exposure struct {
	Category string          `json:"category"`
	Current  decimal.Decimal `json:"current_exposure"`
	New      decimal.Decimal `json:"new_exposure"`

	// Percent is New / portfolio * 100 for category checks; for correlated
	// checks it is the plain ratio New / portfolio.
	Percent decimal.Decimal `json:"exposure"`

	// Related lists the categories summed into a correlated check.
	Related []string `json:"related,omitempty"`
}

// CheckCategory validates the exposure to category after adding tradeSize.
//
// Returns the computed exposure alongside nil or ErrCategoryLimitExceeded.
func (l *ExposureLimiter) CheckCategory(
	category string,
	tradeSize, portfolioValue decimal.Decimal,
	exposures map[string]decimal.Decimal,
) (Exposure, error) {
	if !portfolioValue.IsPositive() {
		return Exposure{Category: category}, ErrNonPositivePortfolio
	}

	current := exposures[category]
	next := current.Add(tradeSize)
	exp := Exposure{
		Category: category,
		Current:  current,
		New:      next,
		Percent:  next.Div(portfolioValue).Mul(hundred),
	}
	if exp.Percent.GreaterThan(l.MaxCategoryPercent) {
		return exp, ErrCategoryLimitExceeded
	}
	return exp, nil
}

// CheckCorrelated validates the aggregate exposure across every group that
// category belongs to, either as anchor or as a similar member.
func (l *ExposureLimiter) CheckCorrelated(
	category string,
	tradeSize, portfolioValue decimal.Decimal,
	exposures map[string]decimal.Decimal,
) (Exposure, error) {
	if !portfolioValue.IsPositive() {
		return Exposure{Category: category}, ErrNonPositivePortfolio
	}

	related := l.Related(category)
	current := decimal.Zero
	for _, c := range related {
		current = current.Add(exposures[c])
	}
	next := current.Add(tradeSize)

	exp := Exposure{
		Category: category,
		Current:  current,
		New:      next,
		Percent:  next.Div(portfolioValue),
		Related:  related,
	}
	if exp.Percent.GreaterThan(l.MaxCorrelation) {
		return exp, ErrCorrelatedLimitExceeded
	}
	return exp, nil
}

// Related returns the sorted, de-duplicated set of categories that share a
// group with category. A category in no group has no correlated exposure.
func (l *ExposureLimiter) Related(category string) []string {
	seen := make(map[string]struct{})
	for anchor, similar := range l.Groups {
		if !inGroup(category, anchor, similar) {
			continue
		}
		seen[anchor] = struct{}{}
		for _, s := range similar {
			seen[s] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func inGroup(category, anchor string, similar []string) bool {
	if category == anchor {
		return true
	}
	for _, s := range similar {
		if category == s {
			return true
		}
	}
	return false
}
