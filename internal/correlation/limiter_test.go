package correlation

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckCategory_WithinLimits(t *testing.T) {
	limiter := NewExposureLimiter(d(20), d(0.7))

	exp, err := limiter.CheckCategory("politics", d(100), d(10000), nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if !exp.Percent.Equal(d(1)) {
		t.Errorf("expected 1%% exposure, got %s", exp.Percent)
	}
}

func TestCheckCategory_Exceeded(t *testing.T) {
	limiter := NewExposureLimiter(d(20), d(0.7))

	// Existing 1950 + new 100 = 2050 > 20% of 10000.
	existing := map[string]decimal.Decimal{
		"politics": d(1950),
	}

	exp, err := limiter.CheckCategory("politics", d(100), d(10000), existing)
	if !errors.Is(err, ErrCategoryLimitExceeded) {
		t.Errorf("expected ErrCategoryLimitExceeded, got %v", err)
	}
	if !exp.New.Equal(d(2050)) {
		t.Errorf("expected new exposure 2050, got %s", exp.New)
	}
}

func TestCheckCategory_OtherCategoriesIgnored(t *testing.T) {
	limiter := NewExposureLimiter(d(20), d(0.7))

	existing := map[string]decimal.Decimal{
		"sports": d(5000),
	}

	if _, err := limiter.CheckCategory("politics", d(100), d(10000), existing); err != nil {
		t.Errorf("other categories should be ignored, got %v", err)
	}
}

func TestCheckCorrelated_Exceeded(t *testing.T) {
	limiter := NewExposureLimiter(d(100), d(0.7))

	existing := map[string]decimal.Decimal{
		"finance": d(3000), // anchor
		"economy": d(2500), // similar
		"banking": d(1400), // similar
	}

	// 3000 + 2500 + 1400 + 200 = 7100 -> ratio 0.71 > 0.7
	exp, err := limiter.CheckCorrelated("economy", d(200), d(10000), existing)
	if !errors.Is(err, ErrCorrelatedLimitExceeded) {
		t.Errorf("expected ErrCorrelatedLimitExceeded, got %v", err)
	}
	if !exp.Percent.Equal(d(0.71)) {
		t.Errorf("expected ratio 0.71, got %s", exp.Percent)
	}
}

func TestCheckCorrelated_NonCorrelatedCategoriesIgnored(t *testing.T) {
	limiter := NewExposureLimiter(d(100), d(0.7))

	existing := map[string]decimal.Decimal{
		"politics": d(3000), // correlated with government
		"sports":   d(6000), // not correlated
	}

	// Correlated total = 3000 + 500 = 3500 -> 0.35.
	if _, err := limiter.CheckCorrelated("government", d(500), d(10000), existing); err != nil {
		t.Errorf("non-correlated categories should be ignored, got %v", err)
	}
}

func TestCheckCorrelated_UngroupedCategoryCountsOnlyTrade(t *testing.T) {
	limiter := NewExposureLimiter(d(100), d(0.7))

	existing := map[string]decimal.Decimal{
		"weather": d(9000),
	}

	exp, err := limiter.CheckCorrelated("weather", d(100), d(10000), existing)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if len(exp.Related) != 0 {
		t.Errorf("expected no related categories, got %v", exp.Related)
	}
	if !exp.Percent.Equal(d(0.01)) {
		t.Errorf("expected ratio 0.01, got %s", exp.Percent)
	}
}

func TestRelated(t *testing.T) {
	limiter := NewExposureLimiter(d(20), d(0.7))

	tests := []struct {
		category string
		want     []string
	}{
		{"politics", []string{"government", "politics"}},
		{"government", []string{"government", "politics"}},
		{"banking", []string{"banking", "economy", "finance"}},
		{"weather", []string{}},
	}

	for _, tt := range tests {
		got := limiter.Related(tt.category)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Related(%q) = %v, want %v", tt.category, got, tt.want)
		}
	}
}

func TestChecks_RejectNonPositivePortfolio(t *testing.T) {
	limiter := NewExposureLimiter(d(20), d(0.7))

	if _, err := limiter.CheckCategory("politics", d(1), decimal.Zero, nil); !errors.Is(err, ErrNonPositivePortfolio) {
		t.Errorf("expected ErrNonPositivePortfolio, got %v", err)
	}
	if _, err := limiter.CheckCorrelated("politics", d(1), d(-5), nil); !errors.Is(err, ErrNonPositivePortfolio) {
		t.Errorf("expected ErrNonPositivePortfolio, got %v", err)
	}
}
