package assess

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-gate/internal/model"
	"github.com/atmx/risk-gate/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestAssessor(t *testing.T, opts ...Option) (*Assessor, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.UpsertMarket(ctx, &model.Market{Ticker: "KXPOL-1", Title: "Election", Category: "politics"}))
	require.NoError(t, st.UpsertMarket(ctx, &model.Market{Ticker: "KXPOL-2", Title: "Senate", Category: "politics"}))
	require.NoError(t, st.UpsertMarket(ctx, &model.Market{Ticker: "KXGOV-1", Title: "Shutdown", Category: "government"}))

	opts = append([]Option{WithMarkets(st), WithExposureSource(st)}, opts...)
	a, err := New(DefaultRiskConfig(), nil, opts...)
	require.NoError(t, err)
	return a, st
}

// baseOrder is a 40 dollar (0.4%) politics buy that passes every check.
func baseOrder() Order {
	return Order{
		UserID:         "u1",
		MarketID:       "KXPOL-1",
		Side:           "yes",
		Count:          100,
		Price:          d("0.4"),
		ExpectedReturn: 0.15,
		WinProbability: 0.7,
		RiskProfile:    "moderate",
	}
}

func basePortfolio() Portfolio {
	return Portfolio{Value: d("10000"), DailyPnL: decimal.Zero, Exposures: map[string]decimal.Decimal{}}
}

func checkNamed(t *testing.T, a *Assessment, name string) Check {
	t.Helper()
	for _, c := range a.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found", name)
	return Check{}
}

func TestAssess_Approved(t *testing.T) {
	a, _ := newTestAssessor(t)

	res, err := a.Assess(context.Background(), baseOrder(), basePortfolio())
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, LevelLow, res.RiskLevel)
	assert.Empty(t, res.CriticalIssues)
	assert.True(t, res.PositionSize.Equal(d("40")))
	assert.True(t, res.MaxLoss.Equal(d("40")))
	assert.Equal(t, "moderate", res.Profile)
	assert.InDelta(t, 5.0, res.KellySizePercent, 1e-9, "kelly 15% is capped at the profile max")
	assert.InDelta(t, 20.8, res.RiskScore, 1e-9)
	assert.Equal(t, []string{"Trade appears acceptable within risk parameters"}, res.Recommendations)
	assert.Len(t, res.Checks, 6)
	for _, c := range res.Checks {
		assert.True(t, c.Passed, c.Name)
	}
}

func TestAssess_EmergencyStopAlwaysRejects(t *testing.T) {
	a, _ := newTestAssessor(t)
	a.SetEmergencyStop(true, "exchange outage")
	defer a.SetEmergencyStop(false, "")

	orders := []Order{baseOrder()}
	o := baseOrder()
	o.Side = "no"
	o.WinProbability = 0.99
	orders = append(orders, o)
	o = baseOrder()
	o.RiskProfile = "aggressive"
	o.Count = 1
	orders = append(orders, o)

	for _, o := range orders {
		res, err := a.Assess(context.Background(), o, basePortfolio())
		require.NoError(t, err)
		assert.False(t, res.Approved)
		assert.Equal(t, LevelCritical, res.RiskLevel)
		require.NotEmpty(t, res.Recommendations)
		assert.Equal(t, "Critical: Emergency stop is active - all trading halted (exchange outage)", res.Recommendations[0])
	}

	a.SetEmergencyStop(false, "")
	res, err := a.Assess(context.Background(), baseOrder(), basePortfolio())
	require.NoError(t, err)
	assert.True(t, res.Approved, "released stop takes effect on the next call")
}

func TestAssess_ChecksDisabledRejects(t *testing.T) {
	a, _ := newTestAssessor(t)
	cfg := a.Config()
	cfg.ChecksEnabled = false
	require.NoError(t, a.UpdateConfig(cfg))

	res, err := a.Assess(context.Background(), baseOrder(), basePortfolio())
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Contains(t, res.CriticalIssues, "Risk checks are disabled")
}

func TestAssess_UnknownMarketDegradesCategoryChecks(t *testing.T) {
	a, _ := newTestAssessor(t)
	o := baseOrder()
	o.MarketID = "KXUNKNOWN-1"

	res, err := a.Assess(context.Background(), o, basePortfolio())
	require.NoError(t, err)
	assert.True(t, res.Approved, "one missing datum must not block trading")

	for _, name := range []string{CheckCategoryExposure, CheckCorrelation} {
		c := checkNamed(t, res, name)
		assert.True(t, c.Passed, name)
		assert.Equal(t, LevelLow, c.Level, name)
		assert.Equal(t, true, c.Details["degraded"], name)
	}
}

func TestAssess_NoMarketLookupDegrades(t *testing.T) {
	a, err := New(DefaultRiskConfig(), nil)
	require.NoError(t, err)

	res, err := a.Assess(context.Background(), baseOrder(), basePortfolio())
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, true, checkNamed(t, res, CheckCategoryExposure).Details["degraded"])
}

func TestAssess_UnknownProfileFallsBackToDefault(t *testing.T) {
	a, _ := newTestAssessor(t)
	o := baseOrder()
	o.RiskProfile = "yolo"

	res, err := a.Assess(context.Background(), o, basePortfolio())
	require.NoError(t, err)
	assert.Equal(t, "moderate", res.Profile)
	assert.True(t, res.Approved)
}

func TestAssess_PositionSizeTiers(t *testing.T) {
	a, _ := newTestAssessor(t)

	tests := []struct {
		name     string
		count    int64
		passed   bool
		level    Level
		approved bool
	}{
		{"within", 100, true, LevelLow, true},           // 0.5%
		{"high", 1200, false, LevelHigh, false},         // 6% > 5%
		{"critical", 2000, false, LevelCritical, false}, // 10% > 7.5%
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := baseOrder()
			o.Price = d("0.5")
			o.Count = tt.count
			res, err := a.Assess(context.Background(), o, basePortfolio())
			require.NoError(t, err)

			c := checkNamed(t, res, CheckPositionSize)
			assert.Equal(t, tt.passed, c.Passed)
			assert.Equal(t, tt.level, c.Level)
			assert.Equal(t, tt.approved, res.Approved)
			if !tt.passed {
				assert.Equal(t, tt.level, res.RiskLevel)
			}
		})
	}
}

func TestAssess_ProfileLimitsPositionSize(t *testing.T) {
	a, _ := newTestAssessor(t)
	o := baseOrder()
	o.Price = d("0.5")
	o.Count = 600 // 3%
	o.WinProbability = 0.8

	o.RiskProfile = "conservative"
	res, err := a.Assess(context.Background(), o, basePortfolio())
	require.NoError(t, err)
	assert.False(t, checkNamed(t, res, CheckPositionSize).Passed)

	o.RiskProfile = "aggressive"
	res, err = a.Assess(context.Background(), o, basePortfolio())
	require.NoError(t, err)
	assert.True(t, checkNamed(t, res, CheckPositionSize).Passed)
}

func TestAssess_ConfidenceFloor(t *testing.T) {
	a, _ := newTestAssessor(t)
	o := baseOrder()
	o.RiskProfile = "conservative"
	o.WinProbability = 0.7

	res, err := a.Assess(context.Background(), o, basePortfolio())
	require.NoError(t, err)
	assert.False(t, res.Approved)
	c := checkNamed(t, res, CheckConfidence)
	assert.False(t, c.Passed)
	assert.Contains(t, res.CriticalIssues, "Win probability 70.0% below minimum 75% for conservative profile")
}

func TestAssess_CategoryExposureExceeded(t *testing.T) {
	a, _ := newTestAssessor(t)
	o := baseOrder()
	o.Price = d("0.5")
	o.Count = 200 // 100 notional
	p := basePortfolio()
	p.Exposures = map[string]decimal.Decimal{"politics": d("1950")}

	res, err := a.Assess(context.Background(), o, p)
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, LevelHigh, res.RiskLevel)

	c := checkNamed(t, res, CheckCategoryExposure)
	assert.False(t, c.Passed)
	assert.Equal(t, LevelHigh, c.Level)
	assert.Contains(t, res.Recommendations, "High priority: "+c.Message)
}

func TestAssess_CorrelatedExposureExceeded(t *testing.T) {
	a, _ := newTestAssessor(t)
	o := baseOrder()
	o.MarketID = "KXGOV-1"
	o.Price = d("0.5")
	o.Count = 200
	p := basePortfolio()
	// 650 politics + 100 government is 0.75 of the book.
	p.Value = d("1000")
	p.Exposures = map[string]decimal.Decimal{"politics": d("650")}
	cfg := a.Config()
	cfg.MaxCategoryExposurePercent = 100
	require.NoError(t, a.UpdateConfig(cfg))

	res, err := a.Assess(context.Background(), o, p)
	require.NoError(t, err)
	c := checkNamed(t, res, CheckCorrelation)
	assert.False(t, c.Passed)
	assert.Equal(t, LevelMedium, c.Level)
	assert.False(t, res.Approved)
}

func TestAssess_ExposuresFromStore(t *testing.T) {
	a, st := newTestAssessor(t)
	require.NoError(t, st.InsertLedgerEntry(context.Background(), &model.LedgerEntry{
		ID: uuid.NewString(), UserID: "u1", MarketTicker: "KXPOL-1",
		OpenedAt: time.Now().Add(-time.Hour), Qty: 3900, EntryPrice: d("0.5"),
	}))

	o := baseOrder()
	o.MarketID = "KXPOL-2"
	o.Price = d("0.5")
	o.Count = 200
	p := basePortfolio()
	p.Exposures = nil

	res, err := a.Assess(context.Background(), o, p)
	require.NoError(t, err)
	c := checkNamed(t, res, CheckCategoryExposure)
	assert.False(t, c.Passed)
	assert.Equal(t, "1950", c.Details["current_exposure"])
}

type brokenExposures struct{}

func (brokenExposures) CategoryExposures(context.Context, string) (map[string]decimal.Decimal, error) {
	return nil, errors.New("db down")
}

func TestAssess_ExposureReadFailurePropagates(t *testing.T) {
	a, err := New(DefaultRiskConfig(), nil, WithExposureSource(brokenExposures{}))
	require.NoError(t, err)
	p := basePortfolio()
	p.Exposures = nil

	_, err = a.Assess(context.Background(), baseOrder(), p)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestAssess_DailyLossAndDrawdown(t *testing.T) {
	a, _ := newTestAssessor(t)

	tests := []struct {
		name     string
		pnl      string
		drawdown float64
		check    string
		passed   bool
		level    Level
	}{
		{"loss within", "-150", 0, CheckDailyLoss, true, LevelLow},
		{"loss high", "-250", 0, CheckDailyLoss, false, LevelHigh},
		{"loss critical", "-350", 0, CheckDailyLoss, false, LevelCritical},
		{"gain ignored", "900", 0, CheckDailyLoss, true, LevelLow},
		{"drawdown warning passes", "0", 12, CheckDrawdown, true, LevelHigh},
		{"drawdown critical", "0", 16, CheckDrawdown, false, LevelCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePortfolio()
			p.DailyPnL = d(tt.pnl)
			p.DrawdownPercent = tt.drawdown
			res, err := a.Assess(context.Background(), baseOrder(), p)
			require.NoError(t, err)

			c := checkNamed(t, res, tt.check)
			assert.Equal(t, tt.passed, c.Passed)
			assert.Equal(t, tt.level, c.Level)
			if tt.level == LevelCritical {
				assert.False(t, res.Approved)
				assert.Contains(t, res.CriticalIssues, c.Message)
			}
		})
	}
}

func TestAssess_MaxLossForNoSide(t *testing.T) {
	a, _ := newTestAssessor(t)
	o := baseOrder()
	o.Side = "NO"

	res, err := a.Assess(context.Background(), o, basePortfolio())
	require.NoError(t, err)
	assert.True(t, res.MaxLoss.Equal(d("24")), "got %s", res.MaxLoss)
}

func TestAssess_InvalidInput(t *testing.T) {
	a, _ := newTestAssessor(t)

	mutate := []func(*Order, *Portfolio){
		func(o *Order, _ *Portfolio) { o.MarketID = "" },
		func(o *Order, _ *Portfolio) { o.Side = "maybe" },
		func(o *Order, _ *Portfolio) { o.Count = 0 },
		func(o *Order, _ *Portfolio) { o.Count = -5 },
		func(o *Order, _ *Portfolio) { o.Price = decimal.Zero },
		func(o *Order, _ *Portfolio) { o.Price = d("1.5") },
		func(o *Order, _ *Portfolio) { o.WinProbability = 1.2 },
		func(_ *Order, p *Portfolio) { p.Value = decimal.Zero },
		func(_ *Order, p *Portfolio) { p.DrawdownPercent = -1 },
	}
	for i, m := range mutate {
		o, p := baseOrder(), basePortfolio()
		m(&o, &p)
		_, err := a.Assess(context.Background(), o, p)
		assert.ErrorIs(t, err, ErrInvalidInput, "case %d", i)
	}
}

func TestAssess_RecommendationsAreDeterministic(t *testing.T) {
	a, _ := newTestAssessor(t)
	o := baseOrder()
	o.Price = d("0.5")
	o.Count = 1200
	o.ExpectedReturn = 0.01
	p := basePortfolio()
	p.DailyPnL = d("-250")

	first, err := a.Assess(context.Background(), o, p)
	require.NoError(t, err)
	second, err := a.Assess(context.Background(), o, p)
	require.NoError(t, err)
	assert.Equal(t, first.Recommendations, second.Recommendations)

	joined := strings.Join(first.Recommendations, "\n")
	assert.Contains(t, joined, "Consider reducing position size from 6.0% to under 5% of portfolio")
	assert.Contains(t, joined, "Expected return is low")
}

func TestUpdateConfig(t *testing.T) {
	a, _ := newTestAssessor(t)
	before := a.Config()

	bad := before
	bad.DrawdownCriticalPercent = 5 // below warning
	assert.ErrorIs(t, a.UpdateConfig(bad), ErrInvalidConfig)

	bad = before
	bad.DefaultProfile = "missing"
	assert.ErrorIs(t, a.UpdateConfig(bad), ErrInvalidConfig)
	assert.Equal(t, before, a.Config(), "rejected update leaves config unchanged")

	good := before
	good.MaxCategoryExposurePercent = 30
	require.NoError(t, a.UpdateConfig(good))
	assert.Equal(t, 30.0, a.Config().MaxCategoryExposurePercent)

	o := baseOrder()
	o.Price = d("0.5")
	o.Count = 200
	p := basePortfolio()
	p.Exposures = map[string]decimal.Decimal{"politics": d("1950")}
	res, err := a.Assess(context.Background(), o, p)
	require.NoError(t, err)
	assert.True(t, checkNamed(t, res, CheckCategoryExposure).Passed)
}

func TestNew_RejectsBadProfiles(t *testing.T) {
	_, err := New(DefaultRiskConfig(), map[string]Profile{"other": {MaxPositionSizePercent: 5, KellyFraction: 0.2}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(DefaultRiskConfig(), map[string]Profile{"moderate": {MaxPositionSizePercent: 5, KellyFraction: 2}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEmergencyStop(t *testing.T) {
	s := NewEmergencyStop()
	var seen []bool
	s.OnChange(func(active bool, _ string) { seen = append(seen, active) })

	assert.False(t, s.Active())
	s.Set(true, "manual")
	st := s.Status()
	assert.True(t, st.Active)
	assert.Equal(t, "manual", st.Reason)
	assert.False(t, st.Since.IsZero())

	s.Set(false, "")
	assert.False(t, s.Active())
	assert.Empty(t, s.Status().Reason)
	assert.Equal(t, []bool{true, false}, seen)
}
