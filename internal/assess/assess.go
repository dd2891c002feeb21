// Package assess scores a fully specified order against independent risk
// checks and recommends a Kelly-based position size. It is independent of
// the daily kill switch in package gate; the two share only the emergency
// stop.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/correlation"
	"github.com/atmx/risk-gate/internal/metrics"
	"github.com/atmx/risk-gate/internal/model"
)

var (
	// ErrInvalidInput is returned for malformed orders or portfolios.
	ErrInvalidInput = errors.New("assess: invalid input")

	// ErrInvalidConfig is returned by New and UpdateConfig.
	ErrInvalidConfig = errors.New("assess: invalid risk config")
)

// Level is the severity attached to a check and to the whole assessment.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank orders levels for max().
func (l Level) Rank() int {
	switch l {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// Check names.
const (
	CheckDailyLoss        = "daily_loss"
	CheckDrawdown         = "drawdown"
	CheckPositionSize     = "position_size"
	CheckCategoryExposure = "category_exposure"
	CheckCorrelation      = "correlation"
	CheckConfidence       = "confidence"
)

// Check is the result of one independent risk check.
type Check struct {
	Name    string         `json:"name"`
	Passed  bool           `json:"passed"`
	Level   Level          `json:"level"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Order is the intended trade. Price is per contract in dollars.
type Order struct {
	UserID         string          `json:"user_id"`
	MarketID       string          `json:"market_id"`
	Side           string          `json:"side"` // "yes" or "no"
	Count          int64           `json:"count"`
	Price          decimal.Decimal `json:"price"`
	ExpectedReturn float64         `json:"expected_return"`
	WinProbability float64         `json:"win_probability"`
	RiskProfile    string          `json:"risk_profile"`
}

// Size is count * price.
func (o Order) Size() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Count))
}

// Portfolio is the caller-supplied valuation context. Exposures may be nil,
// in which case they are read from the configured ExposureSource.
type Portfolio struct {
	Value           decimal.Decimal            `json:"value"`
	DailyPnL        decimal.Decimal            `json:"daily_pnl"`
	DrawdownPercent float64                    `json:"drawdown_percent"`
	Exposures       map[string]decimal.Decimal `json:"category_exposures,omitempty"`
}

// Assessment is the outcome of Assess.
type Assessment struct {
	Approved         bool            `json:"approved"`
	RiskLevel        Level           `json:"risk_level"`
	RiskScore        float64         `json:"risk_score"`
	PositionSize     decimal.Decimal `json:"position_size"`
	MaxLoss          decimal.Decimal `json:"max_loss"`
	KellySizePercent float64         `json:"kelly_size_percent"`
	Profile          string          `json:"risk_profile"`
	Checks           []Check         `json:"risk_checks"`
	CriticalIssues   []string        `json:"critical_issues,omitempty"`
	Recommendations  []string        `json:"recommendations"`
	AssessedAt       time.Time       `json:"assessed_at"`
}

// Profile is the per-risk-profile sizing table row.
type Profile struct {
	MaxPositionSizePercent float64 `json:"max_position_size_percent" yaml:"max_position_size_percent"`
	KellyFraction          float64 `json:"kelly_fraction" yaml:"kelly_fraction"`
	MinConfidence          float64 `json:"min_confidence_threshold" yaml:"min_confidence_threshold"`
}

// DefaultProfiles returns the conservative/moderate/aggressive table.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"conservative": {MaxPositionSizePercent: 2, KellyFraction: 0.10, MinConfidence: 75},
		"moderate":     {MaxPositionSizePercent: 5, KellyFraction: 0.25, MinConfidence: 60},
		"aggressive":   {MaxPositionSizePercent: 10, KellyFraction: 0.50, MinConfidence: 50},
	}
}

// RiskConfig holds the account-wide limits. Percentages are in percent
// (20 means 20%); MaxCorrelation is a plain ratio.
type RiskConfig struct {
	DefaultProfile             string  `json:"default_profile" yaml:"default_profile"`
	MaxPositionSizePercent     float64 `json:"max_position_size_percent" yaml:"max_position_size_percent"`
	MaxCategoryExposurePercent float64 `json:"max_category_exposure_percent" yaml:"max_category_exposure_percent"`
	DailyLossLimitPercent      float64 `json:"daily_loss_limit_percent" yaml:"daily_loss_limit_percent"`
	MaxCorrelation             float64 `json:"max_correlation" yaml:"max_correlation"`
	DrawdownWarningPercent     float64 `json:"drawdown_warning_percent" yaml:"drawdown_warning_percent"`
	DrawdownCriticalPercent    float64 `json:"drawdown_critical_percent" yaml:"drawdown_critical_percent"`
	ChecksEnabled              bool    `json:"risk_checks_enabled" yaml:"checks_enabled"`
}

// DefaultRiskConfig returns the stock limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		DefaultProfile:             "moderate",
		MaxPositionSizePercent:     5,
		MaxCategoryExposurePercent: 20,
		DailyLossLimitPercent:      2,
		MaxCorrelation:             0.7,
		DrawdownWarningPercent:     10,
		DrawdownCriticalPercent:    15,
		ChecksEnabled:              true,
	}
}

// Validate checks internal consistency.
func (c RiskConfig) Validate() error {
	switch {
	case c.DefaultProfile == "":
		return fmt.Errorf("%w: default_profile is required", ErrInvalidConfig)
	case c.MaxPositionSizePercent <= 0 || c.MaxPositionSizePercent > 100:
		return fmt.Errorf("%w: max_position_size_percent must be in (0, 100]", ErrInvalidConfig)
	case c.MaxCategoryExposurePercent <= 0 || c.MaxCategoryExposurePercent > 100:
		return fmt.Errorf("%w: max_category_exposure_percent must be in (0, 100]", ErrInvalidConfig)
	case c.DailyLossLimitPercent <= 0:
		return fmt.Errorf("%w: daily_loss_limit_percent must be positive", ErrInvalidConfig)
	case c.MaxCorrelation <= 0:
		return fmt.Errorf("%w: max_correlation must be positive", ErrInvalidConfig)
	case c.DrawdownWarningPercent <= 0 || c.DrawdownCriticalPercent <= c.DrawdownWarningPercent:
		return fmt.Errorf("%w: drawdown thresholds must satisfy 0 < warning < critical", ErrInvalidConfig)
	}
	return nil
}

func validateProfiles(profiles map[string]Profile, def string) error {
	if _, ok := profiles[def]; !ok {
		return fmt.Errorf("%w: default profile %q not in profile table", ErrInvalidConfig, def)
	}
	for name, p := range profiles {
		if p.MaxPositionSizePercent <= 0 || p.KellyFraction <= 0 || p.KellyFraction > 1 ||
			p.MinConfidence < 0 || p.MinConfidence > 100 {
			return fmt.Errorf("%w: profile %q out of range", ErrInvalidConfig, name)
		}
	}
	return nil
}

// MarketLookup resolves market metadata; store.Store satisfies it.
type MarketLookup interface {
	GetMarket(ctx context.Context, ticker string) (*model.Market, error)
}

// ExposureSource computes current category exposures; store.Store
// satisfies it.
type ExposureSource interface {
	CategoryExposures(ctx context.Context, userID string) (map[string]decimal.Decimal, error)
}

// Assessor evaluates orders. The risk config can be swapped at runtime.
type Assessor struct {
	mu       sync.RWMutex
	cfg      RiskConfig
	profiles map[string]Profile

	markets   MarketLookup
	exposures ExposureSource
	stop      *EmergencyStop
	now       func() time.Time
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithMarkets sets the category lookup. Without one, category and
// correlation checks degrade to a passing LOW result.
func WithMarkets(m MarketLookup) Option {
	return func(a *Assessor) { a.markets = m }
}

// WithExposureSource sets where exposures come from when a Portfolio
// carries none.
func WithExposureSource(s ExposureSource) Option {
	return func(a *Assessor) { a.exposures = s }
}

// WithEmergencyStop shares a switch with other components.
func WithEmergencyStop(s *EmergencyStop) Option {
	return func(a *Assessor) { a.stop = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Assessor) { a.now = now }
}

// New validates the config and profile table and returns an Assessor.
func New(cfg RiskConfig, profiles map[string]Profile, opts ...Option) (*Assessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	if err := validateProfiles(profiles, cfg.DefaultProfile); err != nil {
		return nil, err
	}

	a := &Assessor{
		cfg:      cfg,
		profiles: cloneProfiles(profiles),
		stop:     NewEmergencyStop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// EmergencyStop returns the switch consulted on every assessment.
func (a *Assessor) EmergencyStop() *EmergencyStop { return a.stop }

// SetEmergencyStop is set_emergency_stop.
func (a *Assessor) SetEmergencyStop(active bool, reason string) {
	a.stop.Set(active, reason)
}

// Config returns the current risk config.
func (a *Assessor) Config() RiskConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Profiles returns a copy of the profile table.
func (a *Assessor) Profiles() map[string]Profile {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneProfiles(a.profiles)
}

// UpdateConfig replaces the risk config after validating it. In-flight
// assessments finish on the config they started with.
func (a *Assessor) UpdateConfig(cfg RiskConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.profiles[cfg.DefaultProfile]; !ok {
		return fmt.Errorf("%w: default profile %q not in profile table", ErrInvalidConfig, cfg.DefaultProfile)
	}
	a.cfg = cfg
	slog.Info("risk config updated",
		"default_profile", cfg.DefaultProfile,
		"max_category_exposure_percent", cfg.MaxCategoryExposurePercent,
		"daily_loss_limit_percent", cfg.DailyLossLimitPercent,
		"max_correlation", cfg.MaxCorrelation,
		"checks_enabled", cfg.ChecksEnabled,
	)
	return nil
}

func validateOrder(o Order, p Portfolio) error {
	switch {
	case o.MarketID == "":
		return fmt.Errorf("%w: market_id is required", ErrInvalidInput)
	case o.Side != "yes" && o.Side != "no":
		return fmt.Errorf("%w: side must be \"yes\" or \"no\", got %q", ErrInvalidInput, o.Side)
	case o.Count <= 0:
		return fmt.Errorf("%w: count must be positive", ErrInvalidInput)
	case !o.Price.IsPositive() || o.Price.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: price must be in (0, 1]", ErrInvalidInput)
	case o.WinProbability < 0 || o.WinProbability > 1:
		return fmt.Errorf("%w: win_probability must be in [0, 1]", ErrInvalidInput)
	case !p.Value.IsPositive():
		return fmt.Errorf("%w: portfolio value must be positive", ErrInvalidInput)
	case p.DrawdownPercent < 0:
		return fmt.Errorf("%w: drawdown_percent must be non-negative", ErrInvalidInput)
	}
	return nil
}

// Assess is assess_trade_risk. It returns an error only for invalid input
// or when exposures had to be read and the read failed; every other
// condition is reported through the returned checks.
func (a *Assessor) Assess(ctx context.Context, o Order, p Portfolio) (*Assessment, error) {
	o.Side = strings.ToLower(o.Side)
	if err := validateOrder(o, p); err != nil {
		return nil, err
	}

	a.mu.RLock()
	cfg := a.cfg
	profileName, profile := a.profileLocked(o.RiskProfile, cfg.DefaultProfile)
	a.mu.RUnlock()

	if p.Exposures == nil && a.exposures != nil && o.UserID != "" {
		exp, err := a.exposures.CategoryExposures(ctx, o.UserID)
		if err != nil {
			return nil, fmt.Errorf("assess: load exposures for %s: %w", o.UserID, err)
		}
		p.Exposures = exp
	}

	size := o.Size()
	sizePct := size.Div(p.Value).Mul(decimal.NewFromInt(100)).InexactFloat64()

	var critical []string
	if a.stop.Active() {
		msg := "Emergency stop is active - all trading halted"
		if r := a.stop.Status().Reason; r != "" {
			msg += " (" + r + ")"
		}
		critical = append(critical, msg)
	}
	if !cfg.ChecksEnabled {
		critical = append(critical, "Risk checks are disabled")
	}

	category := a.category(ctx, o.MarketID)
	limiter := correlation.NewExposureLimiter(
		decimal.NewFromFloat(cfg.MaxCategoryExposurePercent),
		decimal.NewFromFloat(cfg.MaxCorrelation),
	)

	checks := []Check{
		checkDailyLoss(p, cfg),
		checkDrawdown(p, cfg),
		checkPositionSize(sizePct, profile),
		checkCategory(limiter, category, size, p),
		checkCorrelation(limiter, category, size, p),
		checkConfidence(o.WinProbability, profileName, profile),
	}

	level := LevelLow
	approved := len(critical) == 0
	for _, c := range checks {
		if c.Passed {
			continue
		}
		approved = false
		if c.Level.Rank() > level.Rank() {
			level = c.Level
		}
		if c.Level == LevelCritical {
			critical = append(critical, c.Message)
		}
	}
	if len(critical) > 0 {
		level = LevelCritical
	}

	kelly := KellyPercent(o.WinProbability, o.ExpectedReturn, profile.KellyFraction, profile.MaxPositionSizePercent)
	score := Score(checks, sizePct, o.ExpectedReturn)

	res := &Assessment{
		Approved:         approved,
		RiskLevel:        level,
		RiskScore:        score,
		PositionSize:     size,
		MaxLoss:          maxLoss(o, size),
		KellySizePercent: kelly,
		Profile:          profileName,
		Checks:           checks,
		CriticalIssues:   critical,
		Recommendations:  Recommendations(critical, checks, sizePct, kelly, o.ExpectedReturn, cfg.MaxPositionSizePercent),
		AssessedAt:       a.now().UTC(),
	}

	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	metrics.Assessments.WithLabelValues(outcome, string(level)).Inc()
	metrics.RiskScore.Observe(score)

	slog.Info("trade risk assessed",
		"user", o.UserID,
		"market", o.MarketID,
		"side", o.Side,
		"count", o.Count,
		"price", o.Price.String(),
		"approved", approved,
		"risk_level", level,
		"risk_score", score,
	)
	return res, nil
}

// profileLocked resolves a profile name, falling back to the default.
func (a *Assessor) profileLocked(name, def string) (string, Profile) {
	if p, ok := a.profiles[name]; ok {
		return name, p
	}
	return def, a.profiles[def]
}

// category returns "" when the market or its category is unknown.
func (a *Assessor) category(ctx context.Context, marketID string) string {
	if a.markets == nil {
		return ""
	}
	m, err := a.markets.GetMarket(ctx, marketID)
	if err != nil {
		slog.Debug("market lookup failed; category checks degraded", "market", marketID, "err", err)
		return ""
	}
	return m.Category
}

// maxLoss is the full stake for a yes buy; for a no buy the stake is
// scaled by (1 - price).
func maxLoss(o Order, size decimal.Decimal) decimal.Decimal {
	if o.Side == "yes" {
		return size
	}
	return size.Mul(decimal.NewFromInt(1).Sub(o.Price))
}

func cloneProfiles(in map[string]Profile) map[string]Profile {
	out := make(map[string]Profile, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
