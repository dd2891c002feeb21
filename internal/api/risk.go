package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/assess"
	"github.com/atmx/risk-gate/internal/journal"
	"github.com/atmx/risk-gate/internal/model"
)

// AssessRequest is the JSON body for POST /api/v1/risk/assess.
// Without a portfolio, one is derived from the user's day state.
type AssessRequest struct {
	assess.Order
	Portfolio *assess.Portfolio `json:"portfolio,omitempty"`
}

// EmergencyStopRequest is the JSON body for POST /api/v1/risk/emergency-stop.
type EmergencyStopRequest struct {
	Active *bool  `json:"active"`
	Reason string `json:"reason"`
}

// GateLimits is the gate's configured limits as reported by the metrics
// endpoint.
type GateLimits struct {
	TradingEnabled    bool            `json:"trading_enabled"`
	DailyCap          decimal.Decimal `json:"daily_cap"`
	PerMarketCap      decimal.Decimal `json:"per_market_cap"`
	MaxPositions      int             `json:"max_positions"`
	SoftMaxPositions  int             `json:"soft_max_positions"`
	SoftDrawdown      decimal.Decimal `json:"soft_drawdown"`
	HardDrawdown      decimal.Decimal `json:"hard_drawdown"`
	HysteresisSeconds float64         `json:"hysteresis_seconds"`
}

// RiskMetricsResponse is the JSON body returned from GET /api/v1/risk/metrics.
type RiskMetricsResponse struct {
	UserID        string                    `json:"user_id,omitempty"`
	DayState      *model.DayState           `json:"day_state,omitempty"`
	KillState     model.KillState           `json:"kill_state,omitempty"`
	Gate          GateLimits                `json:"gate"`
	RiskConfig    assess.RiskConfig         `json:"risk_config"`
	Profiles      map[string]assess.Profile `json:"risk_profiles"`
	EmergencyStop assess.StopStatus         `json:"emergency_stop"`
	ChecksEnabled bool                      `json:"risk_checks_enabled"`
}

// AssessTrade handles POST /api/v1/risk/assess.
func (s *Service) AssessTrade(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}

	ctx := r.Context()
	var p assess.Portfolio
	if req.Portfolio != nil {
		p = *req.Portfolio
	} else {
		derived, err := s.portfolioFromDay(ctx, req.UserID)
		if err != nil {
			fail(w, r, err)
			return
		}
		p = derived
	}

	a, err := s.assessor.Assess(ctx, req.Order, p)
	if err != nil {
		fail(w, r, err)
		return
	}

	if s.journal != nil {
		rec := journal.AssessmentRecord{
			UserID:    req.UserID,
			MarketID:  req.MarketID,
			TS:        a.AssessedAt,
			Approved:  a.Approved,
			RiskLevel: string(a.RiskLevel),
			RiskScore: a.RiskScore,
			Payload:   a,
		}
		if err := s.journal.RecordAssessment(ctx, rec); err != nil {
			slog.Warn("journal assessment write failed", "user", req.UserID, "market", req.MarketID, "err", err)
		}
	}

	writeJSON(w, http.StatusOK, a)
}

// minPortfolioValue floors a derived portfolio value. An account whose
// losses have consumed its start equity is still assessed, and every
// percentage check then fails at CRITICAL.
var minPortfolioValue = decimal.New(1, -2)

// portfolioFromDay values the account at start equity plus today's
// realized P&L, as last refreshed by the gate.
func (s *Service) portfolioFromDay(ctx context.Context, userID string) (assess.Portfolio, error) {
	if userID == "" {
		return assess.Portfolio{}, invalid("user_id or portfolio is required")
	}
	day, err := s.gate.DayState(ctx, userID)
	if err != nil {
		return assess.Portfolio{}, err
	}

	p := assess.Portfolio{
		Value:    decimal.Max(day.StartEquity.Add(day.RealizedPnLToday), minPortfolioValue),
		DailyPnL: day.RealizedPnLToday,
	}
	if day.RealizedPnLToday.IsNegative() && day.StartEquity.IsPositive() {
		p.DrawdownPercent = day.RealizedPnLToday.Neg().
			Div(day.StartEquity).
			Mul(decimal.NewFromInt(100)).
			InexactFloat64()
	}
	return p, nil
}

// SetEmergencyStop handles POST /api/v1/risk/emergency-stop.
func (s *Service) SetEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req EmergencyStopRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.Active == nil {
		fail(w, r, invalid("active is required"))
		return
	}

	s.assessor.SetEmergencyStop(*req.Active, req.Reason)
	writeJSON(w, http.StatusOK, s.assessor.EmergencyStop().Status())
}

// RiskMetrics handles GET /api/v1/risk/metrics?user_id=.
func (s *Service) RiskMetrics(w http.ResponseWriter, r *http.Request) {
	cfg := s.gate.Config()
	rc := s.assessor.Config()
	resp := RiskMetricsResponse{
		Gate: GateLimits{
			TradingEnabled:    cfg.TradingEnabled,
			DailyCap:          cfg.DailyCap,
			PerMarketCap:      cfg.PerMarketCap,
			MaxPositions:      cfg.MaxPositions,
			SoftMaxPositions:  cfg.SoftMaxPositions,
			SoftDrawdown:      cfg.Thresholds.Soft,
			HardDrawdown:      cfg.Thresholds.Hard,
			HysteresisSeconds: cfg.HysteresisWindow.Seconds(),
		},
		RiskConfig:    rc,
		Profiles:      s.assessor.Profiles(),
		EmergencyStop: s.assessor.EmergencyStop().Status(),
		ChecksEnabled: rc.ChecksEnabled,
	}

	if userID := r.URL.Query().Get("user_id"); userID != "" {
		day, err := s.gate.DayState(r.Context(), userID)
		if err != nil {
			fail(w, r, err)
			return
		}
		resp.UserID = userID
		resp.DayState = day
		resp.KillState = day.KillState
	}

	writeJSON(w, http.StatusOK, resp)
}

// UpdateRiskConfig handles PUT /api/v1/risk/config. Fields absent from the
// body keep their current values.
func (s *Service) UpdateRiskConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.assessor.Config()
	if err := decode(r, &cfg); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.assessor.UpdateConfig(cfg); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.assessor.Config())
}
