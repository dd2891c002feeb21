// Package gate implements the date-scoped kill switch: every open and every
// heartbeat passes through Engine.Evaluate, which refreshes today's realized
// P&L, debounces drawdown breaches into a kill state, and enforces spend and
// position caps. All of it happens inside one day-row transaction.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/breach"
	"github.com/atmx/risk-gate/internal/caps"
	"github.com/atmx/risk-gate/internal/localday"
	"github.com/atmx/risk-gate/internal/metrics"
	"github.com/atmx/risk-gate/internal/model"
	"github.com/atmx/risk-gate/internal/store"
)

var (
	// ErrInvalidInput is returned for malformed requests. No state is read
	// or written when it is returned.
	ErrInvalidInput = errors.New("gate: invalid input")

	// ErrInvalidDayState is returned when the stored day row cannot be
	// evaluated (non-positive start equity, unknown kill state).
	ErrInvalidDayState = errors.New("gate: invalid day state")
)

// Size multipliers per kill state.
const (
	fullSize     = 1.0
	throttleSize = 0.5
)

// Config holds the gate's limits. The zero value has trading disabled.
type Config struct {
	TradingEnabled   bool
	StartEquity      decimal.Decimal
	Thresholds       breach.Thresholds
	HysteresisWindow time.Duration
	DailyCap         decimal.Decimal
	PerMarketCap     decimal.Decimal
	MaxPositions     int
	SoftMaxPositions int
}

// StopSwitch reports whether a process-wide emergency stop is engaged.
type StopSwitch interface {
	Active() bool
}

// KillStateHook is called after a kill-state escalation has been committed.
type KillStateHook func(userID string, from, to model.KillState)

// Request is one gate evaluation.
type Request struct {
	UserID        string          `json:"user_id"`
	MarketTicker  string          `json:"market_ticker"`
	Action        string          `json:"intended_action"`
	IntendedSpend decimal.Decimal `json:"intended_spend"`

	// Now overrides the engine clock when non-zero.
	Now time.Time `json:"now,omitempty"`
}

// Result is the gate decision. It is a value: callers own it once returned.
type Result struct {
	AllowNewOpen    bool             `json:"allow_new_open"`
	SizeMultiplier  float64          `json:"size_multiplier"`
	EffectiveLimits model.Limits     `json:"effective_limits"`
	ReasonCode      model.ReasonCode `json:"reason_code"`
	KillState       model.KillState  `json:"kill_state"`

	Drawdown  decimal.Decimal `json:"drawdown"`
	DateLocal string          `json:"date_local,omitempty"`
	EvalTime  time.Time       `json:"evaluated_at"`

	// ReservationID is set when Reserve committed spend. A fill that
	// carries it consumes the reservation.
	ReservationID string `json:"reservation_id,omitempty"`
}

// Engine evaluates gate requests against a store.
type Engine struct {
	store      store.Store
	cfg        Config
	detector   *breach.Detector
	hysteresis *breach.Hysteresis
	caps       *caps.Enforcer

	now       func() time.Time
	emergency StopSwitch
	onKill    []KillStateHook
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEmergencyStop blocks every open while sw is active.
func WithEmergencyStop(sw StopSwitch) Option {
	return func(e *Engine) { e.emergency = sw }
}

// WithKillStateHook registers a callback for committed escalations.
func WithKillStateHook(fn KillStateHook) Option {
	return func(e *Engine) { e.onKill = append(e.onKill, fn) }
}

// NewEngine validates cfg and builds an engine.
func NewEngine(st store.Store, cfg Config, opts ...Option) (*Engine, error) {
	det, err := breach.NewDetector(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	enf, err := caps.NewEnforcer(cfg.DailyCap, cfg.PerMarketCap, cfg.MaxPositions, cfg.SoftMaxPositions)
	if err != nil {
		return nil, err
	}
	if !cfg.StartEquity.IsPositive() {
		return nil, fmt.Errorf("%w: default start equity must be positive", ErrInvalidDayState)
	}

	e := &Engine{
		store:      st,
		cfg:        cfg,
		detector:   det,
		hysteresis: breach.NewHysteresis(cfg.HysteresisWindow),
		caps:       enf,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's limits.
func (e *Engine) Config() Config { return e.cfg }

// Evaluate is risk_gate: it decides whether a new open is allowed right now.
// Evaluation itself never consumes cap headroom; use Reserve for that.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Result, error) {
	return e.run(ctx, req, false)
}

// Reserve evaluates an open and, when allowed, records a reservation of
// intended_spend * size_multiplier in the same transaction, so concurrent
// reservations cannot jointly exceed the daily or per-market cap. The
// reservation counts against both caps until a fill consumes it.
func (e *Engine) Reserve(ctx context.Context, req Request) (Result, error) {
	if req.Action == "" {
		req.Action = model.ActionOpen
	}
	if req.Action != model.ActionOpen {
		return Result{}, fmt.Errorf("%w: only %q can reserve spend", ErrInvalidInput, model.ActionOpen)
	}
	return e.run(ctx, req, true)
}

// DayState returns today's row for a user, creating it if absent.
func (e *Engine) DayState(ctx context.Context, userID string) (*model.DayState, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return e.store.GetOrCreateDayState(ctx, userID, localday.Key(e.now()), e.cfg.StartEquity)
}

func validate(req Request) error {
	switch {
	case req.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	case req.Action != model.ActionOpen && req.Action != model.ActionHeartbeat:
		return fmt.Errorf("%w: intended_action must be %q or %q, got %q",
			ErrInvalidInput, model.ActionOpen, model.ActionHeartbeat, req.Action)
	case req.Action == model.ActionOpen && req.MarketTicker == "":
		return fmt.Errorf("%w: market_ticker is required for %q", ErrInvalidInput, model.ActionOpen)
	case req.IntendedSpend.IsNegative():
		return fmt.Errorf("%w: intended_spend must be non-negative", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, req Request, reserve bool) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	now := req.Now
	if now.IsZero() {
		now = e.now()
	}

	// Fail closed before touching storage.
	if !e.cfg.TradingEnabled {
		res := Result{
			ReasonCode: model.ReasonTradingDisabled,
			KillState:  model.KillNone,
			EvalTime:   now,
		}
		metrics.GateDecisions.WithLabelValues(req.Action, string(res.ReasonCode)).Inc()
		return res, nil
	}

	start := time.Now()
	defer func() {
		metrics.GateLatency.WithLabelValues(req.Action).Observe(time.Since(start).Seconds())
	}()

	dateKey := localday.Key(now)
	since := localday.Start(now)

	var (
		res       Result
		prevKill  model.KillState
		committed decimal.Decimal
	)
	err := e.store.WithDayLock(ctx, req.UserID, dateKey, e.cfg.StartEquity,
		func(ctx context.Context, tx store.DayTx, day *model.DayState) error {
			if !day.StartEquity.IsPositive() {
				return fmt.Errorf("%w: start equity %s", ErrInvalidDayState, day.StartEquity)
			}
			if !day.KillState.Valid() {
				return fmt.Errorf("%w: kill state %q", ErrInvalidDayState, day.KillState)
			}
			prevKill = day.KillState

			realized, err := tx.SumRealizedPnL(ctx, req.UserID, since)
			if err != nil {
				return err
			}
			day.RealizedPnLToday = realized

			observed, err := e.detector.Detect(realized, day.StartEquity)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidDayState, err)
			}
			kill, markers := e.hysteresis.Apply(day.KillState, breach.ParseMarkers(day.KillReason), observed.Level, now)
			day.KillState = kill
			day.KillReason = markers.String()

			usage, err := e.usage(ctx, tx, req, day, since)
			if err != nil {
				return err
			}
			day.DailySpend = usage.DailySpend

			res = e.decide(req, kill, usage)
			res.Drawdown = observed.Drawdown
			res.DateLocal = dateKey
			res.EvalTime = now

			if reserve && res.AllowNewOpen {
				amount := req.IntendedSpend.Mul(decimal.NewFromFloat(res.SizeMultiplier))
				r := &model.Reservation{
					ID:           uuid.NewString(),
					UserID:       req.UserID,
					DateLocal:    dateKey,
					MarketTicker: req.MarketTicker,
					Amount:       amount,
					CreatedAt:    now,
				}
				if err := tx.InsertReservation(ctx, r); err != nil {
					return err
				}
				day.DailySpend = day.DailySpend.Add(amount)
				usage.DailySpend = day.DailySpend
				usage.MarketSpend = usage.MarketSpend.Add(amount)
				res.EffectiveLimits = e.caps.Remaining(usage, kill)
				res.ReservationID = r.ID
				committed = amount
			}

			day.UpdatedAt = now
			return tx.UpdateDayState(ctx, day)
		})
	if err != nil {
		metrics.GateErrors.Inc()
		slog.Error("gate evaluation failed",
			"user", req.UserID,
			"market", req.MarketTicker,
			"action", req.Action,
			"err", err,
		)
		if errors.Is(err, ErrInvalidDayState) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("gate: evaluate %s: %w", req.UserID, err)
	}

	metrics.GateDecisions.WithLabelValues(req.Action, string(res.ReasonCode)).Inc()
	if committed.IsPositive() {
		metrics.SpendReserved.Add(committed.InexactFloat64())
	}
	if res.KillState.Rank() > prevKill.Rank() {
		e.escalated(req.UserID, prevKill, res.KillState, res.Drawdown)
	}
	return res, nil
}

// usage reads today's consumption. Spend is the ledger's opens today plus
// reservations no fill has consumed yet, so a reserved fill is counted once
// and unreserved fills still count. The day row's committed spend is a
// floor: it only ever grows within a day.
func (e *Engine) usage(ctx context.Context, tx store.DayTx, req Request, day *model.DayState, since time.Time) (caps.Usage, error) {
	daily, err := e.spend(ctx, tx, req.UserID, day.DateLocal, since, "")
	if err != nil {
		return caps.Usage{}, err
	}
	u := caps.Usage{DailySpend: decimal.Max(day.DailySpend, daily)}

	if req.MarketTicker != "" {
		if u.MarketSpend, err = e.spend(ctx, tx, req.UserID, day.DateLocal, since, req.MarketTicker); err != nil {
			return caps.Usage{}, err
		}
	}
	if req.Action == model.ActionOpen {
		if u.OpenPositions, err = tx.CountOpenPositions(ctx, req.UserID); err != nil {
			return caps.Usage{}, err
		}
	}
	return u, nil
}

func (e *Engine) spend(ctx context.Context, tx store.DayTx, userID, dateKey string, since time.Time, marketTicker string) (decimal.Decimal, error) {
	filled, err := tx.SumSpend(ctx, userID, since, marketTicker)
	if err != nil {
		return decimal.Zero, err
	}
	reserved, err := tx.SumReserved(ctx, userID, dateKey, marketTicker)
	if err != nil {
		return decimal.Zero, err
	}
	return filled.Add(reserved), nil
}

// decide applies the fixed precedence: emergency stop, daily cap,
// per-market cap, position count, HARD, SOFT, allow.
func (e *Engine) decide(req Request, kill model.KillState, u caps.Usage) Result {
	res := Result{
		KillState:       kill,
		EffectiveLimits: e.caps.Remaining(u, kill),
	}

	if req.Action == model.ActionHeartbeat {
		res.SizeMultiplier = sizeFor(kill)
		res.ReasonCode = model.ReasonHeartbeatOnly
		return res
	}

	if e.emergency != nil && e.emergency.Active() {
		res.ReasonCode = model.ReasonEmergencyStop
		return res
	}
	if err := e.caps.Check(u, req.IntendedSpend, kill); err != nil {
		res.ReasonCode, _ = caps.ReasonFor(err)
		return res
	}

	switch kill {
	case model.KillHard:
		res.ReasonCode = model.ReasonKillHard
	case model.KillSoft:
		res.AllowNewOpen = true
		res.SizeMultiplier = throttleSize
		res.ReasonCode = model.ReasonSoftThrottle
	default:
		res.AllowNewOpen = true
		res.SizeMultiplier = fullSize
		res.ReasonCode = model.ReasonAllowed
	}
	return res
}

func sizeFor(kill model.KillState) float64 {
	switch kill {
	case model.KillHard:
		return 0
	case model.KillSoft:
		return throttleSize
	default:
		return fullSize
	}
}

func (e *Engine) escalated(userID string, from, to model.KillState, drawdown decimal.Decimal) {
	slog.Warn("kill state escalated",
		"user", userID,
		"from", from,
		"kill_state", to,
		"drawdown", drawdown.String(),
	)
	metrics.KillStateEscalations.WithLabelValues(string(to)).Inc()
	for _, fn := range e.onKill {
		fn(userID, from, to)
	}
}
