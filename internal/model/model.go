// Package model defines the core domain types shared across the risk gate.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// KillState is the escalating trading-restriction level driven by drawdown.
type KillState string

const (
	KillNone KillState = "NONE"
	KillSoft KillState = "SOFT"
	KillHard KillState = "HARD"
)

// Rank orders kill states so escalation can be compared.
func (k KillState) Rank() int {
	switch k {
	case KillSoft:
		return 1
	case KillHard:
		return 2
	default:
		return 0
	}
}

// Valid reports whether k is one of the known kill states.
func (k KillState) Valid() bool {
	return k == KillNone || k == KillSoft || k == KillHard
}

// ReasonCode is the machine-readable cause attached to every gate decision.
type ReasonCode string

const (
	ReasonAllowed             ReasonCode = "ALLOWED"
	ReasonTradingDisabled     ReasonCode = "TRADING_DISABLED"
	ReasonEmergencyStop       ReasonCode = "EMERGENCY_STOP"
	ReasonDailyCapReached     ReasonCode = "DAILY_CAP_REACHED"
	ReasonPerMarketCapReached ReasonCode = "PER_MARKET_CAP_REACHED"
	ReasonTooManyPositions    ReasonCode = "TOO_MANY_POSITIONS"
	ReasonKillHard            ReasonCode = "KILL_HARD"
	ReasonSoftThrottle        ReasonCode = "SOFT_THROTTLE"
	ReasonHeartbeatOnly       ReasonCode = "HEARTBEAT_ONLY"
)

// Intended actions accepted by the gate.
const (
	ActionOpen      = "open"
	ActionHeartbeat = "heartbeat"
)

// DayState is one row per (user, local calendar day). StartEquity is fixed
// at creation; everything else is refreshed on each gate evaluation.
type DayState struct {
	UserID           string          `json:"user_id" db:"user_id"`
	DateLocal        string          `json:"date_local" db:"date_local"` // YYYY-MM-DD in the reference timezone
	StartEquity      decimal.Decimal `json:"start_equity" db:"start_equity"`
	RealizedPnLToday decimal.Decimal `json:"realized_pnl_today" db:"realized_pnl_today"`
	DailySpend       decimal.Decimal `json:"daily_spend" db:"daily_spend"`
	KillState        KillState       `json:"kill_state" db:"kill_state"`
	KillReason       string          `json:"kill_reason" db:"kill_reason"` // serialized breach markers
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one opened (and possibly closed) position. Rows are
// append-only; closing a position fills ClosedAt, ExitPrice and RealizedPnL.
type LedgerEntry struct {
	ID           string           `json:"id" db:"id"`
	UserID       string           `json:"user_id" db:"user_id"`
	MarketTicker string           `json:"market_ticker" db:"market_ticker"`
	OpenedAt     time.Time        `json:"opened_at" db:"opened_at"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty" db:"closed_at"` // nil while open
	Qty          int64            `json:"qty" db:"qty"`
	EntryPrice   decimal.Decimal  `json:"entry_price" db:"entry_price"`
	ExitPrice    *decimal.Decimal `json:"exit_price,omitempty" db:"exit_price"`
	RealizedPnL  decimal.Decimal  `json:"realized_pnl" db:"realized_pnl"`

	// ReservationID links the fill to the gate reservation it consumes.
	ReservationID string `json:"reservation_id,omitempty" db:"reservation_id"`
}

// Notional is entry_price * qty.
func (e LedgerEntry) Notional() decimal.Decimal {
	return e.EntryPrice.Mul(decimal.NewFromInt(e.Qty))
}

// Open reports whether the position is still held.
func (e LedgerEntry) Open() bool {
	return e.ClosedAt == nil
}

// Reservation is spend committed by the gate ahead of a fill. It counts
// against the daily and per-market caps until a ledger row consumes it.
type Reservation struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	DateLocal    string          `json:"date_local" db:"date_local"`
	MarketTicker string          `json:"market_ticker" db:"market_ticker"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Limits is the effective headroom reported with every gate decision.
type Limits struct {
	DailyRemaining     decimal.Decimal `json:"daily_remaining"`
	PerMarketRemaining decimal.Decimal `json:"per_market_remaining"`
	MaxPositions       int             `json:"max_positions"`
}

// DecisionReceipt is the immutable audit record of one gate evaluation.
type DecisionReceipt struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	MarketTicker   string     `json:"market_ticker" db:"market_ticker"`
	TS             time.Time  `json:"ts" db:"ts"`
	IntendedAction string     `json:"intended_action" db:"intended_action"`
	Allowed        bool       `json:"allowed" db:"allowed"`
	ReasonCode     ReasonCode `json:"reason_code" db:"reason_code"`
	KillState      KillState  `json:"kill_state" db:"kill_state"`
	SizeMultiplier float64    `json:"size_multiplier" db:"size_multiplier"`
	Limits         Limits     `json:"spend_snapshot" db:"spend_snapshot"`
}

// Market is the metadata the assessor needs about a traded market.
type Market struct {
	Ticker    string     `json:"ticker" db:"ticker"`
	Title     string     `json:"title" db:"title"`
	Category  string     `json:"category" db:"category"`
	CloseTime *time.Time `json:"close_time,omitempty" db:"close_time"`
}

// WatchEntry is a market a user tracks; the heartbeat job gates every
// non-expired entry.
type WatchEntry struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	MarketTicker  string    `json:"market_ticker" db:"market_ticker"`
	TrackedAt     time.Time `json:"tracked_at" db:"tracked_at"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
	AlertsEnabled bool      `json:"alerts_enabled" db:"alerts_enabled"`
}
