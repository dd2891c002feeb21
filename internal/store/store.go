// Package store defines the persistence interface for the risk gate.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for market metadata), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrWatchlistFull is returned when a user already tracks the maximum
	// number of markets.
	ErrWatchlistFull = errors.New("store: watchlist full")
)

// DayTx is the set of operations available while a day row is locked.
// Every read sees the same snapshot the caller will write back.
type DayTx interface {
	// UpdateDayState writes the locked row back. Only the mutable fields
	// (realized P&L, spend, kill state, kill reason, updated_at) change.
	UpdateDayState(ctx context.Context, day *model.DayState) error

	// SumRealizedPnL sums realized_pnl for ledger rows closed at or after since.
	SumRealizedPnL(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)

	// SumSpend sums entry_price * qty for ledger rows opened at or after
	// since. An empty marketTicker sums every market.
	SumSpend(ctx context.Context, userID string, since time.Time, marketTicker string) (decimal.Decimal, error)

	// CountOpenPositions counts ledger rows that have not been closed.
	CountOpenPositions(ctx context.Context, userID string) (int, error)

	// InsertReservation records spend committed for dateKey.
	InsertReservation(ctx context.Context, r *model.Reservation) error

	// SumReserved sums reservations for dateKey that no ledger row has
	// consumed yet. An empty marketTicker sums every market.
	SumReserved(ctx context.Context, userID, dateKey, marketTicker string) (decimal.Decimal, error)
}

// DayFunc runs with the (user, day) row locked. Returning an error discards
// every write made through tx.
type DayFunc func(ctx context.Context, tx DayTx, day *model.DayState) error

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache for market metadata only.
type Store interface {
	DayTx

	// --- Day state ---

	// GetOrCreateDayState returns the row for (userID, dateKey), creating it
	// with startEquity if absent. Concurrent calls never create duplicates.
	GetOrCreateDayState(ctx context.Context, userID, dateKey string, startEquity decimal.Decimal) (*model.DayState, error)

	// WithDayLock creates the row if needed, locks it, and runs fn inside a
	// single transaction so read-modify-write is atomic per (user, day).
	WithDayLock(ctx context.Context, userID, dateKey string, startEquity decimal.Decimal, fn DayFunc) error

	// --- Ledger ---

	// InsertLedgerEntry appends a position record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// CloseLedgerEntry fills exit fields on an open entry.
	CloseLedgerEntry(ctx context.Context, id string, closedAt time.Time, exitPrice, realizedPnL decimal.Decimal) error

	// GetReservation returns a reservation by id.
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)

	// CategoryExposures sums the notional of open entries per market category.
	CategoryExposures(ctx context.Context, userID string) (map[string]decimal.Decimal, error)

	// --- Decision receipts ---

	// InsertDecisionReceipt appends an immutable audit record.
	InsertDecisionReceipt(ctx context.Context, r *model.DecisionReceipt) error

	// LatestDecision returns the most recent receipt for (user, market).
	LatestDecision(ctx context.Context, userID, marketTicker string) (*model.DecisionReceipt, error)

	// --- Markets ---

	// UpsertMarket creates or replaces market metadata.
	UpsertMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves market metadata by ticker.
	GetMarket(ctx context.Context, ticker string) (*model.Market, error)

	// --- Watchlist ---

	// AddWatch tracks a market, refreshing the entry if already tracked.
	// Returns ErrWatchlistFull when a new entry would exceed maxPerUser.
	AddWatch(ctx context.Context, w *model.WatchEntry, maxPerUser int) error

	// RemoveWatch stops tracking a market.
	RemoveWatch(ctx context.Context, userID, marketTicker string) error

	// ListWatches returns a user's non-expired entries.
	ListWatches(ctx context.Context, userID string, now time.Time) ([]model.WatchEntry, error)

	// ListActiveWatches returns every non-expired entry across users.
	ListActiveWatches(ctx context.Context, now time.Time) ([]model.WatchEntry, error)

	// DeleteExpiredWatches removes entries whose expiry has passed.
	DeleteExpiredWatches(ctx context.Context, now time.Time) (int64, error)
}
