package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same
// queries run inside and outside a day-row transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pgDay
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgDay: pgDay{q: pool}, pool: pool}
}

// --- Day state ---

const insertDaySQL = `
	INSERT INTO day_state (user_id, date_local, start_equity, realized_pnl_today, daily_spend, kill_state, kill_reason, updated_at)
	VALUES ($1, $2, $3::NUMERIC, 0, 0, 'NONE', '', now())
	ON CONFLICT (user_id, date_local) DO NOTHING`

const selectDaySQL = `
	SELECT user_id, date_local, start_equity::TEXT, realized_pnl_today::TEXT,
	       daily_spend::TEXT, kill_state, kill_reason, updated_at
	FROM day_state WHERE user_id = $1 AND date_local = $2`

func (s *PostgresStore) GetOrCreateDayState(ctx context.Context, userID, dateKey string, startEquity decimal.Decimal) (*model.DayState, error) {
	if _, err := s.pool.Exec(ctx, insertDaySQL, userID, dateKey, startEquity.String()); err != nil {
		return nil, fmt.Errorf("create day state %s/%s: %w", userID, dateKey, err)
	}
	return scanDayState(s.pool.QueryRow(ctx, selectDaySQL, userID, dateKey))
}

// WithDayLock upserts the row then holds SELECT ... FOR UPDATE for the
// lifetime of fn. Concurrent evaluations for the same (user, day) queue on
// the row lock; different users never contend.
func (s *PostgresStore) WithDayLock(ctx context.Context, userID, dateKey string, startEquity decimal.Decimal, fn DayFunc) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertDaySQL, userID, dateKey, startEquity.String()); err != nil {
			return fmt.Errorf("create day state %s/%s: %w", userID, dateKey, err)
		}
		day, err := scanDayState(tx.QueryRow(ctx, selectDaySQL+" FOR UPDATE", userID, dateKey))
		if err != nil {
			return err
		}
		return fn(ctx, pgDay{q: tx}, day)
	})
}

func scanDayState(row pgx.Row) (*model.DayState, error) {
	var d model.DayState
	var equity, realized, spend, kill string

	err := row.Scan(&d.UserID, &d.DateLocal, &equity, &realized, &spend, &kill, &d.KillReason, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("day state: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan day state: %w", err)
	}
	if d.StartEquity, err = decimal.NewFromString(equity); err != nil {
		return nil, fmt.Errorf("parse start_equity %q: %w", equity, err)
	}
	if d.RealizedPnLToday, err = decimal.NewFromString(realized); err != nil {
		return nil, fmt.Errorf("parse realized_pnl_today %q: %w", realized, err)
	}
	if d.DailySpend, err = decimal.NewFromString(spend); err != nil {
		return nil, fmt.Errorf("parse daily_spend %q: %w", spend, err)
	}
	d.KillState = model.KillState(kill)
	return &d, nil
}

// pgDay implements DayTx against either the pool or an open transaction.
type pgDay struct {
	q querier
}

func (p pgDay) UpdateDayState(ctx context.Context, day *model.DayState) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE day_state
		 SET realized_pnl_today = $3::NUMERIC, daily_spend = $4::NUMERIC,
		     kill_state = $5, kill_reason = $6, updated_at = $7
		 WHERE user_id = $1 AND date_local = $2`,
		day.UserID, day.DateLocal,
		day.RealizedPnLToday.String(), day.DailySpend.String(),
		string(day.KillState), day.KillReason, day.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update day state %s/%s: %w", day.UserID, day.DateLocal, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("day state %s/%s: %w", day.UserID, day.DateLocal, ErrNotFound)
	}
	return nil
}

func (p pgDay) SumRealizedPnL(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	return p.sum(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0)::TEXT
		 FROM pnl_ledger WHERE user_id = $1 AND closed_at >= $2`,
		userID, since)
}

func (p pgDay) SumSpend(ctx context.Context, userID string, since time.Time, marketTicker string) (decimal.Decimal, error) {
	return p.sum(ctx,
		`SELECT COALESCE(SUM(entry_price * qty), 0)::TEXT
		 FROM pnl_ledger
		 WHERE user_id = $1 AND opened_at >= $2
		   AND ($3::TEXT = '' OR market_ticker = $3::TEXT)`,
		userID, since, marketTicker)
}

func (p pgDay) CountOpenPositions(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM pnl_ledger WHERE user_id = $1 AND closed_at IS NULL`,
		userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open positions %s: %w", userID, err)
	}
	return n, nil
}

func (p pgDay) InsertReservation(ctx context.Context, r *model.Reservation) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO spend_reservations (id, user_id, date_local, market_ticker, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		r.ID, r.UserID, r.DateLocal, r.MarketTicker, r.Amount.String(), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", r.ID, err)
	}
	return nil
}

func (p pgDay) SumReserved(ctx context.Context, userID, dateKey, marketTicker string) (decimal.Decimal, error) {
	return p.sum(ctx,
		`SELECT COALESCE(SUM(r.amount), 0)::TEXT
		 FROM spend_reservations r
		 WHERE r.user_id = $1 AND r.date_local = $2
		   AND ($3::TEXT = '' OR r.market_ticker = $3::TEXT)
		   AND NOT EXISTS (SELECT 1 FROM pnl_ledger l WHERE l.reservation_id = r.id)`,
		userID, dateKey, marketTicker)
}

func (p pgDay) sum(ctx context.Context, sql string, args ...any) (decimal.Decimal, error) {
	var s string
	if err := p.q.QueryRow(ctx, sql, args...).Scan(&s); err != nil {
		return decimal.Zero, fmt.Errorf("ledger aggregate: %w", err)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse ledger aggregate %q: %w", s, err)
	}
	return v, nil
}

// --- Ledger ---

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	var exit *string
	if e.ExitPrice != nil {
		v := e.ExitPrice.String()
		exit = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pnl_ledger (id, user_id, market_ticker, opened_at, closed_at, qty, entry_price, exit_price, realized_pnl, reservation_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, NULLIF($10, ''))`,
		e.ID, e.UserID, e.MarketTicker, e.OpenedAt, e.ClosedAt,
		e.Qty, e.EntryPrice.String(), exit, e.RealizedPnL.String(), e.ReservationID,
	)
	return err
}

func (s *PostgresStore) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	var r model.Reservation
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, date_local, market_ticker, amount::TEXT, created_at
		 FROM spend_reservations WHERE id = $1`, id).
		Scan(&r.ID, &r.UserID, &r.DateLocal, &r.MarketTicker, &amount, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse reservation amount %q: %w", amount, err)
	}
	return &r, nil
}

func (s *PostgresStore) CloseLedgerEntry(ctx context.Context, id string, closedAt time.Time, exitPrice, realizedPnL decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pnl_ledger
		 SET closed_at = $2, exit_price = $3::NUMERIC, realized_pnl = $4::NUMERIC
		 WHERE id = $1 AND closed_at IS NULL`,
		id, closedAt, exitPrice.String(), realizedPnL.String(),
	)
	if err != nil {
		return fmt.Errorf("close ledger entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open ledger entry %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CategoryExposures(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.category, COALESCE(SUM(l.entry_price * l.qty), 0)::TEXT
		 FROM pnl_ledger l
		 JOIN markets m ON m.ticker = l.market_ticker
		 WHERE l.user_id = $1 AND l.closed_at IS NULL
		 GROUP BY m.category`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exposures := make(map[string]decimal.Decimal)
	for rows.Next() {
		var category, expStr string
		if err := rows.Scan(&category, &expStr); err != nil {
			return nil, err
		}
		exp, _ := decimal.NewFromString(expStr)
		exposures[category] = exp
	}

	return exposures, rows.Err()
}

// --- Decision receipts ---

func (s *PostgresStore) InsertDecisionReceipt(ctx context.Context, r *model.DecisionReceipt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decision_receipts
		   (id, user_id, market_ticker, ts, intended_action, allowed, reason_code, kill_state,
		    size_multiplier, daily_remaining, per_market_remaining, max_positions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11::NUMERIC, $12)`,
		r.ID, r.UserID, r.MarketTicker, r.TS, r.IntendedAction, r.Allowed,
		string(r.ReasonCode), string(r.KillState), r.SizeMultiplier,
		r.Limits.DailyRemaining.String(), r.Limits.PerMarketRemaining.String(), r.Limits.MaxPositions,
	)
	return err
}

func (s *PostgresStore) LatestDecision(ctx context.Context, userID, marketTicker string) (*model.DecisionReceipt, error) {
	var r model.DecisionReceipt
	var reason, kill, dailyRem, perMarketRem string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, market_ticker, ts, intended_action, allowed, reason_code, kill_state,
		        size_multiplier, daily_remaining::TEXT, per_market_remaining::TEXT, max_positions
		 FROM decision_receipts
		 WHERE user_id = $1 AND market_ticker = $2
		 ORDER BY ts DESC LIMIT 1`, userID, marketTicker).
		Scan(&r.ID, &r.UserID, &r.MarketTicker, &r.TS, &r.IntendedAction, &r.Allowed, &reason, &kill,
			&r.SizeMultiplier, &dailyRem, &perMarketRem, &r.Limits.MaxPositions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decision for %s/%s: %w", userID, marketTicker, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest decision %s/%s: %w", userID, marketTicker, err)
	}

	r.ReasonCode = model.ReasonCode(reason)
	r.KillState = model.KillState(kill)
	r.Limits.DailyRemaining, _ = decimal.NewFromString(dailyRem)
	r.Limits.PerMarketRemaining, _ = decimal.NewFromString(perMarketRem)
	return &r, nil
}

// --- Markets ---

func (s *PostgresStore) UpsertMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (ticker, title, category, close_time)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (ticker) DO UPDATE
		 SET title = EXCLUDED.title, category = EXCLUDED.category, close_time = EXCLUDED.close_time`,
		m.Ticker, m.Title, m.Category, m.CloseTime,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, ticker string) (*model.Market, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx,
		`SELECT ticker, title, category, close_time FROM markets WHERE ticker = $1`, ticker).
		Scan(&m.Ticker, &m.Title, &m.Category, &m.CloseTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", ticker, err)
	}
	return &m, nil
}

// --- Watchlist ---

// AddWatch serializes per user with a transaction-scoped advisory lock so
// two concurrent adds cannot both slip under the cap.
func (s *PostgresStore) AddWatch(ctx context.Context, w *model.WatchEntry, maxPerUser int) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, w.UserID); err != nil {
			return fmt.Errorf("lock watchlist %s: %w", w.UserID, err)
		}

		var existingID string
		err := tx.QueryRow(ctx,
			`UPDATE watchlist SET tracked_at = $3, expires_at = $4, alerts_enabled = $5
			 WHERE user_id = $1 AND market_ticker = $2
			 RETURNING id`,
			w.UserID, w.MarketTicker, w.TrackedAt, w.ExpiresAt, w.AlertsEnabled).Scan(&existingID)
		if err == nil {
			w.ID = existingID
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("refresh watch %s/%s: %w", w.UserID, w.MarketTicker, err)
		}

		var active int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM watchlist WHERE user_id = $1 AND expires_at > $2`,
			w.UserID, w.TrackedAt).Scan(&active); err != nil {
			return fmt.Errorf("count watches %s: %w", w.UserID, err)
		}
		if active >= maxPerUser {
			return fmt.Errorf("user %s tracks %d markets: %w", w.UserID, active, ErrWatchlistFull)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO watchlist (id, user_id, market_ticker, tracked_at, expires_at, alerts_enabled)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			w.ID, w.UserID, w.MarketTicker, w.TrackedAt, w.ExpiresAt, w.AlertsEnabled)
		return err
	})
}

func (s *PostgresStore) RemoveWatch(ctx context.Context, userID, marketTicker string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist WHERE user_id = $1 AND market_ticker = $2`, userID, marketTicker)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("watch %s/%s: %w", userID, marketTicker, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListWatches(ctx context.Context, userID string, now time.Time) ([]model.WatchEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_ticker, tracked_at, expires_at, alerts_enabled
		 FROM watchlist WHERE user_id = $1 AND expires_at > $2
		 ORDER BY market_ticker`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWatchEntries(rows)
}

func (s *PostgresStore) ListActiveWatches(ctx context.Context, now time.Time) ([]model.WatchEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_ticker, tracked_at, expires_at, alerts_enabled
		 FROM watchlist WHERE expires_at > $1
		 ORDER BY user_id, market_ticker`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWatchEntries(rows)
}

func (s *PostgresStore) DeleteExpiredWatches(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watchlist WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// scanWatchEntries reads pgx rows into WatchEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanWatchEntries(rows pgxRows) ([]model.WatchEntry, error) {
	var entries []model.WatchEntry
	for rows.Next() {
		var e model.WatchEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.MarketTicker, &e.TrackedAt, &e.ExpiresAt, &e.AlertsEnabled); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
