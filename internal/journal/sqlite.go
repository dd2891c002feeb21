// Package journal keeps an append-only local SQLite copy of decision
// receipts and trade assessments, for audit when the primary database is
// unavailable or remote.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	market_ticker TEXT NOT NULL,
	ts DATETIME NOT NULL,
	intended_action TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	reason_code TEXT NOT NULL,
	kill_state TEXT NOT NULL,
	size_multiplier REAL NOT NULL,
	daily_remaining TEXT NOT NULL,
	per_market_remaining TEXT NOT NULL,
	max_positions INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_receipts_user_ts ON receipts(user_id, ts);

CREATE TABLE IF NOT EXISTS assessments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	market_id TEXT NOT NULL,
	ts DATETIME NOT NULL,
	approved INTEGER NOT NULL,
	risk_level TEXT NOT NULL,
	risk_score REAL NOT NULL,
	payload TEXT NOT NULL
);
`

// SQLiteJournal writes receipts to a local SQLite file.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the journal at path.
func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// RecordReceipt appends a decision receipt. Re-recording the same ID is a
// no-op.
func (j *SQLiteJournal) RecordReceipt(ctx context.Context, r *model.DecisionReceipt) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO receipts
		(id, user_id, market_ticker, ts, intended_action, allowed, reason_code, kill_state,
		 size_multiplier, daily_remaining, per_market_remaining, max_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.MarketTicker, r.TS.UTC(), r.IntendedAction, r.Allowed,
		string(r.ReasonCode), string(r.KillState), r.SizeMultiplier,
		r.Limits.DailyRemaining.String(), r.Limits.PerMarketRemaining.String(), r.Limits.MaxPositions,
	)
	if err != nil {
		return fmt.Errorf("journal: record receipt %s: %w", r.ID, err)
	}
	return nil
}

// AssessmentRecord is the journaled form of a trade assessment. Payload
// holds the full JSON assessment.
type AssessmentRecord struct {
	UserID    string
	MarketID  string
	TS        time.Time
	Approved  bool
	RiskLevel string
	RiskScore float64
	Payload   any
}

// RecordAssessment appends a trade assessment.
func (j *SQLiteJournal) RecordAssessment(ctx context.Context, a AssessmentRecord) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("journal: encode assessment: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO assessments (user_id, market_id, ts, approved, risk_level, risk_score, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.MarketID, a.TS.UTC(), a.Approved, a.RiskLevel, a.RiskScore, string(payload),
	)
	if err != nil {
		return fmt.Errorf("journal: record assessment: %w", err)
	}
	return nil
}

// ListReceipts returns a user's receipts with ts in [start, end), oldest
// first.
func (j *SQLiteJournal) ListReceipts(ctx context.Context, userID string, start, end time.Time) ([]model.DecisionReceipt, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, user_id, market_ticker, ts, intended_action, allowed, reason_code, kill_state,
		       size_multiplier, daily_remaining, per_market_remaining, max_positions
		FROM receipts
		WHERE user_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC`, userID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DecisionReceipt
	for rows.Next() {
		var (
			r                model.DecisionReceipt
			reason, kill     string
			daily, perMarket string
		)
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.MarketTicker, &r.TS, &r.IntendedAction, &r.Allowed,
			&reason, &kill, &r.SizeMultiplier, &daily, &perMarket, &r.Limits.MaxPositions,
		); err != nil {
			return nil, err
		}
		r.ReasonCode = model.ReasonCode(reason)
		r.KillState = model.KillState(kill)
		if r.Limits.DailyRemaining, err = decimal.NewFromString(daily); err != nil {
			return nil, fmt.Errorf("journal: receipt %s daily_remaining: %w", r.ID, err)
		}
		if r.Limits.PerMarketRemaining, err = decimal.NewFromString(perMarket); err != nil {
			return nil, fmt.Errorf("journal: receipt %s per_market_remaining: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountAssessments returns the number of journaled assessments for a user.
func (j *SQLiteJournal) CountAssessments(ctx context.Context, userID string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assessments WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
