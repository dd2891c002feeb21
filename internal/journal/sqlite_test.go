package journal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-gate/internal/model"
	"github.com/atmx/risk-gate/internal/store"
)

func newTestJournal(t *testing.T) (*SQLiteJournal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func receipt(id string, ts time.Time) *model.DecisionReceipt {
	return &model.DecisionReceipt{
		ID:             id,
		UserID:         "u1",
		MarketTicker:   "KXA-1",
		TS:             ts,
		IntendedAction: model.ActionOpen,
		Allowed:        true,
		ReasonCode:     model.ReasonSoftThrottle,
		KillState:      model.KillSoft,
		SizeMultiplier: 0.5,
		Limits: model.Limits{
			DailyRemaining:     decimal.RequireFromString("62.5"),
			PerMarketRemaining: decimal.RequireFromString("40"),
			MaxPositions:       5,
		},
	}
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()
	j, path := newTestJournal(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('receipts','assessments')`,
	).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestRecordReceipt_RoundTrip(t *testing.T) {
	t.Parallel()
	j, _ := newTestJournal(t)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordReceipt(ctx, receipt("r1", t0)))
	require.NoError(t, j.RecordReceipt(ctx, receipt("r2", t0.Add(time.Minute))))
	require.NoError(t, j.RecordReceipt(ctx, receipt("r1", t0)), "duplicate id is ignored")
	require.NoError(t, j.RecordReceipt(ctx, receipt("r3", t0.Add(24*time.Hour))))

	got, err := j.ListReceipts(ctx, "u1", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "r2", got[1].ID)

	r := got[0]
	assert.True(t, r.TS.Equal(t0))
	assert.True(t, r.Allowed)
	assert.Equal(t, model.ReasonSoftThrottle, r.ReasonCode)
	assert.Equal(t, model.KillSoft, r.KillState)
	assert.Equal(t, 0.5, r.SizeMultiplier)
	assert.True(t, r.Limits.DailyRemaining.Equal(decimal.RequireFromString("62.5")))
	assert.Equal(t, 5, r.Limits.MaxPositions)
}

func TestRecordAssessment(t *testing.T) {
	t.Parallel()
	j, _ := newTestJournal(t)
	ctx := context.Background()

	rec := AssessmentRecord{
		UserID: "u1", MarketID: "KXA-1", TS: time.Now(),
		Approved: false, RiskLevel: "critical", RiskScore: 91,
		Payload: map[string]any{"approved": false},
	}
	require.NoError(t, j.RecordAssessment(ctx, rec))
	require.NoError(t, j.RecordAssessment(ctx, rec))

	n, err := j.CountAssessments(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

type failingReceipts struct {
	store.Store
}

func (failingReceipts) InsertDecisionReceipt(context.Context, *model.DecisionReceipt) error {
	return errors.New("primary down")
}

func TestMirrorStore(t *testing.T) {
	t.Parallel()
	j, _ := newTestJournal(t)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)

	primary := store.NewMemoryStore()
	m := NewMirrorStore(primary, j)
	require.NoError(t, m.InsertDecisionReceipt(ctx, receipt("r1", t0)))

	latest, err := primary.LatestDecision(ctx, "u1", "KXA-1")
	require.NoError(t, err)
	assert.Equal(t, "r1", latest.ID)

	got, err := j.ListReceipts(ctx, "u1", t0, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// A failed primary write is not journaled.
	bad := NewMirrorStore(failingReceipts{Store: primary}, j)
	assert.Error(t, bad.InsertDecisionReceipt(ctx, receipt("r2", t0)))
	got, err = j.ListReceipts(ctx, "u1", t0, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
