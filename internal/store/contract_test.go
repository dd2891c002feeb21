package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-gate/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// dayStart is local midnight 2025-06-10 in Los Angeles.
var dayStart = time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GetOrCreateDayStateIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.GetOrCreateDayState(ctx, "u1", "2025-06-10", d("1000"))
		require.NoError(t, err)
		second, err := s.GetOrCreateDayState(ctx, "u1", "2025-06-10", d("5000"))
		require.NoError(t, err)

		assert.True(t, first.StartEquity.Equal(d("1000")))
		assert.True(t, second.StartEquity.Equal(d("1000")), "start equity is fixed at creation")
		assert.Equal(t, model.KillNone, second.KillState)
		assert.True(t, second.DailySpend.IsZero())
	})

	t.Run("ConcurrentGetOrCreateYieldsOneRow", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		results := make([]decimal.Decimal, 16)
		errs := make([]error, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				day, err := s.GetOrCreateDayState(ctx, "u1", "2025-06-10", decimal.NewFromInt(int64(1000+i)))
				errs[i] = err
				if err == nil {
					results[i] = day.StartEquity
				}
			}(i)
		}
		wg.Wait()

		for i := range results {
			require.NoError(t, errs[i])
			assert.True(t, results[i].Equal(results[0]), "all callers must observe the same row")
		}
	})

	t.Run("WithDayLockDiscardsWritesOnError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.WithDayLock(ctx, "u1", "2025-06-10", d("1000"), func(ctx context.Context, tx DayTx, day *model.DayState) error {
			day.DailySpend = d("50")
			day.KillState = model.KillHard
			require.NoError(t, tx.UpdateDayState(ctx, day))
			return boom
		})
		require.ErrorIs(t, err, boom)

		day, err := s.GetOrCreateDayState(ctx, "u1", "2025-06-10", d("1000"))
		require.NoError(t, err)
		assert.True(t, day.DailySpend.IsZero())
		assert.Equal(t, model.KillNone, day.KillState)
	})

	t.Run("ReservationsCountUntilConsumed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ids := make([]string, 0, 3)
		err := s.WithDayLock(ctx, "u1", "2025-06-10", d("1000"), func(ctx context.Context, tx DayTx, day *model.DayState) error {
			for _, r := range []struct{ market, amount string }{{"KXA-1", "30"}, {"KXA-1", "5"}, {"KXB-2", "20"}} {
				id := uuid.NewString()
				ids = append(ids, id)
				if err := tx.InsertReservation(ctx, &model.Reservation{
					ID: id, UserID: "u1", DateLocal: "2025-06-10", MarketTicker: r.market,
					Amount: d(r.amount), CreatedAt: dayStart.Add(time.Hour),
				}); err != nil {
					return err
				}
			}
			inTx, err := tx.SumReserved(ctx, "u1", "2025-06-10", "")
			require.NoError(t, err)
			assert.True(t, inTx.Equal(d("55")), "reads inside the transaction see its own reservations, got %s", inTx)
			return nil
		})
		require.NoError(t, err)

		all, err := s.SumReserved(ctx, "u1", "2025-06-10", "")
		require.NoError(t, err)
		assert.True(t, all.Equal(d("55")), "got %s", all)
		one, err := s.SumReserved(ctx, "u1", "2025-06-10", "KXA-1")
		require.NoError(t, err)
		assert.True(t, one.Equal(d("35")), "got %s", one)
		other, err := s.SumReserved(ctx, "u1", "2025-06-11", "")
		require.NoError(t, err)
		assert.True(t, other.IsZero(), "reservations are scoped to their day")

		r, err := s.GetReservation(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "KXA-1", r.MarketTicker)
		assert.True(t, r.Amount.Equal(d("30")))
		_, err = s.GetReservation(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.InsertLedgerEntry(ctx, &model.LedgerEntry{
			ID: uuid.NewString(), UserID: "u1", MarketTicker: "KXA-1", OpenedAt: dayStart.Add(2 * time.Hour),
			Qty: 50, EntryPrice: d("0.5"), ReservationID: ids[0],
		}))
		one, err = s.SumReserved(ctx, "u1", "2025-06-10", "KXA-1")
		require.NoError(t, err)
		assert.True(t, one.Equal(d("5")), "a consumed reservation stops counting, got %s", one)
	})

	t.Run("ReservationDiscardedOnError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.WithDayLock(ctx, "u1", "2025-06-10", d("1000"), func(ctx context.Context, tx DayTx, day *model.DayState) error {
			require.NoError(t, tx.InsertReservation(ctx, &model.Reservation{
				ID: uuid.NewString(), UserID: "u1", DateLocal: "2025-06-10", MarketTicker: "KXA-1",
				Amount: d("30"), CreatedAt: dayStart,
			}))
			return errors.New("boom")
		})
		require.Error(t, err)

		total, err := s.SumReserved(ctx, "u1", "2025-06-10", "")
		require.NoError(t, err)
		assert.True(t, total.IsZero(), "got %s", total)
	})

	t.Run("WithDayLockSerializesReadModifyWrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.WithDayLock(ctx, "u1", "2025-06-10", d("1000"), func(ctx context.Context, tx DayTx, day *model.DayState) error {
					day.DailySpend = day.DailySpend.Add(d("5"))
					return tx.UpdateDayState(ctx, day)
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		day, err := s.GetOrCreateDayState(ctx, "u1", "2025-06-10", d("1000"))
		require.NoError(t, err)
		assert.True(t, day.DailySpend.Equal(d("100")), "got %s", day.DailySpend)
	})

	t.Run("LedgerAggregatesRespectDayBoundary", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		yesterday := dayStart.Add(-2 * time.Hour)
		morning := dayStart.Add(2 * time.Hour)
		noon := dayStart.Add(5 * time.Hour)

		entries := []*model.LedgerEntry{
			// Opened yesterday, closed today at a loss: counts for P&L only.
			{ID: uuid.NewString(), UserID: "u1", MarketTicker: "KXA-1", OpenedAt: yesterday, ClosedAt: &noon, Qty: 10, EntryPrice: d("0.50"), RealizedPnL: d("-3")},
			// Opened today, still open.
			{ID: uuid.NewString(), UserID: "u1", MarketTicker: "KXA-1", OpenedAt: morning, Qty: 20, EntryPrice: d("0.40")},
			{ID: uuid.NewString(), UserID: "u1", MarketTicker: "KXB-2", OpenedAt: morning, Qty: 10, EntryPrice: d("0.25")},
			// Another user.
			{ID: uuid.NewString(), UserID: "u2", MarketTicker: "KXA-1", OpenedAt: morning, Qty: 100, EntryPrice: d("0.90")},
		}
		for _, e := range entries {
			require.NoError(t, s.InsertLedgerEntry(ctx, e))
		}

		pnl, err := s.SumRealizedPnL(ctx, "u1", dayStart)
		require.NoError(t, err)
		assert.True(t, pnl.Equal(d("-3")), "got %s", pnl)

		all, err := s.SumSpend(ctx, "u1", dayStart, "")
		require.NoError(t, err)
		assert.True(t, all.Equal(d("10.5")), "got %s", all)

		one, err := s.SumSpend(ctx, "u1", dayStart, "KXA-1")
		require.NoError(t, err)
		assert.True(t, one.Equal(d("8")), "got %s", one)

		open, err := s.CountOpenPositions(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, open)
	})

	t.Run("CloseLedgerEntry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id := uuid.NewString()
		require.NoError(t, s.InsertLedgerEntry(ctx, &model.LedgerEntry{
			ID: id, UserID: "u1", MarketTicker: "KXA-1", OpenedAt: dayStart.Add(time.Hour), Qty: 10, EntryPrice: d("0.5"),
		}))
		require.NoError(t, s.CloseLedgerEntry(ctx, id, dayStart.Add(2*time.Hour), d("0.2"), d("-3")))

		pnl, err := s.SumRealizedPnL(ctx, "u1", dayStart)
		require.NoError(t, err)
		assert.True(t, pnl.Equal(d("-3")))

		err = s.CloseLedgerEntry(ctx, id, dayStart.Add(3*time.Hour), d("0.1"), d("-4"))
		assert.ErrorIs(t, err, ErrNotFound, "closing twice must fail")
	})

	t.Run("CategoryExposuresFromOpenEntries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertMarket(ctx, &model.Market{Ticker: "KXPRES-24", Title: "Election", Category: "politics"}))
		require.NoError(t, s.UpsertMarket(ctx, &model.Market{Ticker: "KXFED-25", Title: "Fed", Category: "finance"}))

		closed := dayStart.Add(time.Hour)
		for _, e := range []*model.LedgerEntry{
			{ID: uuid.NewString(), UserID: "u1", MarketTicker: "KXPRES-24", OpenedAt: dayStart, Qty: 100, EntryPrice: d("0.5")},
			{ID: uuid.NewString(), UserID: "u1", MarketTicker: "KXFED-25", OpenedAt: dayStart, Qty: 10, EntryPrice: d("0.3")},
			{ID: uuid.NewString(), UserID: "u1", MarketTicker: "KXFED-25", OpenedAt: dayStart, ClosedAt: &closed, Qty: 10, EntryPrice: d("0.3")},
			{ID: uuid.NewString(), UserID: "u1", MarketTicker: "KXUNKNOWN-1", OpenedAt: dayStart, Qty: 10, EntryPrice: d("0.3")},
		} {
			require.NoError(t, s.InsertLedgerEntry(ctx, e))
		}

		exp, err := s.CategoryExposures(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, exp, 2)
		assert.True(t, exp["politics"].Equal(d("50")))
		assert.True(t, exp["finance"].Equal(d("3")))
	})

	t.Run("LatestDecision", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.LatestDecision(ctx, "u1", "KXA-1")
		require.ErrorIs(t, err, ErrNotFound)

		for i, reason := range []model.ReasonCode{model.ReasonAllowed, model.ReasonSoftThrottle} {
			require.NoError(t, s.InsertDecisionReceipt(ctx, &model.DecisionReceipt{
				ID: uuid.NewString(), UserID: "u1", MarketTicker: "KXA-1",
				TS:             dayStart.Add(time.Duration(i) * time.Minute),
				IntendedAction: model.ActionOpen, Allowed: true, ReasonCode: reason,
				KillState: model.KillSoft, SizeMultiplier: 0.5,
				Limits: model.Limits{DailyRemaining: d("90"), PerMarketRemaining: d("30"), MaxPositions: 5},
			}))
		}

		r, err := s.LatestDecision(ctx, "u1", "KXA-1")
		require.NoError(t, err)
		assert.Equal(t, model.ReasonSoftThrottle, r.ReasonCode)
		assert.Equal(t, 5, r.Limits.MaxPositions)
		assert.True(t, r.Limits.DailyRemaining.Equal(d("90")))
	})

	t.Run("Markets", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetMarket(ctx, "KXNONE-1")
		require.ErrorIs(t, err, ErrNotFound)

		closeAt := dayStart.Add(48 * time.Hour)
		require.NoError(t, s.UpsertMarket(ctx, &model.Market{Ticker: "KXA-1", Title: "A", Category: "other", CloseTime: &closeAt}))
		require.NoError(t, s.UpsertMarket(ctx, &model.Market{Ticker: "KXA-1", Title: "A2", Category: "sports", CloseTime: &closeAt}))

		m, err := s.GetMarket(ctx, "KXA-1")
		require.NoError(t, err)
		assert.Equal(t, "A2", m.Title)
		assert.Equal(t, "sports", m.Category)
		require.NotNil(t, m.CloseTime)
		assert.True(t, m.CloseTime.Equal(closeAt))
	})

	t.Run("WatchlistLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := dayStart.Add(time.Hour)

		add := func(ticker string, expires time.Time) error {
			return s.AddWatch(ctx, &model.WatchEntry{
				ID: uuid.NewString(), UserID: "u1", MarketTicker: ticker,
				TrackedAt: now, ExpiresAt: expires, AlertsEnabled: true,
			}, 2)
		}

		require.NoError(t, add("KXA-1", now.Add(time.Hour)))
		require.NoError(t, add("KXB-1", now.Add(24*time.Hour)))
		// Re-adding refreshes rather than counting against the cap.
		require.NoError(t, add("KXA-1", now.Add(2*time.Hour)))
		require.ErrorIs(t, add("KXC-1", now.Add(time.Hour)), ErrWatchlistFull)

		active, err := s.ListWatches(ctx, "u1", now)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "KXA-1", active[0].MarketTicker)

		later := now.Add(3 * time.Hour)
		all, err := s.ListActiveWatches(ctx, later)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "KXB-1", all[0].MarketTicker)

		n, err := s.DeleteExpiredWatches(ctx, later)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		require.NoError(t, s.RemoveWatch(ctx, "u1", "KXB-1"))
		assert.ErrorIs(t, s.RemoveWatch(ctx, "u1", "KXB-1"), ErrNotFound)
	})
}
