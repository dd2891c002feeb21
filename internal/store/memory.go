package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	days     map[string]*model.DayState
	ledger   []model.LedgerEntry
	receipts []model.DecisionReceipt
	markets  map[string]*model.Market
	watches  map[string]*model.WatchEntry

	reservations []model.Reservation

	lockMu   sync.Mutex
	dayLocks map[string]*dayLock
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		days:     make(map[string]*model.DayState),
		markets:  make(map[string]*model.Market),
		watches:  make(map[string]*model.WatchEntry),
		dayLocks: make(map[string]*dayLock),
	}
}

func dayKey(userID, dateKey string) string { return userID + "|" + dateKey }
func watchKey(userID, ticker string) string { return userID + "|" + ticker }

// --- Day state ---

func (s *MemoryStore) GetOrCreateDayState(_ context.Context, userID, dateKey string, startEquity decimal.Decimal) (*model.DayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := dayKey(userID, dateKey)
	day, ok := s.days[k]
	if !ok {
		day = &model.DayState{
			UserID:           userID,
			DateLocal:        dateKey,
			StartEquity:      startEquity,
			RealizedPnLToday: decimal.Zero,
			DailySpend:       decimal.Zero,
			KillState:        model.KillNone,
			UpdatedAt:        time.Now().UTC(),
		}
		s.days[k] = day
	}
	copy := *day
	return &copy, nil
}

func (s *MemoryStore) UpdateDayState(_ context.Context, day *model.DayState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putDayLocked(day)
}

func (s *MemoryStore) putDayLocked(day *model.DayState) error {
	existing, ok := s.days[dayKey(day.UserID, day.DateLocal)]
	if !ok {
		return fmt.Errorf("day state %s/%s: %w", day.UserID, day.DateLocal, ErrNotFound)
	}
	// StartEquity is immutable once created.
	existing.RealizedPnLToday = day.RealizedPnLToday
	existing.DailySpend = day.DailySpend
	existing.KillState = day.KillState
	existing.KillReason = day.KillReason
	existing.UpdatedAt = day.UpdatedAt
	return nil
}

func (s *MemoryStore) WithDayLock(ctx context.Context, userID, dateKey string, startEquity decimal.Decimal, fn DayFunc) error {
	k := dayKey(userID, dateKey)
	l := s.acquireDayLock(k)
	defer s.releaseDayLock(k, l)

	day, err := s.GetOrCreateDayState(ctx, userID, dateKey, startEquity)
	if err != nil {
		return err
	}

	tx := &memoryDayTx{MemoryStore: s}
	if err := fn(ctx, tx, day); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.pending != nil {
		if err := s.putDayLocked(tx.pending); err != nil {
			return err
		}
	}
	s.reservations = append(s.reservations, tx.reserved...)
	return nil
}

// dayLock serializes WithDayLock per (user, day). Entries live only while
// a caller holds or waits on them.
type dayLock struct {
	mu   sync.Mutex
	refs int
}

func (s *MemoryStore) acquireDayLock(k string) *dayLock {
	s.lockMu.Lock()
	l, ok := s.dayLocks[k]
	if !ok {
		l = &dayLock{}
		s.dayLocks[k] = l
	}
	l.refs++
	s.lockMu.Unlock()

	l.mu.Lock()
	return l
}

func (s *MemoryStore) releaseDayLock(k string, l *dayLock) {
	l.mu.Unlock()

	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if l.refs--; l.refs == 0 {
		delete(s.dayLocks, k)
	}
}

// memoryDayTx buffers writes until fn succeeds.
type memoryDayTx struct {
	*MemoryStore
	pending  *model.DayState
	reserved []model.Reservation
}

func (tx *memoryDayTx) UpdateDayState(_ context.Context, day *model.DayState) error {
	copy := *day
	tx.pending = &copy
	return nil
}

func (tx *memoryDayTx) InsertReservation(_ context.Context, r *model.Reservation) error {
	tx.reserved = append(tx.reserved, *r)
	return nil
}

func (tx *memoryDayTx) SumReserved(ctx context.Context, userID, dateKey, marketTicker string) (decimal.Decimal, error) {
	total, err := tx.MemoryStore.SumReserved(ctx, userID, dateKey, marketTicker)
	if err != nil {
		return decimal.Zero, err
	}
	for _, r := range tx.reserved {
		if reservationMatches(r, userID, dateKey, marketTicker) {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

// --- Ledger aggregates ---

func (s *MemoryStore) SumRealizedPnL(_ context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, e := range s.ledger {
		if e.UserID == userID && e.ClosedAt != nil && !e.ClosedAt.Before(since) {
			total = total.Add(e.RealizedPnL)
		}
	}
	return total, nil
}

func (s *MemoryStore) SumSpend(_ context.Context, userID string, since time.Time, marketTicker string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, e := range s.ledger {
		if e.UserID != userID || e.OpenedAt.Before(since) {
			continue
		}
		if marketTicker != "" && e.MarketTicker != marketTicker {
			continue
		}
		total = total.Add(e.Notional())
	}
	return total, nil
}

func (s *MemoryStore) CountOpenPositions(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.ledger {
		if e.UserID == userID && e.Open() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) InsertReservation(_ context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reservations = append(s.reservations, *r)
	return nil
}

func (s *MemoryStore) SumReserved(_ context.Context, userID, dateKey, marketTicker string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	consumed := make(map[string]bool)
	for _, e := range s.ledger {
		if e.ReservationID != "" {
			consumed[e.ReservationID] = true
		}
	}

	total := decimal.Zero
	for _, r := range s.reservations {
		if !consumed[r.ID] && reservationMatches(r, userID, dateKey, marketTicker) {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

func reservationMatches(r model.Reservation, userID, dateKey, marketTicker string) bool {
	return r.UserID == userID && r.DateLocal == dateKey &&
		(marketTicker == "" || r.MarketTicker == marketTicker)
}

// --- Ledger ---

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) CloseLedgerEntry(_ context.Context, id string, closedAt time.Time, exitPrice, realizedPnL decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.ledger {
		e := &s.ledger[i]
		if e.ID != id || !e.Open() {
			continue
		}
		at := closedAt
		px := exitPrice
		e.ClosedAt = &at
		e.ExitPrice = &px
		e.RealizedPnL = realizedPnL
		return nil
	}
	return fmt.Errorf("open ledger entry %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) GetReservation(_ context.Context, id string) (*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reservations {
		if r.ID == id {
			copy := r
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) CategoryExposures(_ context.Context, userID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exposures := make(map[string]decimal.Decimal)
	for _, e := range s.ledger {
		if e.UserID != userID || !e.Open() {
			continue
		}
		m, ok := s.markets[e.MarketTicker]
		if !ok {
			continue
		}
		exposures[m.Category] = exposures[m.Category].Add(e.Notional())
	}
	return exposures, nil
}

// --- Decision receipts ---

func (s *MemoryStore) InsertDecisionReceipt(_ context.Context, r *model.DecisionReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receipts = append(s.receipts, *r)
	return nil
}

func (s *MemoryStore) LatestDecision(_ context.Context, userID, marketTicker string) (*model.DecisionReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.DecisionReceipt
	for i := range s.receipts {
		r := &s.receipts[i]
		if r.UserID != userID || r.MarketTicker != marketTicker {
			continue
		}
		if latest == nil || !r.TS.Before(latest.TS) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("decision for %s/%s: %w", userID, marketTicker, ErrNotFound)
	}
	copy := *latest
	return &copy, nil
}

// --- Markets ---

func (s *MemoryStore) UpsertMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *m
	s.markets[m.Ticker] = &copy
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, ticker string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[ticker]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", ticker, ErrNotFound)
	}
	copy := *m
	return &copy, nil
}

// --- Watchlist ---

func (s *MemoryStore) AddWatch(_ context.Context, w *model.WatchEntry, maxPerUser int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := watchKey(w.UserID, w.MarketTicker)
	if existing, ok := s.watches[k]; ok {
		existing.TrackedAt = w.TrackedAt
		existing.ExpiresAt = w.ExpiresAt
		existing.AlertsEnabled = w.AlertsEnabled
		w.ID = existing.ID
		return nil
	}

	active := 0
	for _, e := range s.watches {
		if e.UserID == w.UserID && e.ExpiresAt.After(w.TrackedAt) {
			active++
		}
	}
	if active >= maxPerUser {
		return fmt.Errorf("user %s tracks %d markets: %w", w.UserID, active, ErrWatchlistFull)
	}

	copy := *w
	s.watches[k] = &copy
	return nil
}

func (s *MemoryStore) RemoveWatch(_ context.Context, userID, marketTicker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := watchKey(userID, marketTicker)
	if _, ok := s.watches[k]; !ok {
		return fmt.Errorf("watch %s/%s: %w", userID, marketTicker, ErrNotFound)
	}
	delete(s.watches, k)
	return nil
}

func (s *MemoryStore) ListWatches(_ context.Context, userID string, now time.Time) ([]model.WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WatchEntry
	for _, e := range s.watches {
		if e.UserID == userID && e.ExpiresAt.After(now) {
			result = append(result, *e)
		}
	}
	sortWatches(result)
	return result, nil
}

func (s *MemoryStore) ListActiveWatches(_ context.Context, now time.Time) ([]model.WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WatchEntry
	for _, e := range s.watches {
		if e.ExpiresAt.After(now) {
			result = append(result, *e)
		}
	}
	sortWatches(result)
	return result, nil
}

func (s *MemoryStore) DeleteExpiredWatches(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, e := range s.watches {
		if !e.ExpiresAt.After(now) {
			delete(s.watches, k)
			n++
		}
	}
	return n, nil
}

func sortWatches(ws []model.WatchEntry) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].UserID != ws[j].UserID {
			return ws[i].UserID < ws[j].UserID
		}
		return ws[i].MarketTicker < ws[j].MarketTicker
	})
}
