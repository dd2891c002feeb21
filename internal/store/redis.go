package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/risk-gate/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market metadata. Day state, ledger aggregates and receipts are
// never cached: caps must see serialized, current values, so every other
// method passes straight through to the primary.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertMarket(ctx context.Context, m *model.Market) error {
	if err := s.Store.UpsertMarket(ctx, m); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the primary.
	if err := s.rdb.Del(ctx, marketKey(m.Ticker)).Err(); err != nil {
		slog.Warn("market cache invalidate failed", "market", m.Ticker, "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, ticker string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(ticker)).Bytes()
	switch {
	case err == nil:
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	case !errors.Is(err, redis.Nil):
		// Cache unavailable: fall through to the primary.
		slog.Debug("market cache read failed", "market", ticker, "err", err)
	}

	// Cache miss: read from primary. Not-found results are not cached.
	m, err := s.Store.GetMarket(ctx, ticker)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.Ticker), data, s.ttl)
	}
}

func marketKey(ticker string) string { return fmt.Sprintf("market:%s", ticker) }
