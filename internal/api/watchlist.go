package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/risk-gate/internal/market"
	"github.com/atmx/risk-gate/internal/model"
	"github.com/atmx/risk-gate/internal/store"
)

// watchGrace is how long a market stays tracked after it closes.
const watchGrace = 24 * time.Hour

// WatchRequest is the JSON body for POST /api/v1/watchlist/{userID}.
type WatchRequest struct {
	MarketTicker  string `json:"market_ticker"`
	AlertsEnabled *bool  `json:"alerts_enabled,omitempty"` // default true
}

// WatchView is a watchlist entry with the reason of the latest gate
// decision for that market.
type WatchView struct {
	model.WatchEntry
	LatestReason model.ReasonCode `json:"latest_reason"`
}

// ListWatchlist handles GET /api/v1/watchlist/{userID}.
func (s *Service) ListWatchlist(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	entries, err := s.store.ListWatches(ctx, userID, s.now())
	if err != nil {
		fail(w, r, err)
		return
	}

	views := make([]WatchView, 0, len(entries))
	for _, e := range entries {
		v := WatchView{WatchEntry: e, LatestReason: model.ReasonHeartbeatOnly}
		latest, err := s.store.LatestDecision(ctx, userID, e.MarketTicker)
		switch {
		case err == nil:
			v.LatestReason = latest.ReasonCode
		case !errors.Is(err, store.ErrNotFound):
			fail(w, r, err)
			return
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, views)
}

// AddWatch handles POST /api/v1/watchlist/{userID}.
// Entries expire a grace period after the market's close time, or one TTL
// from now when the close time is unknown. Re-adding refreshes the entry.
func (s *Service) AddWatch(w http.ResponseWriter, r *http.Request) {
	var req WatchRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if _, err := market.ParseTicker(req.MarketTicker); err != nil {
		fail(w, r, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	ctx := r.Context()
	now := s.now().UTC()

	entry := &model.WatchEntry{
		ID:            uuid.New().String(),
		UserID:        userID,
		MarketTicker:  req.MarketTicker,
		TrackedAt:     now,
		ExpiresAt:     now.Add(s.watchTTL),
		AlertsEnabled: req.AlertsEnabled == nil || *req.AlertsEnabled,
	}

	m, err := s.store.GetMarket(ctx, req.MarketTicker)
	switch {
	case err == nil && m.CloseTime != nil:
		entry.ExpiresAt = m.CloseTime.UTC().Add(watchGrace)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		fail(w, r, err)
		return
	}
	if !entry.ExpiresAt.After(now) {
		fail(w, r, invalid("market closed more than a day ago"))
		return
	}

	if err := s.store.AddWatch(ctx, entry, s.watchCap); err != nil {
		fail(w, r, err)
		return
	}

	slog.Info("market tracked",
		"user", userID,
		"market", entry.MarketTicker,
		"expires_at", entry.ExpiresAt,
	)
	writeJSON(w, http.StatusCreated, entry)
}

// RemoveWatch handles DELETE /api/v1/watchlist/{userID}/{ticker}.
func (s *Service) RemoveWatch(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ticker := chi.URLParam(r, "ticker")

	if err := s.store.RemoveWatch(r.Context(), userID, ticker); err != nil {
		fail(w, r, err)
		return
	}
	slog.Info("market untracked", "user", userID, "market", ticker)
	w.WriteHeader(http.StatusNoContent)
}
