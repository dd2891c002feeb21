package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/risk-gate/internal/market"
	"github.com/atmx/risk-gate/internal/model"
)

// UpsertMarketRequest is the JSON body for POST /api/v1/markets.
type UpsertMarketRequest struct {
	Ticker    string     `json:"ticker"`
	Title     string     `json:"title"`
	Category  string     `json:"category"` // inferred from the title when empty
	CloseTime *time.Time `json:"close_time,omitempty"`
}

// UpsertMarket handles POST /api/v1/markets.
func (s *Service) UpsertMarket(w http.ResponseWriter, r *http.Request) {
	var req UpsertMarketRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}

	parsed, err := market.ParseTicker(req.Ticker)
	if err != nil {
		fail(w, r, err)
		return
	}

	category, err := market.NormalizeCategory(req.Category)
	if err != nil {
		fail(w, r, err)
		return
	}
	inferred := category == ""
	if inferred {
		category = market.Classify(req.Title)
	}

	m := &model.Market{
		Ticker:    parsed.Raw,
		Title:     req.Title,
		Category:  category,
		CloseTime: req.CloseTime,
	}
	if m.CloseTime != nil {
		utc := m.CloseTime.UTC()
		m.CloseTime = &utc
	}

	if err := s.store.UpsertMarket(r.Context(), m); err != nil {
		fail(w, r, err)
		return
	}

	slog.Info("market upserted",
		"market", m.Ticker,
		"series", parsed.Series,
		"category", m.Category,
		"inferred", inferred,
	)
	writeJSON(w, http.StatusCreated, m)
}

// GetMarket handles GET /api/v1/markets/{ticker}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
