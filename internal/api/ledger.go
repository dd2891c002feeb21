package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-gate/internal/model"
)

// FillRequest is the JSON body for POST /api/v1/ledger. A fill that is
// already closed carries closed_at, exit_price and realized_pnl.
type FillRequest struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	MarketTicker string           `json:"market_ticker"`
	OpenedAt     time.Time        `json:"opened_at"`
	Qty          int64            `json:"qty"`
	EntryPrice   decimal.Decimal  `json:"entry_price"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
	ExitPrice    *decimal.Decimal `json:"exit_price,omitempty"`
	RealizedPnL  decimal.Decimal  `json:"realized_pnl"`

	// ReservationID is the reservation_id returned by POST /gate/reserve.
	ReservationID string `json:"reservation_id,omitempty"`
}

// CloseRequest is the JSON body for POST /api/v1/ledger/{entryID}/close.
type CloseRequest struct {
	ClosedAt    time.Time       `json:"closed_at"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// RecordFill handles POST /api/v1/ledger.
func (s *Service) RecordFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}

	switch {
	case req.UserID == "":
		fail(w, r, invalid("user_id is required"))
		return
	case req.MarketTicker == "":
		fail(w, r, invalid("market_ticker is required"))
		return
	case req.Qty <= 0:
		fail(w, r, invalid("qty must be positive"))
		return
	case !req.EntryPrice.IsPositive():
		fail(w, r, invalid("entry_price must be positive"))
		return
	case req.ClosedAt != nil && req.ExitPrice == nil:
		fail(w, r, invalid("exit_price is required for a closed fill"))
		return
	}

	if req.ReservationID != "" {
		res, err := s.store.GetReservation(r.Context(), req.ReservationID)
		if err != nil {
			fail(w, r, err)
			return
		}
		if res.UserID != req.UserID || res.MarketTicker != req.MarketTicker {
			fail(w, r, invalid("reservation_id belongs to another user or market"))
			return
		}
	}

	entry := &model.LedgerEntry{
		ID:            req.ID,
		UserID:        req.UserID,
		MarketTicker:  req.MarketTicker,
		OpenedAt:      req.OpenedAt.UTC(),
		Qty:           req.Qty,
		EntryPrice:    req.EntryPrice,
		ExitPrice:     req.ExitPrice,
		ReservationID: req.ReservationID,
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.OpenedAt.IsZero() {
		entry.OpenedAt = s.now().UTC()
	}
	if req.ClosedAt != nil {
		closed := req.ClosedAt.UTC()
		if closed.Before(entry.OpenedAt) {
			fail(w, r, invalid("closed_at precedes opened_at"))
			return
		}
		entry.ClosedAt = &closed
		entry.RealizedPnL = req.RealizedPnL
	}

	if err := s.store.InsertLedgerEntry(r.Context(), entry); err != nil {
		fail(w, r, err)
		return
	}

	slog.Info("fill recorded",
		"id", entry.ID,
		"user", entry.UserID,
		"market", entry.MarketTicker,
		"qty", entry.Qty,
		"notional", entry.Notional().String(),
		"reservation_id", entry.ReservationID,
		"open", entry.Open(),
	)
	writeJSON(w, http.StatusCreated, entry)
}

// CloseFill handles POST /api/v1/ledger/{entryID}/close.
func (s *Service) CloseFill(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.ExitPrice.IsNegative() {
		fail(w, r, invalid("exit_price must be non-negative"))
		return
	}
	if req.ClosedAt.IsZero() {
		req.ClosedAt = s.now()
	}

	id := chi.URLParam(r, "entryID")
	if err := s.store.CloseLedgerEntry(r.Context(), id, req.ClosedAt.UTC(), req.ExitPrice, req.RealizedPnL); err != nil {
		fail(w, r, err)
		return
	}

	slog.Info("fill closed", "id", id, "realized_pnl", req.RealizedPnL.String())
	w.WriteHeader(http.StatusNoContent)
}
