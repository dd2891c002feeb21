package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/risk-gate/internal/gate"
)

// GateResponse is the JSON body returned from the gate endpoints.
type GateResponse struct {
	gate.Result
	ReceiptID string `json:"receipt_id"`
}

// EvaluateGate handles POST /api/v1/gate.
// A deny is a 200 with allow_new_open=false.
func (s *Service) EvaluateGate(w http.ResponseWriter, r *http.Request) {
	s.serveGate(w, r, s.gate.Evaluate)
}

// ReserveGate handles POST /api/v1/gate/reserve.
// When allowed, intended_spend * size_multiplier is committed to today's
// spend before the response is written.
func (s *Service) ReserveGate(w http.ResponseWriter, r *http.Request) {
	s.serveGate(w, r, s.gate.Reserve)
}

type gateFunc func(ctx context.Context, req gate.Request) (gate.Result, error)

func (s *Service) serveGate(w http.ResponseWriter, r *http.Request, eval gateFunc) {
	var req gate.Request
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}

	ctx := r.Context()
	res, err := eval(ctx, req)
	if err != nil {
		fail(w, r, err)
		return
	}

	// An unrecorded decision is not returned: the caller must not act on it.
	receipt := gate.Receipt(req, res)
	if err := s.store.InsertDecisionReceipt(ctx, receipt); err != nil {
		fail(w, r, err)
		return
	}

	slog.Info("gate decision",
		"user", req.UserID,
		"market", req.MarketTicker,
		"action", req.Action,
		"allowed", res.AllowNewOpen,
		"reason", res.ReasonCode,
		"kill_state", res.KillState,
		"receipt", receipt.ID,
	)
	writeJSON(w, http.StatusOK, GateResponse{Result: res, ReceiptID: receipt.ID})
}

// GetDayState handles GET /api/v1/day-state/{userID}.
func (s *Service) GetDayState(w http.ResponseWriter, r *http.Request) {
	day, err := s.gate.DayState(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}
