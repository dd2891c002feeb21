// Package api provides the HTTP handlers for the risk gate: gate
// evaluations and reservations, trade risk assessment, market metadata,
// ledger ingestion and the per-user watchlist.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/risk-gate/internal/assess"
	"github.com/atmx/risk-gate/internal/gate"
	"github.com/atmx/risk-gate/internal/journal"
	"github.com/atmx/risk-gate/internal/market"
	"github.com/atmx/risk-gate/internal/metrics"
	"github.com/atmx/risk-gate/internal/store"
)

// Defaults for Options left at zero.
const (
	defaultWatchlistCap = 25
	defaultWatchTTL     = 24 * time.Hour
)

// Options carries the optional collaborators of a Service.
type Options struct {
	// Journal receives a copy of every assessment. Nil disables it.
	Journal *journal.SQLiteJournal

	// Hub serves /api/v1/ws. Nil disables the endpoint.
	Hub *WSHub

	WatchlistCap int
	WatchTTL     time.Duration
}

// Service serves the HTTP API over one store, gate engine and assessor.
type Service struct {
	store    store.Store
	gate     *gate.Engine
	assessor *assess.Assessor
	journal  *journal.SQLiteJournal
	hub      *WSHub

	watchCap int
	watchTTL time.Duration
	now      func() time.Time
}

// NewService creates a new API service.
func NewService(st store.Store, g *gate.Engine, a *assess.Assessor, opts Options) *Service {
	s := &Service{
		store:    st,
		gate:     g,
		assessor: a,
		journal:  opts.Journal,
		hub:      opts.Hub,
		watchCap: opts.WatchlistCap,
		watchTTL: opts.WatchTTL,
		now:      time.Now,
	}
	if s.watchCap <= 0 {
		s.watchCap = defaultWatchlistCap
	}
	if s.watchTTL <= 0 {
		s.watchTTL = defaultWatchTTL
	}
	return s
}

// Routes mounts the /api/v1 endpoints on r.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Post("/gate", s.EvaluateGate)
	r.Post("/gate/reserve", s.ReserveGate)
	r.Get("/day-state/{userID}", s.GetDayState)

	r.Route("/risk", func(r chi.Router) {
		r.Post("/assess", s.AssessTrade)
		r.Post("/emergency-stop", s.SetEmergencyStop)
		r.Get("/metrics", s.RiskMetrics)
		r.Put("/config", s.UpdateRiskConfig)
	})

	r.Post("/markets", s.UpsertMarket)
	r.Get("/markets/{ticker}", s.GetMarket)

	r.Post("/ledger", s.RecordFill)
	r.Post("/ledger/{entryID}/close", s.CloseFill)

	r.Get("/watchlist/{userID}", s.ListWatchlist)
	r.Post("/watchlist/{userID}", s.AddWatch)
	r.Delete("/watchlist/{userID}/{ticker}", s.RemoveWatch)
}

// NewRouter builds the full HTTP handler: middleware, health, metrics and
// the versioned API.
func NewRouter(s *Service, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"risk-gate"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", s.Routes)
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gate.ErrInvalidInput),
		errors.Is(err, assess.ErrInvalidInput),
		errors.Is(err, assess.ErrInvalidConfig),
		errors.Is(err, market.ErrInvalidTicker),
		errors.Is(err, market.ErrInvalidCategory),
		errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrWatchlistFull):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errInvalidRequest marks request-shape problems caught by the handlers.
var errInvalidRequest = errors.New("invalid request")

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, msg)
}

// fail writes err with its mapped status. Server-side errors are logged and
// their detail is not echoed to the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalid("malformed JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
