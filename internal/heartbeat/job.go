// Package heartbeat runs the periodic background work: a heartbeat gate
// evaluation for every tracked watchlist entry, and watchlist expiry.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/atmx/risk-gate/internal/gate"
	"github.com/atmx/risk-gate/internal/metrics"
	"github.com/atmx/risk-gate/internal/model"
	"github.com/atmx/risk-gate/internal/store"
)

// Evaluator is the slice of gate.Engine the job needs.
type Evaluator interface {
	Evaluate(ctx context.Context, req gate.Request) (gate.Result, error)
}

// Config controls the job's cadence.
type Config struct {
	Interval        time.Duration
	CleanupInterval time.Duration

	// RatePerSecond and Burst pace per-entry evaluations so a large
	// watchlist does not saturate the day-row locks.
	RatePerSecond float64
	Burst         int
}

// Summary reports one heartbeat pass.
type Summary struct {
	Evaluated int `json:"evaluated"`
	Failed    int `json:"failed"`
}

// Job evaluates every active watchlist entry once per interval.
type Job struct {
	store   store.Store
	gate    Evaluator
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
}

// NewJob creates a job. A non-positive rate disables pacing.
func NewJob(st store.Store, g Evaluator, cfg Config) *Job {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Job{
		store:   st,
		gate:    g,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Run loops until ctx is cancelled. Errors from a single pass are logged
// and the loop continues on the next tick.
func (j *Job) Run(ctx context.Context) error {
	beat := time.NewTicker(j.cfg.Interval)
	defer beat.Stop()
	cleanup := time.NewTicker(j.cfg.CleanupInterval)
	defer cleanup.Stop()

	slog.Info("heartbeat job started",
		"interval", j.cfg.Interval.String(),
		"cleanup_interval", j.cfg.CleanupInterval.String(),
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("heartbeat job stopped")
			return ctx.Err()
		case <-beat.C:
			if _, err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("heartbeat pass failed", "err", err)
			}
		case <-cleanup.C:
			if _, err := j.CleanupOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("watchlist cleanup failed", "err", err)
			}
		}
	}
}

// RunOnce evaluates each non-expired watchlist entry and records a
// receipt. A failure on one entry is logged and counted and the pass moves
// on; the failed entry gets no receipt. Only listing failures and context
// cancellation abort the pass.
func (j *Job) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary

	entries, err := j.store.ListActiveWatches(ctx, j.now())
	if err != nil {
		return sum, err
	}

	for _, e := range entries {
		if err := j.limiter.Wait(ctx); err != nil {
			return sum, err
		}
		// Read the clock after the wait so breach markers carry the time
		// the evaluation actually ran.
		if err := j.beat(ctx, e, j.now()); err != nil {
			sum.Failed++
			metrics.HeartbeatEvaluations.WithLabelValues("error").Inc()
			slog.Error("heartbeat evaluation failed",
				"user", e.UserID,
				"market", e.MarketTicker,
				"err", err,
			)
			continue
		}
		sum.Evaluated++
		metrics.HeartbeatEvaluations.WithLabelValues("ok").Inc()
	}

	slog.Debug("heartbeat pass complete", "evaluated", sum.Evaluated, "failed", sum.Failed)
	return sum, nil
}

func (j *Job) beat(ctx context.Context, e model.WatchEntry, now time.Time) error {
	req := gate.Request{
		UserID:       e.UserID,
		MarketTicker: e.MarketTicker,
		Action:       model.ActionHeartbeat,
		Now:          now,
	}
	res, err := j.gate.Evaluate(ctx, req)
	if err != nil {
		return err
	}
	return j.store.InsertDecisionReceipt(ctx, gate.Receipt(req, res))
}

// CleanupOnce removes expired watchlist entries.
func (j *Job) CleanupOnce(ctx context.Context) (int64, error) {
	n, err := j.store.DeleteExpiredWatches(ctx, j.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.WatchlistExpired.Add(float64(n))
		slog.Info("expired watchlist entries cleaned", "removed", n)
	}
	return n, nil
}
