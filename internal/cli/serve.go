package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/atmx/risk-gate/internal/api"
	"github.com/atmx/risk-gate/internal/assess"
	"github.com/atmx/risk-gate/internal/config"
	"github.com/atmx/risk-gate/internal/gate"
	"github.com/atmx/risk-gate/internal/heartbeat"
	"github.com/atmx/risk-gate/internal/journal"
	"github.com/atmx/risk-gate/internal/store"
	"github.com/atmx/risk-gate/internal/store/migrations"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the heartbeat job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, cfg)
		},
	}
}

// Serve runs the service until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	st, j, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	hub := api.NewWSHub()
	stop := assess.NewEmergencyStop()
	stop.OnChange(hub.EmergencyStopChanged)

	engine, err := gate.NewEngine(st, cfg.GateConfig(),
		gate.WithEmergencyStop(stop),
		gate.WithKillStateHook(hub.KillStateChanged),
	)
	if err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	assessor, err := assess.New(cfg.Risk, cfg.Profiles,
		assess.WithMarkets(st),
		assess.WithExposureSource(st),
		assess.WithEmergencyStop(stop),
	)
	if err != nil {
		return fmt.Errorf("assessor: %w", err)
	}

	svc := api.NewService(st, engine, assessor, api.Options{
		Journal:      j,
		Hub:          hub,
		WatchlistCap: cfg.Heartbeat.WatchlistCap,
		WatchTTL:     cfg.Heartbeat.WatchTTL,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go hub.Run(ctx)

	job := heartbeat.NewJob(st, engine, heartbeat.Config{
		Interval:        cfg.Heartbeat.Interval,
		CleanupInterval: cfg.Heartbeat.CleanupInterval,
		RatePerSecond:   cfg.Heartbeat.RatePerSecond,
		Burst:           cfg.Heartbeat.Burst,
	})
	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		job.Run(ctx)
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(svc, 30*time.Second),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("risk-gate listening",
			"port", cfg.Server.Port,
			"trading_mode", cfg.Trading.Mode,
			"trading_enabled", cfg.TradingEnabled(),
		)
		errc <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	}

	slog.Info("shutting down risk-gate...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	<-jobDone
	slog.Info("risk-gate stopped")
	return serveErr
}

// openStores builds the store chain: PostgreSQL (or memory), an optional
// Redis market cache, and an optional SQLite receipt journal on top.
func openStores(ctx context.Context, cfg *config.Config) (store.Store, *journal.SQLiteJournal, func(), error) {
	var (
		st      store.Store
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (store.Store, *journal.SQLiteJournal, func(), error) {
		cleanup()
		return nil, nil, func() {}, err
	}

	if cfg.Storage.DatabaseURL != "" {
		pool, err := store.Connect(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgres(ctx, pool); err != nil {
			return fail(err)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if cfg.Storage.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Storage.RedisURL)
			if err != nil {
				return fail(fmt.Errorf("invalid redis url: %w", err))
			}
			rdb := redis.NewClient(opt)
			closers = append(closers, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL)
			slog.Info("Redis market cache enabled", "ttl", cfg.Storage.CacheTTL.String())
		}
	} else {
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	var j *journal.SQLiteJournal
	if cfg.Journal.SQLitePath != "" {
		var err error
		if j, err = journal.NewSQLite(cfg.Journal.SQLitePath); err != nil {
			return fail(err)
		}
		closers = append(closers, func() { j.Close() })
		st = journal.NewMirrorStore(st, j)
		slog.Info("receipt journal enabled", "path", cfg.Journal.SQLitePath)
	}

	return st, j, cleanup, nil
}
