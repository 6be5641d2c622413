package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/0gfoundation/0g-inference-billing/internal/analytics"
	"github.com/0gfoundation/0g-inference-billing/internal/config"
	"github.com/0gfoundation/0g-inference-billing/internal/facilitator"
	"github.com/0gfoundation/0g-inference-billing/internal/history"
	"github.com/0gfoundation/0g-inference-billing/internal/metrics"
	"github.com/0gfoundation/0g-inference-billing/internal/retention"
	"github.com/0gfoundation/0g-inference-billing/internal/server"
	"github.com/0gfoundation/0g-inference-billing/internal/upstream"
)

const recordBuffer = 256

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── History store ─────────────────────────────────────────────────────────
	store, err := history.Open(cfg.Database.Path, log)
	if err != nil {
		log.Fatal("history store open failed", zap.Error(err))
	}
	defer store.Close() //nolint:errcheck

	// ── Facilitator, recording, retention, API ────────────────────────────────
	a, err := wire(cfg, rdb, store, log)
	if err != nil {
		log.Fatal("wiring failed", zap.Error(err))
	}
	go retention.RunScheduler(ctx, a.runner, cfg.Retention.Days,
		time.Duration(cfg.Retention.IntervalSec)*time.Second, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: a.api.Router(),
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port), zap.String("env", cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	// in-flight handlers are done; flush queued history writes
	a.recorder.Close()
	log.Info("shutdown complete")
}

// app is everything main starts besides Redis and the store.
type app struct {
	api      *server.Server
	recorder *history.Recorder
	runner   *retention.Runner
}

func wire(cfg *config.Config, rdb *redis.Client, store *history.Store, log *zap.Logger) (*app, error) {
	chain, err := cfg.Chain()
	if err != nil {
		return nil, fmt.Errorf("payment chain: %w", err)
	}
	defaultPrice, err := cfg.DefaultPrice()
	if err != nil {
		return nil, err
	}
	facCfg, err := cfg.FacilitatorSettings(chain)
	if err != nil {
		return nil, err
	}
	fac, err := facilitator.New(facCfg, log)
	if err != nil {
		return nil, fmt.Errorf("facilitator: %w", err)
	}
	log.Info("facilitator ready",
		zap.String("provider", string(fac.Provider())),
		zap.String("network", chain.Network),
	)

	m := metrics.New()
	recorder := history.NewRecorder(store, log, recordBuffer, m)
	runner := retention.NewRunner(store, rdb, log, m)

	api := server.New(server.Options{
		Chain:             chain,
		PayTo:             cfg.X402.PayTo,
		DefaultPrice:      defaultPrice,
		MaxTimeoutSeconds: cfg.X402.MaxTimeoutSeconds,
		Development:       cfg.IsDevelopment(),
		CronSecret:        cfg.Retention.CronSecret,
		RetentionDays:     cfg.Retention.Days,
		RateLimit: server.RateLimit{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      time.Duration(cfg.RateLimit.WindowSec) * time.Second,
		},
	}, server.Deps{
		Store:       store,
		Analytics:   analytics.New(store, cfg.X402.MarketplaceBps, log),
		Facilitator: fac,
		Recorder:    recorder,
		Retention:   runner,
		Backend: upstream.NewClient(cfg.Upstream.URL, cfg.Upstream.APIKey,
			time.Duration(cfg.Upstream.TimeoutSec)*time.Second, log),
		Redis:   rdb,
		Metrics: m,
	}, log)

	return &app{api: api, recorder: recorder, runner: runner}, nil
}

// newLogger builds a production logger at the given level.
func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}
