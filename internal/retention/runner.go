// Package retention runs history compaction, either on a schedule or on
// demand, never more than one run at a time across replicas.
package retention

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/history"
)

var ErrRetentionInProgress = errors.New("retention run already in progress")

const (
	lockKey    = "retention:lock"
	lastRunKey = "retention:last"

	DefaultLockTTL  = 10 * time.Minute
	DefaultInterval = 24 * time.Hour
)

// Retainer compacts history. *history.Store implements it.
type Retainer interface {
	Retain(ctx context.Context, retentionDays int) (history.RetainResult, error)
}

// Observer is told about every finished run. May be nil.
type Observer interface {
	ObserveRetention(res history.RetainResult, err error)
}

// Runner serializes retention runs with a Redis lock shared by the scheduler
// and the HTTP trigger.
type Runner struct {
	store    Retainer
	rdb      *redis.Client
	log      *zap.Logger
	observer Observer
	lockTTL  time.Duration
}

func NewRunner(store Retainer, rdb *redis.Client, log *zap.Logger, observer Observer) *Runner {
	return &Runner{store: store, rdb: rdb, log: log, observer: observer, lockTTL: DefaultLockTTL}
}

// LastRun is the outcome of the most recent successful run.
type LastRun struct {
	history.RetainResult
	At time.Time `json:"at"`
}

// Run compacts history older than retentionDays. It returns
// ErrRetentionInProgress if another run holds the lock.
func (r *Runner) Run(ctx context.Context, retentionDays int) (history.RetainResult, error) {
	if retentionDays <= 0 {
		retentionDays = history.DefaultRetentionDays
	}

	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, lockKey, token, r.lockTTL).Result()
	if err != nil {
		return history.RetainResult{}, fmt.Errorf("acquire retention lock: %w", err)
	}
	if !ok {
		return history.RetainResult{}, ErrRetentionInProgress
	}
	defer r.release(token)

	start := time.Now()
	res, err := r.store.Retain(ctx, retentionDays)
	if r.observer != nil {
		r.observer.ObserveRetention(res, err)
	}
	if err != nil {
		r.log.Error("retention: run failed", zap.Int("retention_days", retentionDays), zap.Error(err))
		return res, err
	}

	if err := r.rdb.HSet(ctx, lastRunKey,
		"retention_days", res.RetentionDays,
		"deleted", res.DeletedCount,
		"aggregated", res.AggregatedCount,
		"at", time.Now().Unix(),
	).Err(); err != nil {
		r.log.Warn("retention: save last run", zap.Error(err))
	}

	r.log.Info("retention: run complete",
		zap.Int("retention_days", retentionDays),
		zap.Int64("deleted", res.DeletedCount),
		zap.Int64("aggregated", res.AggregatedCount),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

// release drops the lock only if this run still owns it.
func (r *Runner) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cur, err := r.rdb.Get(ctx, lockKey).Result()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("retention: read lock", zap.Error(err))
		}
		return
	}
	if cur == token {
		r.rdb.Del(ctx, lockKey) //nolint:errcheck
	}
}

// Last returns the most recent successful run, or nil if none is recorded.
func (r *Runner) Last(ctx context.Context) (*LastRun, error) {
	vals, err := r.rdb.HGetAll(ctx, lastRunKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	days, _ := strconv.Atoi(vals["retention_days"])
	deleted, _ := strconv.ParseInt(vals["deleted"], 10, 64)
	aggregated, _ := strconv.ParseInt(vals["aggregated"], 10, 64)
	at, _ := strconv.ParseInt(vals["at"], 10, 64)
	return &LastRun{
		RetainResult: history.RetainResult{
			RetentionDays:   days,
			DeletedCount:    deleted,
			AggregatedCount: aggregated,
		},
		At: time.Unix(at, 0).UTC(),
	}, nil
}

// RunScheduler runs retention every interval until ctx is cancelled. A tick
// that finds another run in flight is skipped. A non-positive interval falls
// back to DefaultInterval.
func RunScheduler(ctx context.Context, r *Runner, retentionDays int, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		log.Warn("retention scheduler: non-positive interval, using default",
			zap.Duration("interval", interval), zap.Duration("default", DefaultInterval))
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("retention scheduler started",
		zap.Duration("interval", interval),
		zap.Int("retention_days", retentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			if _, err := r.Run(ctx, retentionDays); errors.Is(err, ErrRetentionInProgress) {
				log.Info("retention: previous run still in flight, skipping tick")
			}
		}
	}
}
