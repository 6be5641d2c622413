// Package server exposes the paywalled inference endpoint and the history,
// analytics, export and retention APIs over gin.
package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/analytics"
	"github.com/0gfoundation/0g-inference-billing/internal/auth"
	"github.com/0gfoundation/0g-inference-billing/internal/facilitator"
	"github.com/0gfoundation/0g-inference-billing/internal/history"
	"github.com/0gfoundation/0g-inference-billing/internal/metrics"
	"github.com/0gfoundation/0g-inference-billing/internal/retention"
	"github.com/0gfoundation/0g-inference-billing/internal/upstream"
	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

// Inferer runs a paid inference. Satisfied by *upstream.Client.
type Inferer interface {
	Infer(ctx context.Context, model, input string) (*upstream.Result, error)
}

// Options carries the request-independent settings of the API.
type Options struct {
	Chain        x402.Chain
	PayTo        string
	DefaultPrice *big.Int
	// MaxTimeoutSeconds overrides the requirement's payment window when set.
	MaxTimeoutSeconds int
	// Development skips the cron bearer check.
	Development   bool
	CronSecret    string
	RetentionDays int
	RateLimit     RateLimit
}

// Deps are the collaborators built in main.
type Deps struct {
	Store       *history.Store
	Analytics   *analytics.Service
	Facilitator facilitator.Facilitator
	Recorder    *history.Recorder
	Retention   *retention.Runner
	Backend     Inferer
	Redis       *redis.Client
	Metrics     *metrics.Recorder
}

type Server struct {
	opts    Options
	deps    Deps
	limiter *Limiter
	log     *zap.Logger
}

func New(opts Options, deps Deps, log *zap.Logger) *Server {
	if opts.DefaultPrice == nil || opts.DefaultPrice.Sign() <= 0 {
		opts.DefaultPrice = big.NewInt(x402.DefaultPriceBaseUnits)
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = history.DefaultRetentionDays
	}
	return &Server{
		opts:    opts,
		deps:    deps,
		limiter: NewLimiter(deps.Redis, opts.RateLimit, log),
		log:     log,
	}
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	api := r.Group("/api")

	// ── Paywall ──────────────────────────────────────────────────────────────
	api.POST("/inference/:modelId", s.handleInference)
	api.GET("/inference/history", s.handleHistory)
	api.GET("/facilitator/health", s.handleFacilitatorHealth)

	// ── Analytics ────────────────────────────────────────────────────────────
	api.GET("/analytics/creator/:wallet", s.handleCreator)
	api.GET("/analytics/user/:wallet", s.handleUser)
	api.GET("/analytics/model/:modelId", s.handleModel)
	api.GET("/analytics/historical", s.handleHistorical)
	api.GET("/analytics/export", auth.WalletAuth(s.deps.Redis, "export", s.log), s.handleExport)

	// ── Retention ────────────────────────────────────────────────────────────
	cron := auth.CronAuth(s.opts.CronSecret, s.opts.Development, s.log)
	api.POST("/cron/cleanup-history", cron, s.handleCleanup)
	api.GET("/cron/cleanup-history", cron, s.handleCleanup)
	api.GET("/cron/cleanup-history/last", cron, s.handleLastCleanup)

	return r
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"ok": false, "error": msg})
}

// storeFail maps store errors onto HTTP statuses.
func (s *Server) storeFail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, history.ErrModelNotFound):
		fail(c, http.StatusNotFound, "model not found")
	case errors.Is(err, history.ErrWalletRequired):
		fail(c, http.StatusBadRequest, "wallet address required")
	default:
		s.log.Error(op, zap.Error(err))
		fail(c, http.StatusInternalServerError, op+" failed")
	}
}

func (s *Server) observeSettlement(res facilitator.Result, took time.Duration) {
	outcome := "success"
	if !res.Success && res.Err != nil {
		outcome = string(res.Err.Kind)
	}
	s.deps.Metrics.ObserveSettlement(string(res.Provider), outcome, took)
}
