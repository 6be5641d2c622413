package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/analytics"
	"github.com/0gfoundation/0g-inference-billing/internal/auth"
	"github.com/0gfoundation/0g-inference-billing/internal/history"
	"github.com/0gfoundation/0g-inference-billing/internal/retention"
)

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// parseDay accepts YYYY-MM-DD or RFC3339. A bare end date covers the whole day.
func parseDay(s string, end bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		if end {
			return t.Add(24*time.Hour - time.Millisecond), nil
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

func wantSeries(c *gin.Context) bool { return c.Query("timeSeries") != "false" }

// ── History ──────────────────────────────────────────────────────────────────

func (s *Server) handleHistory(c *gin.Context) {
	f := history.Filter{
		ModelID: c.Query("modelId"),
		Payer:   c.Query("payer"),
		Limit:   queryInt(c, "limit", history.DefaultQueryLimit),
	}
	if v := c.Query("agentId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid agentId")
			return
		}
		f.AgentID = id
	}
	views, err := s.deps.Store.QueryForUI(c.Request.Context(), f)
	if err != nil {
		s.log.Error("history: query", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to fetch inference history", "history": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(views), "history": views})
}

// ── Analytics ────────────────────────────────────────────────────────────────

func (s *Server) handleCreator(c *gin.Context) {
	ctx := c.Request.Context()
	wallet := c.Param("wallet")
	stats, err := s.deps.Analytics.CreatorStats(ctx, wallet)
	if err != nil {
		s.storeFail(c, "creator stats", err)
		return
	}
	series := []analytics.UsagePoint{}
	if wantSeries(c) {
		if series, err = s.deps.Analytics.TimeSeries(ctx, analytics.SeriesFilter{
			CreatorWallet: wallet,
			Days:          queryInt(c, "days", analytics.DefaultDays),
		}); err != nil {
			s.storeFail(c, "creator time series", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "wallet": wallet, "stats": stats, "timeSeries": series})
}

func (s *Server) handleUser(c *gin.Context) {
	ctx := c.Request.Context()
	wallet := c.Param("wallet")
	stats, err := s.deps.Analytics.UserSpendingStats(ctx, wallet)
	if err != nil {
		s.storeFail(c, "user stats", err)
		return
	}
	series := []analytics.UsagePoint{}
	if wantSeries(c) {
		if series, err = s.deps.Analytics.UserTimeSeries(ctx, wallet, queryInt(c, "days", analytics.DefaultDays)); err != nil {
			s.storeFail(c, "user time series", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "wallet": wallet, "stats": stats, "timeSeries": series})
}

func (s *Server) handleModel(c *gin.Context) {
	ctx := c.Request.Context()
	modelID := c.Param("modelId")
	stats, err := s.deps.Analytics.ModelStats(ctx, modelID, c.Query("wallet"))
	if err != nil {
		s.storeFail(c, "model stats", err)
		return
	}
	if stats == nil {
		c.JSON(http.StatusOK, gin.H{
			"ok":      true,
			"modelId": modelID,
			"stats":   nil,
			"message": "No inference data found for this model",
		})
		return
	}
	series := []analytics.UsagePoint{}
	if wantSeries(c) {
		if series, err = s.deps.Analytics.TimeSeries(ctx, analytics.SeriesFilter{
			ModelID: modelID,
			Days:    queryInt(c, "days", analytics.DefaultDays),
		}); err != nil {
			s.storeFail(c, "model time series", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "modelId": modelID, "stats": stats, "timeSeries": series})
}

func (s *Server) handleHistorical(c *gin.Context) {
	f := analytics.HistoricalFilter{
		ModelID:       c.Query("modelId"),
		CreatorWallet: c.Query("wallet"),
		StartDate:     c.Query("startDate"),
		EndDate:       c.Query("endDate"),
	}
	for _, d := range []string{f.StartDate, f.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			fail(c, http.StatusBadRequest, "dates must be YYYY-MM-DD")
			return
		}
	}
	points, err := s.deps.Analytics.HistoricalAggregates(c.Request.Context(), f)
	if err != nil {
		s.storeFail(c, "historical aggregates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(points), "aggregates": points})
}

// ── Export ───────────────────────────────────────────────────────────────────

// handleExport serves the signed-in wallet's own history. The wallet query
// parameter, when given, must name the signer.
func (s *Server) handleExport(c *gin.Context) {
	signer := c.GetString(auth.ContextWallet)
	wallet := c.Query("wallet")
	if wallet == "" {
		wallet = signer
	}
	if !strings.EqualFold(wallet, signer) {
		fail(c, http.StatusForbidden, "can only export your own history")
		return
	}

	format, err := history.ParseFormat(c.Query("format"))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseDay(c.Query("startDate"), false)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseDay(c.Query("endDate"), true)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.deps.Store.Export(c.Request.Context(), history.ExportFilter{
		Wallet:  wallet,
		ModelID: c.Query("modelId"),
		Start:   start,
		End:     end,
		Limit:   queryInt(c, "limit", history.DefaultExportLimit),
	})
	if err != nil {
		s.storeFail(c, "export", err)
		return
	}

	if format == history.FormatCSV {
		prefix := wallet
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		name := fmt.Sprintf("inference-history-%s-%s.csv", prefix, time.Now().UTC().Format(time.DateOnly))
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		c.Status(http.StatusOK)
		if err := history.WriteCSV(c.Writer, recs); err != nil {
			s.log.Error("export: write csv", zap.Error(err))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "wallet": wallet, "count": len(recs), "data": recs})
}

// ── Retention ────────────────────────────────────────────────────────────────

func (s *Server) handleCleanup(c *gin.Context) {
	days := queryInt(c, "retentionDays", s.opts.RetentionDays)
	if days <= 0 {
		fail(c, http.StatusBadRequest, "retentionDays must be positive")
		return
	}
	s.log.Info("cron: cleanup starting", zap.Int("retention_days", days))

	res, err := s.deps.Retention.Run(c.Request.Context(), days)
	if errors.Is(err, retention.ErrRetentionInProgress) {
		fail(c, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.Error("cron: cleanup failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "cleanup failed")
		return
	}
	s.log.Info("cron: cleanup complete",
		zap.Int64("deleted", res.DeletedCount),
		zap.Int64("aggregated", res.AggregatedCount),
	)
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"retentionDays":   res.RetentionDays,
		"deletedCount":    res.DeletedCount,
		"aggregatedCount": res.AggregatedCount,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLastCleanup(c *gin.Context) {
	last, err := s.deps.Retention.Last(c.Request.Context())
	if err != nil {
		s.log.Error("cron: read last cleanup", zap.Error(err))
		fail(c, http.StatusInternalServerError, "could not read last cleanup")
		return
	}
	if last == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "lastRun": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"retentionDays":   last.RetentionDays,
		"deletedCount":    last.DeletedCount,
		"aggregatedCount": last.AggregatedCount,
		"lastRun":         last.At.Format(time.RFC3339),
	})
}
