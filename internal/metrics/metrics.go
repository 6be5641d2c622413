// Package metrics exposes Prometheus counters for settlement, recording and
// retention.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0gfoundation/0g-inference-billing/internal/history"
)

const namespace = "x402_billing"

// Recorder owns its registry so tests can build as many as they like.
type Recorder struct {
	reg *prometheus.Registry

	paymentsRequired prometheus.Counter
	settlements      *prometheus.CounterVec
	settleLatency    *prometheus.HistogramVec
	records          *prometheus.CounterVec
	retentionRuns    *prometheus.CounterVec
	retentionRows    *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		paymentsRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_required_total",
			Help:      "402 challenges issued",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		settleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settle_latency_seconds",
			Help:      "Settlement latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_records_total",
			Help:      "Background history writes by result",
		}, []string{"result"}),
		retentionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_runs_total",
			Help:      "Retention runs by result",
		}, []string{"result"}),
		retentionRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_rows_total",
			Help:      "Rows deleted and buckets aggregated by retention",
		}, []string{"kind"}),
	}
	r.reg.MustRegister(
		r.paymentsRequired, r.settlements, r.settleLatency,
		r.records, r.retentionRuns, r.retentionRows,
		prometheus.NewGoCollector(),
	)
	return r
}

func (r *Recorder) IncPaymentRequired() { r.paymentsRequired.Inc() }

// ObserveSettlement counts one settlement. outcome is "success" or the
// failure kind.
func (r *Recorder) ObserveSettlement(provider, outcome string, d time.Duration) {
	r.settlements.WithLabelValues(provider, outcome).Inc()
	r.settleLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveRecord implements history.RecordObserver.
func (r *Recorder) ObserveRecord(err error) {
	if err != nil {
		r.records.WithLabelValues("failed").Inc()
		return
	}
	r.records.WithLabelValues("written").Inc()
}

// ObserveRetention implements retention.Observer.
func (r *Recorder) ObserveRetention(res history.RetainResult, err error) {
	if err != nil {
		r.retentionRuns.WithLabelValues("failed").Inc()
		return
	}
	r.retentionRuns.WithLabelValues("ok").Inc()
	r.retentionRows.WithLabelValues("deleted").Add(float64(res.DeletedCount))
	r.retentionRows.WithLabelValues("aggregated").Add(float64(res.AggregatedCount))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
