package metrics

import (
	"context"
	"net/http"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pointswallet"

// Metrics records wallet activity as prometheus series. It doubles as a
// wallet.OperationLogger so every service operation is counted.
type Metrics struct {
	registry      *prometheus.Registry
	operations    *prometheus.CounterVec
	points        *prometheus.CounterVec
	sweepEntries  *prometheus.CounterVec
	sweepRuns     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// New registers the wallet series on a dedicated registry.
func New() (*Metrics, error) {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Wallet operations segmented by operation and outcome.",
		}, []string{"operation", "status"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "points_total",
			Help:      "Points moved by successful operations segmented by entry type.",
		}, []string{"operation", "entry_type"}),
		sweepEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "entries_total",
			Help:      "Entries handled by maintenance sweeps segmented by job and outcome.",
		}, []string{"job", "outcome"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "runs_total",
			Help:      "Maintenance job runs segmented by job and outcome.",
		}, []string{"job", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Burn notifications segmented by delivery outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "queue_depth",
			Help:      "Notifications waiting in the outbox.",
		}),
	}
	registered := []prometheus.Collector{
		metrics.operations,
		metrics.points,
		metrics.sweepEntries,
		metrics.sweepRuns,
		metrics.notifications,
		metrics.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, collector := range registered {
		if err := metrics.registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

// LogOperation counts the operation and, on success, the points it moved.
func (metrics *Metrics) LogOperation(_ context.Context, entry wallet.OperationLog) {
	if metrics == nil {
		return
	}
	metrics.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error != nil || entry.EntryType == "" {
		return
	}
	amount, _ := entry.Amount.Abs().Float64()
	metrics.points.WithLabelValues(entry.Operation, entry.EntryType.String()).Add(amount)
}

// ObserveSweep records a finished maintenance job.
func (metrics *Metrics) ObserveSweep(job string, report wallet.SweepReport, err error) {
	if metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.sweepRuns.WithLabelValues(job, outcome).Inc()
	metrics.sweepEntries.WithLabelValues(job, "processed").Add(float64(report.Processed))
	metrics.sweepEntries.WithLabelValues(job, "skipped").Add(float64(report.Skipped))
	metrics.sweepEntries.WithLabelValues(job, "failed").Add(float64(report.Failed))
}

// ObserveNotification records one notification outcome such as sent, dropped or failed.
func (metrics *Metrics) ObserveNotification(outcome string) {
	if metrics == nil {
		return
	}
	metrics.notifications.WithLabelValues(outcome).Inc()
}

// SetQueueDepth reports the number of queued notifications.
func (metrics *Metrics) SetQueueDepth(depth int) {
	if metrics == nil {
		return
	}
	metrics.queueDepth.Set(float64(depth))
}

// Handler exposes the registry in the prometheus text format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{Registry: metrics.registry})
}
