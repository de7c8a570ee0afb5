// Package metrics holds the Prometheus metrics of pipeline runs.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for pipeline runs, registered on
// their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec // labels: status=ok|partial|failed
	RunDuration     prometheus.Histogram
	LastSuccess     prometheus.Gauge
	RowsAppended    prometheus.Counter
	FailuresTotal   *prometheus.CounterVec // labels: kind
	SyncDuration    prometheus.Histogram
	IndexPoints     *prometheus.CounterVec // labels: sector
	SnapshotsTotal  *prometheus.CounterVec // labels: op=save|restore
	InstrumentsSeen prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Pipeline runs by outcome",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Wall time of a full pipeline run",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_last_success_timestamp_seconds",
			Help: "Unix time of the last run without failures",
		}),
		RowsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_price_rows_appended_total",
			Help: "Price rows appended to instrument tables",
		}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_failures_total",
			Help: "Per-entity failures by kind",
		}, []string{"kind"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_instrument_sync_duration_seconds",
			Help:    "Time to sync one instrument",
			Buckets: prometheus.DefBuckets,
		}),
		IndexPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_sector_index_points_total",
			Help: "Calculated sector prices written",
		}, []string{"sector"}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_snapshot_tables_total",
			Help: "Tables saved to or restored from snapshots",
		}, []string{"op"}),
		InstrumentsSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_instruments",
			Help: "Instruments synced in the last run",
		}),
	}

	m.Registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.LastSuccess,
		m.RowsAppended,
		m.FailuresTotal,
		m.SyncDuration,
		m.IndexPoints,
		m.SnapshotsTotal,
		m.InstrumentsSeen,
	)
	return m
}

// ObserveSync records one instrument sync.
func (m *Metrics) ObserveSync(d time.Duration, appended int64) {
	m.SyncDuration.Observe(d.Seconds())
	m.RowsAppended.Add(float64(appended))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Push sends the registry to a Pushgateway under job. Batch runs exit
// before a scrape would see them.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
