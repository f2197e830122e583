// Package metrics exposes sync-layer observations as prometheus metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dvault/internal/dv"
)

// Metrics implements dv.Recorder on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	// Walk metrics - reconciliation and vault enumeration passes
	WalksCompleted  *prometheus.CounterVec
	WalkDuration    *prometheus.HistogramVec
	ItemsAttempted  *prometheus.CounterVec
	ItemsExcluded   *prometheus.CounterVec
	ItemsSkipped    *prometheus.CounterVec
	WalksAllFailed  *prometheus.CounterVec
	LastWalkCovered *prometheus.GaugeVec

	// Write metrics
	Uploads      prometheus.Counter
	ContentBytes prometheus.Counter
	UploadSize   prometheus.Histogram
	Orphaned     prometheus.Counter
}

var _ dv.Recorder = (*Metrics)(nil)

// New creates the metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		WalksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dvault_walks_total",
			Help: "Total number of completed walks by kind (vaults, files)",
		}, []string{"walk"}),

		WalkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dvault_walk_duration_seconds",
			Help:    "Time taken by a single walk",
			Buckets: prometheus.DefBuckets,
		}, []string{"walk"}),

		ItemsAttempted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dvault_walk_items_attempted_total",
			Help: "Total number of ledger items a walk tried to read",
		}, []string{"walk"}),

		ItemsExcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dvault_walk_items_excluded_total",
			Help: "Total number of tombstoned items left out of a walk",
		}, []string{"walk"}),

		ItemsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dvault_walk_items_skipped_total",
			Help: "Total number of unreadable items left out of a walk, by failure kind",
		}, []string{"walk", "kind"}),

		WalksAllFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dvault_walks_all_failed_total",
			Help: "Total number of walks in which every readable item failed",
		}, []string{"walk"}),

		LastWalkCovered: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dvault_last_walk_coverage_ratio",
			Help: "Share of non-tombstoned items the last walk could read (0-1)",
		}, []string{"walk"}),

		Uploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "dvault_uploads_total",
			Help: "Total number of files recorded on the ledger",
		}),

		ContentBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "dvault_uploaded_bytes_total",
			Help: "Total bytes of content recorded on the ledger",
		}),

		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dvault_upload_size_bytes",
			Help:    "Size of each uploaded file",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),

		Orphaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "dvault_orphaned_content_total",
			Help: "Total number of blobs stored whose ledger append failed",
		}),
	}
}

// Registry returns the registry holding every dvault metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) WalkCompleted(walk string, cov dv.Coverage, elapsed time.Duration) {
	m.WalksCompleted.WithLabelValues(walk).Inc()
	m.WalkDuration.WithLabelValues(walk).Observe(elapsed.Seconds())
	m.ItemsAttempted.WithLabelValues(walk).Add(float64(cov.Attempted))
	m.ItemsExcluded.WithLabelValues(walk).Add(float64(cov.Excluded))
	if cov.AllFailed() {
		m.WalksAllFailed.WithLabelValues(walk).Inc()
	}

	ratio := 1.0
	if readable := cov.Attempted - cov.Excluded; readable > 0 {
		ratio = float64(readable-cov.Failed) / float64(readable)
	}
	m.LastWalkCovered.WithLabelValues(walk).Set(ratio)
}

func (m *Metrics) ItemSkipped(walk string, kind string) {
	m.ItemsSkipped.WithLabelValues(walk, kind).Inc()
}

func (m *Metrics) Uploaded(size int64) {
	m.Uploads.Inc()
	m.ContentBytes.Add(float64(size))
	m.UploadSize.Observe(float64(size))
}

func (m *Metrics) OrphanedContent() {
	m.Orphaned.Inc()
}

// WriteToTextfile writes every metric to path in the text exposition format
// read by node_exporter's textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
