package metrics

import (
	"time"

	"github.com/absfs/branchfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// branchMetrics is the Prometheus implementation of branchfs.Metrics.
type branchMetrics struct {
	promotions        *prometheus.CounterVec
	promotionDuration *prometheus.HistogramVec
	whiteouts         *prometheus.CounterVec
	listings          prometheus.Counter
	listingEntries    prometheus.Histogram
}

// NewBranchMetrics creates a Prometheus-backed branchfs.Metrics.
//
// Returns nil if metrics are not enabled, which makes the engine fall back
// to its no-op implementation.
func NewBranchMetrics() branchfs.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newBranchMetrics(GetRegistry())
}

func newBranchMetrics(reg prometheus.Registerer) *branchMetrics {
	return &branchMetrics{
		promotions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "branchfs_promotions_total",
				Help: "Total number of copy-on-write promotions by entry kind and status",
			},
			[]string{"kind", "status"},
		),
		promotionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "branchfs_promotion_duration_seconds",
				Help: "Duration of copy-on-write promotions in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1,      // 1s
					10,     // 10s
				},
			},
			[]string{"kind"},
		),
		whiteouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "branchfs_whiteout_operations_total",
				Help: "Total number of whiteout markers created or removed",
			},
			[]string{"op"},
		),
		listings: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "branchfs_listings_total",
				Help: "Total number of merged directory listings",
			},
		),
		listingEntries: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "branchfs_listing_entries",
				Help:    "Number of names returned per merged directory listing",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}
}

func (m *branchMetrics) ObservePromotion(kind string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.promotions.WithLabelValues(kind, status).Inc()
	m.promotionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *branchMetrics) ObserveWhiteout(op string) {
	m.whiteouts.WithLabelValues(op).Inc()
}

func (m *branchMetrics) ObserveListing(entries int) {
	m.listings.Inc()
	m.listingEntries.Observe(float64(entries))
}
