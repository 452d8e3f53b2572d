package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// raster pipeline and tile server.
type Metrics struct {
	// Serving metrics.
	TilesServed        *prometheus.CounterVec // labels: outcome={ok,not_modified,not_found,pending,corrupt,error}
	TileRenderDuration prometheus.Histogram
	DatasetCache       *prometheus.CounterVec // labels: result={hit,miss}
	DatasetEvictions   prometheus.Counter
	OpenDatasets       prometheus.Gauge

	// Publishing pipeline metrics.
	FramesEncoded   prometheus.Counter
	EncodeErrors    prometheus.Counter
	FramesPublished prometheus.Counter
	PublishErrors   prometheus.Counter
	RunsEvicted     prometheus.Counter
	RetentionErrors prometheus.Counter

	// Notification metrics.
	NotifierEvents prometheus.Counter
	NotifierErrors prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.TilesServed,
		m.TileRenderDuration,
		m.DatasetCache,
		m.DatasetEvictions,
		m.OpenDatasets,
		m.FramesEncoded,
		m.EncodeErrors,
		m.FramesPublished,
		m.PublishErrors,
		m.RunsEvicted,
		m.RetentionErrors,
		m.NotifierEvents,
		m.NotifierErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		TilesServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "tiles_served_total",
			Help:      "Tile requests by outcome.",
		}, []string{"outcome"}),
		TileRenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wxtiles",
			Name:      "tile_render_duration_seconds",
			Help:      "Duration of a windowed read, LUT apply, and PNG encode.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		DatasetCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "dataset_cache_total",
			Help:      "Open-dataset handle cache lookups by result.",
		}, []string{"result"}),
		DatasetEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "dataset_evictions_total",
			Help:      "Dataset handles evicted from the cache.",
		}),
		OpenDatasets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wxtiles",
			Name:      "open_datasets",
			Help:      "Dataset handles currently held open by the cache.",
		}),
		FramesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "frames_encoded_total",
			Help:      "Frames successfully encoded.",
		}),
		EncodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "encode_errors_total",
			Help:      "Frames that failed to encode.",
		}),
		FramesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "frames_published_total",
			Help:      "Frames atomically published into the raster tree.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "publish_errors_total",
			Help:      "Frames whose two-phase publish failed.",
		}),
		RunsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "runs_evicted_total",
			Help:      "Superseded runs removed by retention.",
		}),
		RetentionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "retention_errors_total",
			Help:      "Retention eviction failures, retried on the next cycle.",
		}),
		NotifierEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "notifier_events_total",
			Help:      "Frame-published events delivered to the notification topic.",
		}),
		NotifierErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wxtiles",
			Name:      "notifier_errors_total",
			Help:      "Frame-published events that could not be delivered.",
		}),
	}
}
