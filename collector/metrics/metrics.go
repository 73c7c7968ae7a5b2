// Package metrics keeps per-run Prometheus counters for the collector. A batch
// job has no scrape endpoint, so the registry is exported once at the end of a
// run in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultMiss    = "miss"
)

// Recorder groups the collector metrics on a private registry.
// All methods are safe to call on a nil *Recorder.
type Recorder struct {
	registry *prometheus.Registry

	feedFetches      *prometheus.CounterVec
	entriesExtracted prometheus.Counter
	entriesUnique    prometheus.Gauge
	geoLookups       *prometheus.CounterVec
	regionEntries    *prometheus.GaugeVec
	filesPublished   *prometheus.CounterVec
	runDuration      prometheus.Gauge
	lastRun          prometheus.Gauge
}

// NewRecorder creates a Recorder with every collector registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_feed_fetches_total",
			Help: "Feed page fetches by final result.",
		}, []string{"result"}),
		entriesExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_entries_extracted_total",
			Help: "Valid config links extracted from feed pages, before dedup.",
		}),
		entriesUnique: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_entries_unique",
			Help: "Unique config links after aggregation.",
		}),
		geoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_geo_lookups_total",
			Help: "Geolocation provider lookups by provider and result.",
		}, []string{"provider", "result"}),
		regionEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_region_entries",
			Help: "Config links written per region.",
		}, []string{"region"}),
		filesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_files_published_total",
			Help: "Files uploaded to the channel by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_run_duration_seconds",
			Help: "Wall time of the last pipeline run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_last_run_timestamp_seconds",
			Help: "Unix time the last pipeline run finished.",
		}),
	}

	r.registry.MustRegister(
		r.feedFetches,
		r.entriesExtracted,
		r.entriesUnique,
		r.geoLookups,
		r.regionEntries,
		r.filesPublished,
		r.runDuration,
		r.lastRun,
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) FeedFetched(ok bool, extracted int) {
	if r == nil {
		return
	}
	if ok {
		r.feedFetches.WithLabelValues(ResultSuccess).Inc()
		r.entriesExtracted.Add(float64(extracted))
		return
	}
	r.feedFetches.WithLabelValues(ResultFailure).Inc()
}

func (r *Recorder) UniqueEntries(n int) {
	if r == nil {
		return
	}
	r.entriesUnique.Set(float64(n))
}

// GeoLookup records one provider answer; result is one of the Result* constants.
func (r *Recorder) GeoLookup(provider, result string) {
	if r == nil {
		return
	}
	r.geoLookups.WithLabelValues(provider, result).Inc()
}

func (r *Recorder) RegionEntries(counts map[string]int) {
	if r == nil {
		return
	}
	r.regionEntries.Reset()
	for region, n := range counts {
		r.regionEntries.WithLabelValues(region).Set(float64(n))
	}
}

func (r *Recorder) FilePublished(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.filesPublished.WithLabelValues(ResultSuccess).Inc()
	} else {
		r.filesPublished.WithLabelValues(ResultFailure).Inc()
	}
}

func (r *Recorder) RunFinished(d time.Duration, at time.Time) {
	if r == nil {
		return
	}
	r.runDuration.Set(d.Seconds())
	r.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry atomically to path for the node-exporter
// textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
