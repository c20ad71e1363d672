// Package telemetry exposes the appliance's prometheus metrics: a single
// registry of counters/gauges/histograms populated by the analysis
// pipeline and the host resource monitor, served over HTTP by
// cmd/web via promhttp. No teacher file for this concern survived
// retrieval, so the registry is built directly against
// prometheus/client_golang's promauto helpers rather than adapted from an
// existing observability package.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the analysis pipeline and its surrounding
// daemons update. A nil *Registry is safe to call methods on: every
// recording method is a no-op, so callers that haven't wired telemetry
// (tests, one-off CLI invocations) don't need to special-case it.
type Registry struct {
	reg *prometheus.Registry

	detectionsTotal   *prometheus.CounterVec
	windowsProcessed  prometheus.Counter
	inferenceDuration prometheus.Histogram
	soundLevelDBFS    prometheus.Gauge
	dynamicThreshold  *prometheus.GaugeVec
	eventsDropped     prometheus.Counter

	cpuPercent  prometheus.Gauge
	memPercent  prometheus.Gauge
	diskPercent *prometheus.GaugeVec
}

// New builds a Registry with its own prometheus.Registry, so tests and
// multiple daemons in one process never collide on the global default
// registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		detectionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "birdcore",
			Name:      "detections_total",
			Help:      "Detections persisted, by species.",
		}, []string{"scientific_name"}),
		windowsProcessed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "birdcore",
			Name:      "analysis_windows_processed_total",
			Help:      "Audio windows run through the inference stage.",
		}),
		inferenceDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "birdcore",
			Name:      "analysis_inference_duration_seconds",
			Help:      "Time spent in a single BirdNET Predict call.",
			Buckets:   prometheus.DefBuckets,
		}),
		soundLevelDBFS: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "birdcore",
			Name:      "sound_level_dbfs",
			Help:      "Most recent window RMS sound level, in dBFS.",
		}),
		dynamicThreshold: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "birdcore",
			Name:      "dynamic_confidence_threshold",
			Help:      "Current effective confidence threshold, by species.",
		}, []string{"scientific_name"}),
		eventsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "birdcore",
			Name:      "events_dropped_total",
			Help:      "Detection events dropped due to a saturated bus or consumer buffer.",
		}),
		cpuPercent: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "birdcore",
			Name:      "host_cpu_percent",
			Help:      "Most recent host CPU utilization sample, percent.",
		}),
		memPercent: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "birdcore",
			Name:      "host_memory_percent",
			Help:      "Most recent host virtual memory utilization sample, percent.",
		}),
		diskPercent: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "birdcore",
			Name:      "host_disk_percent",
			Help:      "Most recent disk utilization sample, percent, by mount path.",
		}, []string{"path"}),
	}
	return r
}

// Registerer exposes the underlying prometheus.Registry for promhttp.HandlerFor.
func (r *Registry) Registerer() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Registry) RecordDetection(scientificName string) {
	if r == nil {
		return
	}
	r.detectionsTotal.WithLabelValues(scientificName).Inc()
}

func (r *Registry) RecordWindowProcessed(inferenceSeconds float64) {
	if r == nil {
		return
	}
	r.windowsProcessed.Inc()
	r.inferenceDuration.Observe(inferenceSeconds)
}

func (r *Registry) RecordSoundLevel(dbfs float64) {
	if r == nil {
		return
	}
	r.soundLevelDBFS.Set(dbfs)
}

func (r *Registry) RecordDynamicThreshold(scientificName string, value float64) {
	if r == nil {
		return
	}
	r.dynamicThreshold.WithLabelValues(scientificName).Set(value)
}

func (r *Registry) RecordEventDropped() {
	if r == nil {
		return
	}
	r.eventsDropped.Inc()
}

func (r *Registry) RecordHostCPU(percent float64) {
	if r == nil {
		return
	}
	r.cpuPercent.Set(percent)
}

func (r *Registry) RecordHostMemory(percent float64) {
	if r == nil {
		return
	}
	r.memPercent.Set(percent)
}

func (r *Registry) RecordHostDisk(path string, percent float64) {
	if r == nil {
		return
	}
	r.diskPercent.WithLabelValues(path).Set(percent)
}
