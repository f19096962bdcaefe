// Package metrics holds the Prometheus collectors for the presentation loop.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all presentation metrics.
type Registry struct {
	reg *prometheus.Registry

	// Clock
	Ticks        prometheus.Counter
	Seeks        prometheus.Counter
	Stops        prometheus.Counter
	Speed        prometheus.Gauge
	Playing      prometheus.Gauge
	TickDuration prometheus.Histogram

	// Camera
	PoseWrites      prometheus.Counter
	PoseWriteErrors prometheus.Counter
	SegmentMisses   prometheus.Counter

	// Activators
	Activations   *prometheus.CounterVec
	ActiveSinks   *prometheus.GaugeVec
	SinkFaults    *prometheus.CounterVec
	FaultsDropped *prometheus.CounterVec
	ViewerClients prometheus.Gauge
}

// Get returns the process registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
	})
	return registry
}

// New creates an isolated registry. Tests use this so counters start at zero.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	f := promauto.With(r.reg)

	r.Ticks = f.NewCounter(prometheus.CounterOpts{
		Name: "geostory_clock_ticks_total",
		Help: "Tick events fired by the presentation clock",
	})
	r.Seeks = f.NewCounter(prometheus.CounterOpts{
		Name: "geostory_clock_seeks_total",
		Help: "Discontinuous time jumps (seek or loop wrap)",
	})
	r.Stops = f.NewCounter(prometheus.CounterOpts{
		Name: "geostory_clock_stops_total",
		Help: "Times the clock reached a presentation bound",
	})
	r.Speed = f.NewGauge(prometheus.GaugeOpts{
		Name: "geostory_clock_speed_multiplier",
		Help: "Current clock speed multiplier",
	})
	r.Playing = f.NewGauge(prometheus.GaugeOpts{
		Name: "geostory_clock_playing",
		Help: "1 while the clock is playing",
	})
	r.TickDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "geostory_clock_tick_seconds",
		Help:    "Time spent notifying tick subscribers",
		Buckets: []float64{.0001, .0005, .001, .002, .005, .01, .02, .05},
	})

	r.PoseWrites = f.NewCounter(prometheus.CounterOpts{
		Name: "geostory_camera_pose_writes_total",
		Help: "Camera poses pushed to the viewer",
	})
	r.PoseWriteErrors = f.NewCounter(prometheus.CounterOpts{
		Name: "geostory_camera_pose_write_errors_total",
		Help: "Camera pose writes rejected by the viewer",
	})
	r.SegmentMisses = f.NewCounter(prometheus.CounterOpts{
		Name: "geostory_camera_segment_misses_total",
		Help: "Ticks that needed a full segment scan",
	})

	r.Activations = f.NewCounterVec(prometheus.CounterOpts{
		Name: "geostory_activations_total",
		Help: "Resource activation transitions",
	}, []string{"modality", "transition"})
	r.ActiveSinks = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geostory_active_resources",
		Help: "Resources currently active",
	}, []string{"modality"})
	r.SinkFaults = f.NewCounterVec(prometheus.CounterOpts{
		Name: "geostory_sink_faults_total",
		Help: "Playback sink calls that failed",
	}, []string{"modality", "op"})
	r.FaultsDropped = f.NewCounterVec(prometheus.CounterOpts{
		Name: "geostory_sink_faults_dropped_total",
		Help: "Faults not delivered because the diagnostic channel was full",
	}, []string{"modality"})
	r.ViewerClients = f.NewGauge(prometheus.GaugeOpts{
		Name: "geostory_viewer_clients",
		Help: "Connected remote viewers",
	})

	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
