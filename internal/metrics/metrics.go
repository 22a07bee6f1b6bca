// Package metrics exposes stream and sync telemetry as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var streamStates = []string{"connecting", "streaming", "disconnected", "closed"}

// Collectors holds every missionctl metric. Create one per registry.
type Collectors struct {
	StreamConnects      *prometheus.CounterVec
	StreamDisconnects   *prometheus.CounterVec
	StreamFrames        *prometheus.CounterVec
	StreamFramesDropped *prometheus.CounterVec
	StreamReconnectWait *prometheus.GaugeVec
	StreamState         *prometheus.GaugeVec
	SnapshotDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		StreamConnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "missionctl_stream_connects_total",
				Help: "Successful stream connections by stream",
			},
			[]string{"stream"},
		),
		StreamDisconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "missionctl_stream_disconnects_total",
				Help: "Stream drops after a successful connect by stream",
			},
			[]string{"stream"},
		),
		StreamFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "missionctl_stream_frames_total",
				Help: "Frames dispatched to a handler by stream and event",
			},
			[]string{"stream", "event"},
		),
		StreamFramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "missionctl_stream_frames_dropped_total",
				Help: "Frames dropped because their payload could not be applied",
			},
			[]string{"stream", "event"},
		),
		StreamReconnectWait: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "missionctl_stream_reconnect_delay_seconds",
				Help: "Most recent reconnect delay by stream",
			},
			[]string{"stream"},
		),
		StreamState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "missionctl_stream_state",
				Help: "Current connection state by stream (1 for the active state)",
			},
			[]string{"stream", "state"},
		),
		SnapshotDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "missionctl_snapshot_duration_seconds",
				Help:    "Board snapshot load duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			c.StreamConnects,
			c.StreamDisconnects,
			c.StreamFrames,
			c.StreamFramesDropped,
			c.StreamReconnectWait,
			c.StreamState,
			c.SnapshotDuration,
		)
	}
	return c
}

func (c *Collectors) Connected(stream string) {
	c.StreamConnects.WithLabelValues(stream).Inc()
}

func (c *Collectors) Disconnected(stream string) {
	c.StreamDisconnects.WithLabelValues(stream).Inc()
}

func (c *Collectors) Frame(stream, event string) {
	c.StreamFrames.WithLabelValues(stream, event).Inc()
}

func (c *Collectors) Dropped(stream, event string) {
	c.StreamFramesDropped.WithLabelValues(stream, event).Inc()
}

func (c *Collectors) ReconnectDelay(stream string, d time.Duration) {
	c.StreamReconnectWait.WithLabelValues(stream).Set(d.Seconds())
}

// State marks state as the active one for stream.
func (c *Collectors) State(stream, state string) {
	for _, s := range streamStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.StreamState.WithLabelValues(stream, s).Set(v)
	}
}

// ObserveSnapshot records one snapshot load.
func (c *Collectors) ObserveSnapshot(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.SnapshotDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
