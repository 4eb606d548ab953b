package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all prometheus collectors for the playout engine.
// A single instance is created at startup and threaded through the
// components that report into it.
type Metrics struct {
	registry *prometheus.Registry

	FFmpegProcessesActive      prometheus.Gauge
	SpawnRejectedMemoryTotal   prometheus.Counter
	SpawnRejectedFDTotal       prometheus.Counter
	SpawnRejectedCapacityTotal prometheus.Counter
	EventLoopLagSeconds        prometheus.Gauge
	DBPoolCheckedOut           prometheus.Gauge
	DBPoolSize                 prometheus.Gauge
	ChannelSubscribers         *prometheus.GaugeVec
	ChannelState               *prometheus.GaugeVec
	SessionsActive             prometheus.Gauge
	StreamBytesTotal           *prometheus.CounterVec
	SelfHealActionsTotal       *prometheus.CounterVec
	TimelineBuildSeconds       prometheus.Histogram
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		FFmpegProcessesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ffmpeg_processes_active",
			Help: "Number of FFmpeg processes currently running.",
		}),
		SpawnRejectedMemoryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffmpeg_spawn_rejected_memory_total",
			Help: "Spawn requests rejected because the memory budget was exhausted.",
		}),
		SpawnRejectedFDTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffmpeg_spawn_rejected_fd_total",
			Help: "Spawn requests rejected because the file descriptor budget was exhausted.",
		}),
		SpawnRejectedCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffmpeg_spawn_rejected_capacity_total",
			Help: "Spawn requests rejected because all process slots were in use.",
		}),
		EventLoopLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "event_loop_lag_seconds",
			Help: "Observed scheduling lag of the runtime, sampled periodically.",
		}),
		DBPoolCheckedOut: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_checked_out",
			Help: "Database connections currently in use.",
		}),
		DBPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_size",
			Help: "Database connections currently open.",
		}),
		ChannelSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "channel_subscribers",
			Help: "Active subscribers per channel.",
		}, []string{"channel"}),
		ChannelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "channel_state",
			Help: "Numeric channel stream state (0=idle 1=starting 2=running 3=advancing 4=recovering 5=stopping 6=stopped 7=failed).",
		}, []string{"channel"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Client sessions currently registered.",
		}),
		StreamBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_bytes_total",
			Help: "Bytes written into each channel ring buffer.",
		}, []string{"channel"}),
		SelfHealActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "selfheal_actions_total",
			Help: "Self-healing actions taken, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		TimelineBuildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timeline_build_seconds",
			Help:    "Wall time spent materializing channel timelines.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	reg.MustRegister(
		m.FFmpegProcessesActive,
		m.SpawnRejectedMemoryTotal,
		m.SpawnRejectedFDTotal,
		m.SpawnRejectedCapacityTotal,
		m.EventLoopLagSeconds,
		m.DBPoolCheckedOut,
		m.DBPoolSize,
		m.ChannelSubscribers,
		m.ChannelState,
		m.SessionsActive,
		m.StreamBytesTotal,
		m.SelfHealActionsTotal,
		m.TimelineBuildSeconds,
	)

	return m
}

// StartLagSampler samples runtime scheduling lag until ctx is done: a
// timer is armed for interval and the overshoot past its deadline is
// recorded as the lag. A loaded scheduler fires timers late.
func (m *Metrics) StartLagSampler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		deadline := time.Now().Add(interval)
		for {
			select {
			case <-ctx.Done():
				return
			case fired := <-timer.C:
				m.RecordLag(fired.Sub(deadline))
				timer.Reset(interval)
				deadline = time.Now().Add(interval)
			}
		}
	}()
}

// RecordLag publishes one scheduling lag observation.
func (m *Metrics) RecordLag(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	m.EventLoopLagSeconds.Set(lag.Seconds())
}

// Handler returns an http.Handler serving the metrics in the Prometheus
// text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
