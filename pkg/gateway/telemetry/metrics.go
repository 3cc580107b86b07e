// Package telemetry exposes gateway and live session metrics to Prometheus.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bezaspace/rak4/pkg/gateway/live/bridge"
)

// Metrics holds all Prometheus metrics for the gateway. It is a
// bridge.MetricsSink.
type Metrics struct {
	registry *prometheus.Registry

	// Live session metrics
	LiveSessionsTotal    prometheus.Counter
	LiveSessionDuration  prometheus.Histogram
	LiveAudioChunksTotal *prometheus.CounterVec
	LiveAudioBytesTotal  *prometheus.CounterVec
	LiveTextEventsTotal  *prometheus.CounterVec
	ParseErrorsTotal     prometheus.Counter
	RecoveriesTotal      *prometheus.CounterVec

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry. activeSessions,
// when set, backs the live_sessions_active gauge.
func NewMetrics(namespace string, activeSessions func() int) *Metrics {
	if namespace == "" {
		namespace = "raksha"
	}

	registry := prometheus.NewRegistry()

	liveSessionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Total number of finished live sessions",
		},
	)

	liveSessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	liveAudioChunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_audio_chunks_total",
			Help:      "Total audio frames relayed in live sessions",
		},
		[]string{"direction"},
	)

	liveAudioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_audio_bytes_total",
			Help:      "Total audio bytes relayed in live sessions",
		},
		[]string{"direction"},
	)

	liveTextEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_text_events_total",
			Help:      "Total JSON events exchanged with live clients",
		},
		[]string{"direction"},
	)

	parseErrorsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_parse_errors_total",
			Help:      "Total malformed client frames",
		},
	)

	recoveriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_recoveries_total",
			Help:      "Total fallback recoveries by result",
		},
		[]string{"result"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"limit_type"},
	)

	registry.MustRegister(
		liveSessionsTotal,
		liveSessionDuration,
		liveAudioChunksTotal,
		liveAudioBytesTotal,
		liveTextEventsTotal,
		parseErrorsTotal,
		recoveriesTotal,
		rateLimitHits,
	)
	if activeSessions != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_sessions_active",
				Help:      "Number of active live sessions",
			},
			func() float64 { return float64(activeSessions()) },
		))
	}

	return &Metrics{
		registry:             registry,
		LiveSessionsTotal:    liveSessionsTotal,
		LiveSessionDuration:  liveSessionDuration,
		LiveAudioChunksTotal: liveAudioChunksTotal,
		LiveAudioBytesTotal:  liveAudioBytesTotal,
		LiveTextEventsTotal:  liveTextEventsTotal,
		ParseErrorsTotal:     parseErrorsTotal,
		RecoveriesTotal:      recoveriesTotal,
		RateLimitHits:        rateLimitHits,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSession records the final counters of one live connection.
func (m *Metrics) ObserveSession(s bridge.MetricsSnapshot) {
	m.LiveSessionsTotal.Inc()
	m.LiveSessionDuration.Observe(s.Duration.Seconds())
	m.LiveAudioChunksTotal.WithLabelValues("in").Add(float64(s.IncomingAudioChunks))
	m.LiveAudioChunksTotal.WithLabelValues("out").Add(float64(s.OutgoingAudioChunks))
	m.LiveAudioBytesTotal.WithLabelValues("in").Add(float64(s.IncomingAudioBytes))
	m.LiveAudioBytesTotal.WithLabelValues("out").Add(float64(s.OutgoingAudioBytes))
	m.LiveTextEventsTotal.WithLabelValues("in").Add(float64(s.IncomingTextEvents))
	m.LiveTextEventsTotal.WithLabelValues("out").Add(float64(s.OutgoingTextEvents))
	m.ParseErrorsTotal.Add(float64(s.ParseErrors))
}

// ObserveRecovery records one fallback recovery attempt.
func (m *Metrics) ObserveRecovery(result string) {
	m.RecoveriesTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a rejected request or session.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

var _ bridge.MetricsSink = (*Metrics)(nil)
