package bridge

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics are the per-connection traffic counters.
type Metrics struct {
	startedAt time.Time

	incomingAudioChunks atomic.Int64
	incomingAudioBytes  atomic.Int64
	outgoingAudioChunks atomic.Int64
	outgoingAudioBytes  atomic.Int64
	incomingTextEvents  atomic.Int64
	outgoingTextEvents  atomic.Int64
	parseErrors         atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	StartedAt           time.Time
	Duration            time.Duration
	IncomingAudioChunks int64
	IncomingAudioBytes  int64
	OutgoingAudioChunks int64
	OutgoingAudioBytes  int64
	IncomingTextEvents  int64
	OutgoingTextEvents  int64
	ParseErrors         int64
}

// MetricsSink receives session telemetry. Implementations must be safe for
// concurrent use across connections.
type MetricsSink interface {
	ObserveSession(MetricsSnapshot)
	ObserveRecovery(result string)
}

func NewMetrics(now time.Time) *Metrics {
	return &Metrics{startedAt: now}
}

func (m *Metrics) addIncomingAudio(n int) {
	m.incomingAudioChunks.Add(1)
	m.incomingAudioBytes.Add(int64(n))
}

func (m *Metrics) addOutgoingAudio(n int) {
	m.outgoingAudioChunks.Add(1)
	m.outgoingAudioBytes.Add(int64(n))
}

func (m *Metrics) addIncomingText() { m.incomingTextEvents.Add(1) }
func (m *Metrics) addOutgoingText() { m.outgoingTextEvents.Add(1) }
func (m *Metrics) addParseError() { m.parseErrors.Add(1) }

func (m *Metrics) Snapshot(now time.Time) MetricsSnapshot {
	return MetricsSnapshot{
		StartedAt:           m.startedAt,
		Duration:            now.Sub(m.startedAt),
		IncomingAudioChunks: m.incomingAudioChunks.Load(),
		IncomingAudioBytes:  m.incomingAudioBytes.Load(),
		OutgoingAudioChunks: m.outgoingAudioChunks.Load(),
		OutgoingAudioBytes:  m.outgoingAudioBytes.Load(),
		IncomingTextEvents:  m.incomingTextEvents.Load(),
		OutgoingTextEvents:  m.outgoingTextEvents.Load(),
		ParseErrors:         m.parseErrors.Load(),
	}
}

func logSummary(logger *slog.Logger, traceID string, s MetricsSnapshot) {
	logger.Info("session_summary",
		"trace_id", traceID,
		"duration_ms", s.Duration.Milliseconds(),
		"rx_audio_chunks", s.IncomingAudioChunks,
		"rx_audio_bytes", s.IncomingAudioBytes,
		"tx_audio_chunks", s.OutgoingAudioChunks,
		"tx_audio_bytes", s.OutgoingAudioBytes,
		"rx_text_events", s.IncomingTextEvents,
		"tx_text_events", s.OutgoingTextEvents,
		"parse_errors", s.ParseErrors,
	)
}
