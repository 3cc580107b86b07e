package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bezaspace/rak4/pkg/gateway/live/bridge"
)

func TestObserveSession(t *testing.T) {
	m := NewMetrics("", nil)
	m.ObserveSession(bridge.MetricsSnapshot{
		Duration:            3 * time.Second,
		IncomingAudioChunks: 3,
		IncomingAudioBytes:  12,
		OutgoingAudioChunks: 1,
		OutgoingAudioBytes:  6,
		IncomingTextEvents:  2,
		OutgoingTextEvents:  4,
		ParseErrors:         1,
	})

	if got := testutil.ToFloat64(m.LiveSessionsTotal); got != 1 {
		t.Fatalf("sessions=%v", got)
	}
	if got := testutil.ToFloat64(m.LiveAudioBytesTotal.WithLabelValues("in")); got != 12 {
		t.Fatalf("audio bytes in=%v", got)
	}
	if got := testutil.ToFloat64(m.LiveTextEventsTotal.WithLabelValues("out")); got != 4 {
		t.Fatalf("text out=%v", got)
	}
	if got := testutil.ToFloat64(m.ParseErrorsTotal); got != 1 {
		t.Fatalf("parse errors=%v", got)
	}
}

func TestObserveRecoveryAndRateLimit(t *testing.T) {
	m := NewMetrics("raksha", nil)
	m.ObserveRecovery(bridge.RecoveryResultOK)
	m.ObserveRecovery(bridge.RecoveryResultOK)
	m.ObserveRecovery(bridge.RecoveryResultTerminated)
	m.RecordRateLimitHit("live_sessions")

	if got := testutil.ToFloat64(m.RecoveriesTotal.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok recoveries=%v", got)
	}
	if got := testutil.ToFloat64(m.RecoveriesTotal.WithLabelValues("terminated")); got != 1 {
		t.Fatalf("terminated recoveries=%v", got)
	}
	if got := testutil.ToFloat64(m.RateLimitHits.WithLabelValues("live_sessions")); got != 1 {
		t.Fatalf("rate limit hits=%v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.RecordRateLimitHit("requests")
}

func TestHandlerExposesActiveGauge(t *testing.T) {
	m := NewMetrics("raksha", func() int { return 3 })
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "raksha_live_sessions_active 3") {
		t.Fatalf("gauge missing from output:\n%s", body)
	}
}
