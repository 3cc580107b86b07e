package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 20 * time.Second
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// clientWriter serializes every frame sent to the client. The pumps and the
// recovery controller share it, so frames never interleave.
type clientWriter struct {
	mu           sync.Mutex
	ws           wsWriter
	writeTimeout time.Duration
	metrics      *Metrics
	logger       *slog.Logger
	traceID      string
}

func newClientWriter(ws wsWriter, writeTimeout time.Duration, metrics *Metrics, logger *slog.Logger, traceID string) *clientWriter {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &clientWriter{ws: ws, writeTimeout: writeTimeout, metrics: metrics, logger: logger, traceID: traceID}
}

// sendEvent marshals v as a JSON text frame. typ is only used for logging.
func (w *clientWriter) sendEvent(typ string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.sendJSON(typ, payload)
}

func (w *clientWriter) sendJSON(typ string, payload []byte) error {
	if err := w.write(websocket.TextMessage, payload); err != nil {
		return err
	}
	w.metrics.addOutgoingText()
	w.logger.Debug("tx_event", "trace_id", w.traceID, "type", typ, "bytes", len(payload))
	return nil
}

func (w *clientWriter) sendAudio(data []byte) error {
	if err := w.write(websocket.BinaryMessage, data); err != nil {
		return err
	}
	w.metrics.addOutgoingAudio(len(data))
	return nil
}

func (w *clientWriter) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(messageType, data)
}

// keepalive pings the client until ctx is done or a ping fails.
func (w *clientWriter) keepalive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(w.writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				w.logger.Debug("websocket_ping_failed", "trace_id", w.traceID, "error", err)
				return
			}
		}
	}
}

// closeNormal sends a normal close frame. The caller owns the connection and
// closes it afterwards.
func (w *clientWriter) closeNormal() {
	deadline := time.Now().Add(w.writeTimeout)
	_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
