package mw

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bezaspace/rak4/pkg/gateway/apierror"
)

// maxRequestIDLen bounds client supplied X-Request-ID values.
const maxRequestIDLen = 128

type ctxKeyRequestID struct{}

func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return id, ok && id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

// RequestID keeps a sane client X-Request-ID and mints one otherwise. The id
// is echoed on the response and stored on the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > maxRequestIDLen || strings.ContainsAny(id, "\r\n") {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				reqID, _ := RequestIDFrom(r.Context())
				if logger != nil {
					logger.Error("panic",
						"panic", v,
						"request_id", reqID,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
				}
				apierror.Write(w, http.StatusInternalServerError, &apierror.Error{
					Type:      apierror.TypeAPI,
					Message:   "internal error",
					RequestID: reqID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type flushStatusWriter struct{ *statusWriter }

func (w flushStatusWriter) Flush() { w.ResponseWriter.(http.Flusher).Flush() }

// hijack records a successful upgrade as 101 for the access log.
func (w *statusWriter) hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := w.ResponseWriter.(http.Hijacker).Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

type hijackStatusWriter struct{ *statusWriter }

func (w hijackStatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) { return w.hijack() }

type flushHijackStatusWriter struct{ *statusWriter }

func (w flushHijackStatusWriter) Flush() { w.ResponseWriter.(http.Flusher).Flush() }

func (w flushHijackStatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) { return w.hijack() }

// wrapStatus advertises exactly the optional interfaces the underlying writer
// has. The websocket upgrade needs http.Hijacker.
func wrapStatus(w http.ResponseWriter) (http.ResponseWriter, *statusWriter) {
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	_, canFlush := w.(http.Flusher)
	_, canHijack := w.(http.Hijacker)
	switch {
	case canFlush && canHijack:
		return flushHijackStatusWriter{sw}, sw
	case canFlush:
		return flushStatusWriter{sw}, sw
	case canHijack:
		return hijackStatusWriter{sw}, sw
	default:
		return sw, sw
	}
}

func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, sw := wrapStatus(w)
		next.ServeHTTP(wrapped, r)
		if logger == nil {
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func newRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
