package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bezaspace/rak4/pkg/gateway/apierror"
	"github.com/bezaspace/rak4/pkg/gateway/config"
	"github.com/bezaspace/rak4/pkg/gateway/lifecycle"
	"github.com/bezaspace/rak4/pkg/gateway/live/bridge"
	"github.com/bezaspace/rak4/pkg/gateway/live/sessions"
	"github.com/bezaspace/rak4/pkg/gateway/ratelimit"
	"github.com/bezaspace/rak4/pkg/gateway/telemetry"
	"github.com/bezaspace/rak4/pkg/schedule"
)

// LiveServer runs one client connection. *bridge.Bridge satisfies it.
type LiveServer interface {
	Serve(ctx context.Context, ws bridge.Conn, req bridge.ServeRequest) error
}

// LiveHandler upgrades /ws/live requests and hands the socket to the bridge.
type LiveHandler struct {
	Config       config.Config
	Bridge       LiveServer
	Logger       *slog.Logger
	Limiter      *ratelimit.Limiter
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	Metrics      *telemetry.Metrics
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorStatus(w, r, http.StatusMethodNotAllowed, &apierror.Error{Type: apierror.TypeInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"})
		return
	}
	if h.Lifecycle.IsDraining() {
		writeErrorStatus(w, r, http.StatusServiceUnavailable, &apierror.Error{Type: apierror.TypeUnavailable, Message: "gateway is draining", Code: "draining"})
		return
	}
	if !h.originAllowed(r) {
		writeErrorStatus(w, r, http.StatusForbidden, &apierror.Error{Type: apierror.TypePermission, Message: "origin is not allowed", Param: "Origin"})
		return
	}

	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		userID = schedule.DefaultUserID
	}
	timezone := strings.TrimSpace(q.Get("timezone"))

	if h.Limiter != nil {
		dec := h.Limiter.AcquireSession(userID, time.Now())
		if !dec.Allowed {
			h.Metrics.RecordRateLimitHit("live_sessions")
			writeErrorStatus(w, r, http.StatusTooManyRequests, &apierror.Error{Type: apierror.TypeRateLimit, Message: "too many active live sessions", Code: "too_many_sessions"})
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	upgrader := websocket.Upgrader{
		HandshakeTimeout: handshakeTimeout,
		// Origin was checked above.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if limit := h.readLimit(); limit > 0 {
		conn.SetReadLimit(limit)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unregister := func() {}
	defer func() { unregister() }()

	reqID := requestIDFromContext(r)
	err = h.Bridge.Serve(ctx, conn, bridge.ServeRequest{
		UserID:    userID,
		Timezone:  timezone,
		RequestID: reqID,
		OnAccepted: func(traceID string, warn func(message string) error) {
			if h.LiveSessions == nil {
				return
			}
			unregister = h.LiveSessions.Register(traceID, sessions.Handle{
				UserID: userID,
				Cancel: cancel,
				Warn:   warn,
			})
		},
	})
	if err != nil && h.Logger != nil {
		h.Logger.Warn("live session ended with error", "request_id", reqID, "user_id", userID, "error", err)
	}
}

// readLimit covers both frame kinds: JSON events and raw audio chunks.
func (h LiveHandler) readLimit() int64 {
	return max(h.Config.LiveMaxJSONMessageBytes, int64(h.Config.LiveMaxAudioFrameBytes))
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return strings.TrimSpace(origin) == "" || h.Config.OriginAllowed(origin)
}
