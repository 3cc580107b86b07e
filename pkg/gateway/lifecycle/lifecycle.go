// Package lifecycle tracks process draining and runs the graceful shutdown
// sequence shared by the readiness probe and the live handler.
package lifecycle

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/bezaspace/rak4/pkg/gateway/live/sessions"
)

// DrainWarning is sent to every live connection when shutdown begins.
const DrainWarning = "Server is restarting. Your session will end shortly."

// Lifecycle is shared across handlers. The zero value is ready and not
// draining; a nil *Lifecycle is never draining.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Shutdowner is satisfied by *http.Server.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Drain marks the process draining, warns live sessions, and stops the HTTP
// server. Sessions still open when ctx expires are canceled. Drain returns
// the server's shutdown error.
func (l *Lifecycle) Drain(ctx context.Context, srv Shutdowner, live *sessions.Tracker, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	l.SetDraining(true)

	if live != nil {
		warned := live.WarnAll(DrainWarning)
		logger.Info("drain_started", "live_sessions", live.Count(), "warned", warned)
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		logger.Warn("http_shutdown_incomplete", "error", err)
	}

	if live != nil && !live.Wait(ctx) {
		canceled := live.CancelAll()
		logger.Warn("drain_deadline_reached", "canceled_sessions", canceled)
	}
	return err
}
