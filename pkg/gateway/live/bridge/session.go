// Package bridge connects one client websocket to a streaming conversational
// runtime. It tracks push-to-talk turns and replays a turn through a text-only
// path when the live runtime fails with a recoverable error.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bezaspace/rak4/pkg/core/runtime"
	"github.com/bezaspace/rak4/pkg/gateway/live/protocol"
)

var (
	// ErrClientDisconnected ends a connection normally.
	ErrClientDisconnected = errors.New("client disconnected")
	// ErrRecoveryExhausted is returned when a turn fails again after its replay.
	ErrRecoveryExhausted = errors.New("live session recovery exhausted")

	errSessionStopped = errors.New("session stopped by client")
)

// inputFailureGrace is how long a failed runtime write waits for the event
// stream to end with its own error.
const inputFailureGrace = 2 * time.Second

const (
	msgOpenFailed       = "Live session could not be started. Please try again."
	msgUnexpectedFailed = "Live session ended unexpectedly. Please restart the session."
)

// Conn is the client socket. *websocket.Conn satisfies it.
type Conn interface {
	wsReader
	wsWriter
}

// Config holds the per-connection limits and timeouts.
type Config struct {
	MaxAudioFrameBytes int
	WriteTimeout       time.Duration
	PingInterval       time.Duration
	// FallbackTimeout bounds the text-only replay. Zero disables it.
	FallbackTimeout time.Duration
}

// Dependencies are the collaborators New wires into a Bridge.
type Dependencies struct {
	Runtime runtime.Runtime
	Logger  *slog.Logger
	Config  Config
	Metrics MetricsSink
	// RiskHint flags text that mentions urgent symptoms. Optional.
	RiskHint func(string) bool
	Now      func() time.Time
}

// ServeRequest identifies the user behind one client socket.
type ServeRequest struct {
	UserID    string
	Timezone  string
	RequestID string
	// OnAccepted is called once the connection is live. warn sends a
	// warning event through the connection's writer. Optional.
	OnAccepted func(traceID string, warn func(message string) error)
}

// Bridge serves client sockets against one runtime. It is safe for
// concurrent use by multiple connections.
type Bridge struct {
	runtime    runtime.Runtime
	logger     *slog.Logger
	cfg        Config
	sink       MetricsSink
	riskHint   func(string) bool
	now        func() time.Time
	inputGrace time.Duration
}

// New validates deps and fills in the logger and clock defaults.
func New(deps Dependencies) (*Bridge, error) {
	if deps.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Bridge{
		runtime:    deps.Runtime,
		logger:     deps.Logger,
		cfg:        deps.Config,
		sink:       deps.Metrics,
		riskHint:   deps.RiskHint,
		now:        deps.Now,
		inputGrace: inputFailureGrace,
	}, nil
}

// connection is the state of one client socket across runtime cycles.
type connection struct {
	traceID    string
	cfg        Config
	logger     *slog.Logger
	writer     *clientWriter
	turns      *Tracker
	metrics    *Metrics
	sink       MetricsSink
	frames     <-chan inboundFrame
	riskHint   func(string) bool
	now        func() time.Time
	// inputGrace bounds the wait for the stream after a failed runtime write.
	inputGrace time.Duration

	// announcedRate is only touched by the outbound pump.
	announcedRate int
}

func newTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Serve runs the session loop until the client leaves, stops the session, or
// a non-recoverable failure occurs. The caller owns ws and closes it after
// Serve returns.
func (b *Bridge) Serve(ctx context.Context, ws Conn, req ServeRequest) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	traceID := newTraceID()
	metrics := NewMetrics(b.now())
	frames := make(chan inboundFrame, 64)
	c := &connection{
		traceID:    traceID,
		cfg:        b.cfg,
		logger:     b.logger,
		writer:     newClientWriter(ws, b.cfg.WriteTimeout, metrics, b.logger, traceID),
		turns:      NewTracker(),
		metrics:    metrics,
		sink:       b.sink,
		frames:     frames,
		riskHint:   b.riskHint,
		now:        b.now,
		inputGrace: b.inputGrace,
	}
	c.logger.Info("websocket_connect",
		"trace_id", traceID,
		"user_id", req.UserID,
		"timezone", req.Timezone,
		"request_id", req.RequestID,
	)

	if r, ok := b.runtime.(runtime.Releaser); ok {
		defer r.Release(traceID)
	}

	go readLoop(ctx, ws, frames)
	go c.writer.keepalive(ctx, b.cfg.PingInterval)
	c.logger.Info("websocket_accepted", "trace_id", traceID)
	if req.OnAccepted != nil {
		req.OnAccepted(traceID, func(message string) error {
			return c.send(protocol.TypeWarning, protocol.Warning(message))
		})
	}

	defer func() {
		snap := metrics.Snapshot(b.now())
		logSummary(c.logger, traceID, snap)
		if b.sink != nil {
			b.sink.ObserveSession(snap)
		}
	}()

	var input runtime.InputChannel
	closeInput := func() {
		if input != nil {
			_ = input.Close()
			input = nil
		}
	}
	defer closeInput()

	for {
		closeInput()

		exec, err := b.runtime.Open(ctx, runtime.OpenRequest{
			UserID:   req.UserID,
			Timezone: req.Timezone,
			TraceID:  traceID,
		})
		if err != nil {
			c.logger.Error("live_context_failed", "trace_id", traceID, "error", err)
			_ = c.send(protocol.TypeWarning, protocol.Warning(msgOpenFailed))
			return fmt.Errorf("open runtime: %w", err)
		}
		input = exec.Input
		c.logger.Info("live_context_ready",
			"trace_id", traceID,
			"session_id", exec.SessionID,
			"profile_loaded", exec.ProfileStatus.Loaded,
			"profile_source", exec.ProfileStatus.Source,
		)

		if err := c.announce(exec); err != nil {
			return nil
		}

		err = c.runCycle(ctx, exec)
		closeInput()

		switch {
		case err == nil, errors.Is(err, errSessionStopped):
			c.writer.closeNormal()
			return nil
		case errors.Is(err, ErrClientDisconnected):
			return nil
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			c.writer.closeNormal()
			return nil
		case runtime.IsRecoverable(err):
			code, _ := runtime.ErrorCode(err)
			c.logger.Warn("gemini_api_error", "trace_id", traceID, "code", code, "error", err)
			state, werr := c.recoverTurn(ctx, exec.Replayer, err)
			if werr != nil {
				return nil
			}
			if state == RecoveryTerminated {
				c.writer.closeNormal()
				return fmt.Errorf("%w: %v", ErrRecoveryExhausted, err)
			}
			c.logger.Info("live_context_rebuild", "trace_id", traceID, "turn_id", c.turns.Snapshot().TurnID)
		default:
			c.logger.Error("websocket_task_failed", "trace_id", traceID, "error", err)
			_ = c.send(protocol.TypeWarning, protocol.Warning(msgUnexpectedFailed))
			return err
		}
	}
}

func (c *connection) announce(exec *runtime.Execution) error {
	if err := c.send(protocol.TypeSessionReady, protocol.SessionReady(exec.SessionID)); err != nil {
		return err
	}
	status := exec.ProfileStatus
	return c.send(protocol.TypeProfileStatus, protocol.ProfileStatus(status.Loaded, status.Source, status.Message))
}

// runCycle runs both pumps. Whichever finishes first cancels the other, and
// the loser's cancellation is not reported. A failed runtime write defers to
// the event stream for up to inputGrace, so the stream's terminal error (often
// a recoverable close) decides how the cycle ends.
func (c *connection) runCycle(ctx context.Context, exec *runtime.Execution) error {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outDone := make(chan struct{})
	var outErr error

	g, gctx := errgroup.WithContext(cycleCtx)
	g.Go(func() error {
		defer cancel()
		err := c.runInbound(gctx, exec.Input)
		if isInputSendError(err) {
			c.logger.Warn("runtime_send_failed", "trace_id", c.traceID, "error", err)
			timer := time.NewTimer(c.inputGrace)
			defer timer.Stop()
			select {
			case <-outDone:
				if outErr != nil || ctx.Err() != nil {
					return nil
				}
			case <-timer.C:
			}
			return err
		}
		return swallowCanceled(gctx, err)
	})
	g.Go(func() error {
		defer cancel()
		defer close(outDone)
		outErr = swallowCanceled(gctx, c.runOutbound(gctx, exec.Events))
		return outErr
	})
	return g.Wait()
}

func swallowCanceled(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *connection) send(typ string, v any) error {
	if err := c.writer.sendEvent(typ, v); err != nil {
		return clientGone(err)
	}
	return nil
}

func clientGone(err error) error {
	if err == nil || errors.Is(err, ErrClientDisconnected) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrClientDisconnected, err)
}

func isClientGone(err error) bool {
	return errors.Is(err, ErrClientDisconnected)
}
