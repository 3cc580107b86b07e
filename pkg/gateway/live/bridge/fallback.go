package bridge

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bezaspace/rak4/pkg/core/runtime"
	"github.com/bezaspace/rak4/pkg/gateway/live/protocol"
)

// Recovery outcome after a recoverable runtime failure.
type RecoveryState int

const (
	RecoveryLive RecoveryState = iota
	RecoveryTerminated
)

const (
	fallbackReason = "live_tool_unsupported"
	recoveringMode = "reconnect_live"

	msgRecoveryStarted  = "Live voice session hit an unsupported operation during a tool step. Attempting automatic recovery for this turn."
	msgRecoveryRepeated = "Live session failed again while recovering. Please restart the session."
	msgReplayFailed     = "Automatic recovery could not replay the failed turn. Please repeat your request."
)

// Recovery results reported to the metrics sink.
const (
	RecoveryResultOK         = "ok"
	RecoveryResultFailed     = "failed"
	RecoveryResultTerminated = "terminated"
)

// recoverTurn replays the failed turn through the text-only path once per turn.
// A returned error means the client could not be written to.
func (c *connection) recoverTurn(ctx context.Context, replayer runtime.Replayer, cause error) (RecoveryState, error) {
	turnID, text, ok := c.turns.BeginFallback()
	if !ok {
		c.logger.Warn("fallback_repeat_failure", "trace_id", c.traceID, "turn_id", turnID, "error", cause)
		c.observeRecovery(RecoveryResultTerminated)
		if err := c.send(protocol.TypeWarning, protocol.Warning(msgRecoveryRepeated)); err != nil {
			return RecoveryTerminated, err
		}
		return RecoveryTerminated, nil
	}

	if err := c.send(protocol.TypeWarning, protocol.Warning(msgRecoveryStarted)); err != nil {
		return RecoveryTerminated, err
	}
	if err := c.send(protocol.TypeFallbackStarted, protocol.FallbackStarted(fallbackReason, turnID)); err != nil {
		return RecoveryTerminated, err
	}

	replayed := false
	if strings.TrimSpace(text) == "" {
		c.logger.Warn("fallback_skipped", "trace_id", c.traceID, "turn_id", turnID, "reason", "missing_transcript")
	} else if replayer == nil {
		c.logger.Warn("fallback_skipped", "trace_id", c.traceID, "turn_id", turnID, "reason", "no_replayer")
	} else {
		c.logger.Info("fallback_run_async_started", "trace_id", c.traceID, "turn_id", turnID, "chars", len(text))
		err := c.replay(ctx, replayer, turnID, text)
		switch {
		case err == nil:
			replayed = true
			c.logger.Info("fallback_run_async_completed", "trace_id", c.traceID, "turn_id", turnID)
		case isClientGone(err):
			return RecoveryTerminated, err
		default:
			c.logger.Warn("fallback_run_async_failed", "trace_id", c.traceID, "turn_id", turnID, "error", err)
		}
	}

	if err := c.send(protocol.TypeFallbackCompleted, protocol.FallbackCompleted(turnID, replayed)); err != nil {
		return RecoveryTerminated, err
	}
	if err := c.send(protocol.TypeSessionRecovering, protocol.SessionRecovering(recoveringMode)); err != nil {
		return RecoveryTerminated, err
	}

	c.turns.ResetAfterRecovery()

	if !replayed {
		c.observeRecovery(RecoveryResultFailed)
		if err := c.send(protocol.TypeWarning, protocol.Warning(msgReplayFailed)); err != nil {
			return RecoveryTerminated, err
		}
		return RecoveryLive, nil
	}
	c.observeRecovery(RecoveryResultOK)
	return RecoveryLive, nil
}

func (c *connection) replay(ctx context.Context, replayer runtime.Replayer, turnID int, text string) (err error) {
	if c.cfg.FallbackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FallbackTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "fallback.replay",
		trace.WithAttributes(
			attribute.String("trace_id", c.traceID),
			attribute.Int("turn_id", turnID),
		),
	)
	defer func() {
		if err != nil && !isClientGone(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replay panic: %v", r)
		}
	}()

	return replayer.ReplayText(ctx, text, c.forwardReplayEvent)
}

func (c *connection) observeRecovery(result string) {
	if c.sink != nil {
		c.sink.ObserveRecovery(result)
	}
}
