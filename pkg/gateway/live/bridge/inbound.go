package bridge

import (
	"context"
	"errors"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/bezaspace/rak4/pkg/core/runtime"
	"github.com/bezaspace/rak4/pkg/gateway/live/protocol"
)

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// inputSendError marks a failed write to the runtime input channel. When the
// runtime closes its socket the write side fails first, so the cycle gives
// the event stream a chance to report the real cause.
type inputSendError struct {
	op  string
	err error
}

func (e *inputSendError) Error() string { return e.op + ": " + e.err.Error() }

func (e *inputSendError) Unwrap() error { return e.err }

func isInputSendError(err error) bool {
	var sendErr *inputSendError
	return errors.As(err, &sendErr)
}

type wsReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// readLoop owns the socket read side for the whole connection, so a cycle
// ending never strands a blocked read.
func readLoop(ctx context.Context, ws wsReader, out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *connection) runInbound(ctx context.Context, input runtime.InputChannel) error {
	for {
		var frame inboundFrame
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok = <-c.frames:
		}
		if !ok || frame.err != nil {
			c.logger.Info("recv_websocket_disconnected", "trace_id", c.traceID, "error", frame.err)
			_ = input.Close()
			return ErrClientDisconnected
		}

		switch frame.messageType {
		case websocket.BinaryMessage:
			if err := c.handleAudio(input, frame.data); err != nil {
				return err
			}
		case websocket.TextMessage:
			if err := c.handleText(input, frame.data); err != nil {
				return err
			}
		}
	}
}

func (c *connection) handleAudio(input runtime.InputChannel, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if limit := c.cfg.MaxAudioFrameBytes; limit > 0 && len(data) > limit {
		c.metrics.addParseError()
		c.logger.Warn("rx_audio_frame_too_large", "trace_id", c.traceID, "bytes", len(data), "max_bytes", limit)
		return nil
	}
	if err := input.SendRealtimeAudio(data, runtime.InputAudioMIMEType); err != nil {
		return &inputSendError{op: "send realtime audio", err: err}
	}
	c.metrics.addIncomingAudio(len(data))
	c.turns.CountAudioChunk()
	c.logger.Debug("rx_audio_chunk", "trace_id", c.traceID, "bytes", len(data))
	return nil
}

func (c *connection) handleText(input runtime.InputChannel, data []byte) error {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		c.metrics.addParseError()
		preview := ""
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			preview = decErr.Preview
		}
		c.logger.Warn("rx_text_parse_error", "trace_id", c.traceID, "error", err, "preview", preview)
		return nil
	}
	c.metrics.addIncomingText()

	switch msg := msg.(type) {
	case protocol.ClientTextInput:
		c.logger.Debug("rx_event", "trace_id", c.traceID, "type", msg.Type)
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			c.logger.Info("rx_text_input_ignored", "trace_id", c.traceID, "reason", "empty_text")
			return nil
		}
		c.checkRisk(text)
		if err := input.SendContent(text); err != nil {
			return &inputSendError{op: "send content", err: err}
		}
		c.logger.Info("queue_send_content", "trace_id", c.traceID, "chars", len(text))
		return nil
	case protocol.ClientControl:
		c.logger.Debug("rx_event", "trace_id", c.traceID, "type", msg.Type)
		return c.handleControl(input, msg.Type)
	case protocol.ClientUnknown:
		c.logger.Info("rx_event_ignored", "trace_id", c.traceID, "type", msg.Type)
		return nil
	default:
		return nil
	}
}

func (c *connection) handleControl(input runtime.InputChannel, eventType string) error {
	result, err := Route(eventType, c.turns.Active(), input)
	if err != nil && result.Action != ActionStop {
		return &inputSendError{op: "route " + eventType, err: err}
	}
	now := c.now()
	switch result.Action {
	case ActionStart:
		turnID, _ := c.turns.OpenTurn(now)
		c.logger.Info("turn_open", "trace_id", c.traceID, "turn_id", turnID)
	case ActionEnd:
		summary, _ := c.turns.CloseTurn(now)
		c.logger.Info("turn_close",
			"trace_id", c.traceID,
			"turn_id", summary.TurnID,
			"duration_ms", summary.Duration.Milliseconds(),
			"audio_chunks", summary.AudioChunks,
		)
		if summary.Short {
			c.logger.Warn("turn_short_audio", "trace_id", c.traceID, "turn_id", summary.TurnID, "audio_chunks", summary.AudioChunks)
		}
		if summary.Transcript != "" {
			c.checkRisk(summary.Transcript)
		}
	case ActionDuplicateStart, ActionDuplicateEnd:
		c.logger.Info("control_event_ignored_duplicate", "trace_id", c.traceID, "type", eventType, "action", string(result.Action))
		return nil
	case ActionStop:
		c.logger.Info("control_event_handled", "trace_id", c.traceID, "type", eventType, "action", string(result.Action))
		return errSessionStopped
	}
	c.logger.Info("control_event_handled", "trace_id", c.traceID, "type", eventType, "action", string(result.Action))
	return nil
}

func (c *connection) checkRisk(text string) {
	if c.riskHint != nil && c.riskHint(text) {
		c.logger.Warn("urgent_risk_hint", "trace_id", c.traceID, "chars", len(text))
	}
}
