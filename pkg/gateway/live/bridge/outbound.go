package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/bezaspace/rak4/pkg/core/runtime"
	"github.com/bezaspace/rak4/pkg/gateway/live/protocol"
)

// Response-start sources, logged with turn_response_started.
const (
	sourceOutputTranscription = "assistant_text_output_transcription"
	sourceContentText         = "assistant_text_content_part"
	sourceAudioChunk          = "assistant_audio_chunk"
)

// ExtractUIPayload returns the tool payload to forward to the client, if the
// response carries one of the UI payload types. The response may be a JSON
// object or a JSON string holding an object.
func ExtractUIPayload(resp runtime.FunctionResponse) (json.RawMessage, string, bool) {
	raw := bytes.TrimSpace(resp.Response)
	if len(raw) == 0 {
		return nil, "", false
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, "", false
		}
		raw = bytes.TrimSpace([]byte(inner))
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, "", false
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, "", false
	}
	if !protocol.IsUIPayloadType(head.Type) {
		return nil, head.Type, false
	}
	return json.RawMessage(raw), head.Type, true
}

// parseSampleRate reads the rate=<digits> parameter of an audio MIME type.
func parseSampleRate(mimeType string) (int, bool) {
	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(part)
		value, ok := strings.CutPrefix(strings.ToLower(part), "rate=")
		if !ok || value == "" {
			continue
		}
		for _, r := range value {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}

func (c *connection) runOutbound(ctx context.Context, events runtime.EventStream) error {
	for {
		ev, err := events.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Debug("runtime_stream_finished", "trace_id", c.traceID)
				return nil
			}
			return err
		}
		if err := c.forwardEvent(ev); err != nil {
			return err
		}
	}
}

func (c *connection) forwardEvent(ev runtime.Event) error {
	if ev.Interrupted {
		if err := c.send(protocol.TypeAssistantInterrupted, protocol.Interrupted()); err != nil {
			return err
		}
	}
	if err := c.forwardToolPayloads(ev.FunctionResponses); err != nil {
		return err
	}
	if text := ev.OutputTranscription; text != "" {
		c.markResponseStarted(sourceOutputTranscription)
		if err := c.send(protocol.TypeAssistantText, protocol.AssistantText(text)); err != nil {
			return err
		}
	}
	if text := ev.InputTranscription; strings.TrimSpace(text) != "" {
		c.turns.AccumulateInputTranscript(text)
		if err := c.send(protocol.TypePartialTranscript, protocol.PartialTranscript(text)); err != nil {
			return err
		}
	}
	for _, part := range ev.Parts {
		if part.Text != "" {
			c.markResponseStarted(sourceContentText)
			if err := c.send(protocol.TypeAssistantText, protocol.AssistantText(part.Text)); err != nil {
				return err
			}
		}
		if part.Audio != nil {
			if err := c.forwardAudio(part.Audio); err != nil {
				return err
			}
		}
	}
	if ev.TurnComplete {
		c.logger.Debug("rx_event", "trace_id", c.traceID, "type", "turn_complete")
	}
	return nil
}

func (c *connection) forwardAudio(audio *runtime.InlineAudio) error {
	if rate, ok := parseSampleRate(audio.MIMEType); ok && rate != c.announcedRate {
		if err := c.send(protocol.TypeAssistantAudioFormat, protocol.AudioFormat(rate)); err != nil {
			return err
		}
		c.announcedRate = rate
	}
	data := audio.Data
	if audio.Base64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(audio.Base64)
		if err != nil {
			c.logger.Warn("audio_decode_failed", "trace_id", c.traceID, "error", err)
			return nil
		}
		data = decoded
	}
	if len(data) == 0 {
		return nil
	}
	c.markResponseStarted(sourceAudioChunk)
	if err := c.writer.sendAudio(data); err != nil {
		return clientGone(err)
	}
	return nil
}

func (c *connection) forwardToolPayloads(responses []runtime.FunctionResponse) error {
	for _, resp := range responses {
		payload, typ, ok := ExtractUIPayload(resp)
		if !ok {
			c.logger.Debug("tool_payload_dropped", "trace_id", c.traceID, "tool", resp.Name, "type", typ)
			continue
		}
		if err := c.writer.sendJSON(typ, payload); err != nil {
			return clientGone(err)
		}
	}
	return nil
}

// forwardReplayEvent forwards text and tool payloads produced by the
// text-only replay. Audio is never produced there and turns are not marked.
func (c *connection) forwardReplayEvent(ev runtime.Event) error {
	if err := c.forwardToolPayloads(ev.FunctionResponses); err != nil {
		return err
	}
	if text := ev.OutputTranscription; text != "" {
		if err := c.send(protocol.TypeAssistantText, protocol.AssistantText(text)); err != nil {
			return err
		}
	}
	for _, part := range ev.Parts {
		if part.Text == "" {
			continue
		}
		if err := c.send(protocol.TypeAssistantText, protocol.AssistantText(part.Text)); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) markResponseStarted(source string) {
	if turnID, ok := c.turns.MarkResponseStarted(); ok {
		c.logger.Info("turn_response_started", "trace_id", c.traceID, "turn_id", turnID, "source", source)
	}
}
