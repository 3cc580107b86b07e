// Package runtime defines the contract between the live session bridge and a
// streaming conversational backend. Runtime events are a strict struct with
// explicit optional fields; implementations translate their wire format into it.
package runtime

import (
	"context"
	"encoding/json"
)

// InputAudioMIMEType is the MIME type of realtime audio sent to the runtime.
const InputAudioMIMEType = "audio/pcm;rate=16000"

// InputChannel is the duplex input side of a live runtime session.
// Close must be idempotent.
type InputChannel interface {
	SendRealtimeAudio(data []byte, mimeType string) error
	SendContent(text string) error
	SendActivityStart() error
	SendActivityEnd() error
	Close() error
}

// EventStream yields runtime output events in arrival order. Next returns
// io.EOF once the stream is finished, including after the paired InputChannel
// was closed locally.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
}

// Replayer runs a single non-streaming, text-only request/response cycle.
// emit is called for every event the cycle produces, in order.
type Replayer interface {
	ReplayText(ctx context.Context, text string, emit func(Event) error) error
}

// ProfileStatus describes the external profile context loaded for a session.
type ProfileStatus struct {
	Loaded  bool
	Source  string
	Message string
}

// Execution is one duplex cycle against the runtime. It is never reused after
// the cycle ends.
type Execution struct {
	SessionID     string
	Input         InputChannel
	Events        EventStream
	Replayer      Replayer
	ProfileStatus ProfileStatus
}

// OpenRequest carries the per-connection identity used to build an Execution.
type OpenRequest struct {
	UserID   string
	Timezone string
	TraceID  string
}

// Runtime builds fresh executions.
type Runtime interface {
	Open(ctx context.Context, req OpenRequest) (*Execution, error)
}

// Releaser is implemented by runtimes that keep state per client
// connection. Release is called once with the connection's trace id after
// its last cycle.
type Releaser interface {
	Release(traceID string)
}

// Event is one runtime output event. Zero-valued fields are absent.
type Event struct {
	Interrupted         bool
	TurnComplete        bool
	InputTranscription  string
	OutputTranscription string
	Parts               []Part
	FunctionResponses   []FunctionResponse
}

// Part is a content part: text, inline audio, or neither.
type Part struct {
	Text  string
	Audio *InlineAudio
}

// InlineAudio carries audio bytes either raw or base64 encoded.
type InlineAudio struct {
	MIMEType string
	Data     []byte
	// Base64 is set instead of Data when the runtime delivered encoded audio.
	Base64 string
}

// FunctionResponse is the result of a tool invocation observed in the stream.
// Response holds either a JSON object or a JSON string containing an object.
type FunctionResponse struct {
	ID       string
	Name     string
	Response json.RawMessage
}
