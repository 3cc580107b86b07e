package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Audio shape of binary frames exchanged with the client.
const (
	InputSampleRateHz = 16000
	InputEncoding     = "pcm_s16le"
)

// Inbound event types.
const (
	TypeTextInput   = "text_input"
	TypePTTStart    = "ptt_start"
	TypePTTEnd      = "ptt_end"
	TypeEndTurn     = "end_turn"
	TypeStopSession = "stop_session"
)

// Outbound event types.
const (
	TypeSessionReady         = "session_ready"
	TypeProfileStatus        = "profile_status"
	TypeAssistantText        = "assistant_text"
	TypeAssistantAudioFormat = "assistant_audio_format"
	TypePartialTranscript    = "partial_transcript"
	TypeAssistantInterrupted = "assistant_interrupted"
	TypeWarning              = "warning"
	TypeFallbackStarted      = "fallback_started"
	TypeFallbackCompleted    = "fallback_completed"
	TypeSessionRecovering    = "session_recovering"
)

// Tool payload types forwarded to the client verbatim.
const (
	TypeDoctorRecommendations = "doctor_recommendations"
	TypeBookingUpdate         = "booking_update"
	TypeScheduleSnapshot      = "schedule_snapshot"
	TypeAdherenceReportSaved  = "adherence_report_saved"
)

var uiPayloadTypes = map[string]struct{}{
	TypeDoctorRecommendations: {},
	TypeBookingUpdate:         {},
	TypeScheduleSnapshot:      {},
	TypeAdherenceReportSaved:  {},
}

// IsUIPayloadType reports whether a tool payload with this discriminator may
// be forwarded to the client.
func IsUIPayloadType(typ string) bool {
	_, ok := uiPayloadTypes[typ]
	return ok
}

type DecodeError struct {
	Message string
	Preview string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ClientTextInput is a discrete text submission.
type ClientTextInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientControl is a push-to-talk or session control event.
type ClientControl struct {
	Type string `json:"type"`
}

// ClientUnknown is a well-formed event the bridge does not handle.
type ClientUnknown struct {
	Type string
	Raw  map[string]any
}

// DecodeClientMessage parses a text frame. Malformed JSON yields a
// *DecodeError; unrecognized types decode to ClientUnknown.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil || envelope == nil {
		return nil, &DecodeError{Message: "invalid json frame", Preview: preview(data, 200)}
	}
	typ, _ := envelope["type"].(string)
	typ = strings.TrimSpace(typ)

	switch typ {
	case TypeTextInput:
		msg := ClientTextInput{Type: typ}
		switch v := envelope["text"].(type) {
		case nil:
		case string:
			msg.Text = v
		default:
			msg.Text = fmt.Sprint(v)
		}
		return msg, nil
	case TypePTTStart, TypePTTEnd, TypeEndTurn, TypeStopSession:
		return ClientControl{Type: typ}, nil
	default:
		return ClientUnknown{Type: typ, Raw: envelope}, nil
	}
}

func preview(data []byte, n int) string {
	s := string(data)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type ServerSessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type ServerProfileStatus struct {
	Type    string `json:"type"`
	Loaded  bool   `json:"loaded"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

type ServerText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerAudioFormat struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sampleRate"`
}

type ServerInterrupted struct {
	Type string `json:"type"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ServerFallbackStarted struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	TurnID string `json:"turnId"`
}

type ServerFallbackCompleted struct {
	Type   string `json:"type"`
	TurnID string `json:"turnId"`
	Result string `json:"result"`
}

type ServerSessionRecovering struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

func SessionReady(sessionID string) ServerSessionReady {
	return ServerSessionReady{Type: TypeSessionReady, SessionID: sessionID}
}

func ProfileStatus(loaded bool, source, message string) ServerProfileStatus {
	return ServerProfileStatus{Type: TypeProfileStatus, Loaded: loaded, Source: source, Message: message}
}

func AssistantText(text string) ServerText {
	return ServerText{Type: TypeAssistantText, Text: text}
}

func PartialTranscript(text string) ServerText {
	return ServerText{Type: TypePartialTranscript, Text: text}
}

func AudioFormat(sampleRate int) ServerAudioFormat {
	return ServerAudioFormat{Type: TypeAssistantAudioFormat, SampleRate: sampleRate}
}

func Interrupted() ServerInterrupted {
	return ServerInterrupted{Type: TypeAssistantInterrupted}
}

func Warning(message string) ServerWarning {
	return ServerWarning{Type: TypeWarning, Message: message}
}

func FallbackStarted(reason string, turnID int) ServerFallbackStarted {
	return ServerFallbackStarted{Type: TypeFallbackStarted, Reason: reason, TurnID: fmt.Sprint(turnID)}
}

func FallbackCompleted(turnID int, ok bool) ServerFallbackCompleted {
	result := "failed"
	if ok {
		result = "ok"
	}
	return ServerFallbackCompleted{Type: TypeFallbackCompleted, TurnID: fmt.Sprint(turnID), Result: result}
}

func SessionRecovering(mode string) ServerSessionRecovering {
	return ServerSessionRecovering{Type: TypeSessionRecovering, Mode: mode}
}
