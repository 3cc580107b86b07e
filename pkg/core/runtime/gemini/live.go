package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/bezaspace/rak4/pkg/core/runtime"
	"github.com/bezaspace/rak4/pkg/core/tools"
)

// ErrSessionClosed is returned by sends after Close.
var ErrSessionClosed = errors.New("live session closed")

// liveConn is the subset of *genai.Session the live session uses.
type liveConn interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type streamItem struct {
	ev  runtime.Event
	err error
}

// LiveSession adapts one Gemini live connection to the runtime input channel
// and event stream. Tool calls are executed inside the receive loop so the
// model gets its responses without a round trip through the bridge.
type LiveSession struct {
	conn     liveConn
	registry *tools.Registry
	call     tools.CallContext
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sendMu    sync.Mutex
	termMu    sync.Mutex
	terminal  error
	history   transcript
	items     chan streamItem
	closed    chan struct{}
	closeOnce sync.Once
}

func newLiveSession(conn liveConn, registry *tools.Registry, call tools.CallContext, logger *slog.Logger) *LiveSession {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(tools.WithCallContext(context.Background(), call))
	s := &LiveSession{
		conn:     conn,
		registry: registry,
		call:     call,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		items:    make(chan streamItem, 32),
		closed:   make(chan struct{}),
	}
	go s.receiveLoop()
	return s
}

func (s *LiveSession) SendRealtimeAudio(data []byte, mimeType string) error {
	return s.send(func() error {
		return s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{Data: data, MIMEType: mimeType},
		})
	})
}

func (s *LiveSession) SendContent(text string) error {
	err := s.send(func() error {
		return s.conn.SendClientContent(genai.LiveClientContentInput{
			Turns: []*genai.Content{textContent(string(genai.RoleUser), text)},
		})
	})
	if err != nil {
		return err
	}
	s.history.add(string(genai.RoleUser), text)
	s.history.endTurn()
	return nil
}

// History returns the user and model text seen on this connection so far.
func (s *LiveSession) History() []*genai.Content {
	return s.history.contents()
}

func (s *LiveSession) SendActivityStart() error {
	return s.send(func() error {
		return s.conn.SendRealtimeInput(genai.LiveRealtimeInput{ActivityStart: &genai.ActivityStart{}})
	})
}

func (s *LiveSession) SendActivityEnd() error {
	return s.send(func() error {
		return s.conn.SendRealtimeInput(genai.LiveRealtimeInput{ActivityEnd: &genai.ActivityEnd{}})
	})
}

// send serializes writes on the live socket; the bridge and the tool
// responder both write to it.
func (s *LiveSession) send(fn func() error) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := fn(); err != nil {
		if terminal := s.terminalErr(); terminal != nil {
			return terminal
		}
		return classify(err)
	}
	return nil
}

// terminalErr is the classified error that ended the receive loop, if any.
// Writes failing after the server closed report it instead of their own.
func (s *LiveSession) terminalErr() error {
	s.termMu.Lock()
	defer s.termMu.Unlock()
	return s.terminal
}

func (s *LiveSession) setTerminal(err error) {
	s.termMu.Lock()
	defer s.termMu.Unlock()
	s.terminal = err
}

// Close is idempotent.
func (s *LiveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

func (s *LiveSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Next returns the next server event, or io.EOF once the session ended or
// was closed locally.
func (s *LiveSession) Next(ctx context.Context) (runtime.Event, error) {
	if s.isClosed() {
		return runtime.Event{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return runtime.Event{}, ctx.Err()
	case <-s.closed:
		return runtime.Event{}, io.EOF
	case item, ok := <-s.items:
		if !ok {
			return runtime.Event{}, io.EOF
		}
		if item.err != nil {
			return runtime.Event{}, item.err
		}
		return item.ev, nil
	}
}

func (s *LiveSession) receiveLoop() {
	defer close(s.items)
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if s.isClosed() || isNormalClose(err) {
				return
			}
			err = classify(err)
			s.setTerminal(err)
			s.deliver(streamItem{err: fmt.Errorf("live receive: %w", err)})
			return
		}
		if msg == nil {
			continue
		}
		if msg.GoAway != nil {
			s.logger.Warn("gemini_go_away", "trace_id", s.call.TraceID)
		}
		if msg.ToolCall != nil {
			ev, err := s.handleToolCall(msg.ToolCall)
			if err != nil {
				s.deliver(streamItem{err: err})
				return
			}
			if !s.deliver(streamItem{ev: ev}) {
				return
			}
		}
		if msg.ServerContent != nil {
			ev := eventFromServerContent(msg.ServerContent)
			s.history.recordEvent(ev)
			if !s.deliver(streamItem{ev: ev}) {
				return
			}
		}
	}
}

func (s *LiveSession) deliver(item streamItem) bool {
	select {
	case s.items <- item:
		return true
	case <-s.closed:
		return false
	}
}

func (s *LiveSession) handleToolCall(call *genai.LiveServerToolCall) (runtime.Event, error) {
	responses := make([]*genai.FunctionResponse, 0, len(call.FunctionCalls))
	var ev runtime.Event
	for _, fc := range call.FunctionCalls {
		if fc == nil {
			continue
		}
		payload, raw := s.callTool(fc)
		responses = append(responses, &genai.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: payload})
		ev.FunctionResponses = append(ev.FunctionResponses, runtime.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: raw})
	}
	if len(responses) == 0 {
		return ev, nil
	}
	err := s.send(func() error {
		return s.conn.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
	})
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		return runtime.Event{}, fmt.Errorf("send tool response: %w", err)
	}
	return ev, nil
}

func (s *LiveSession) callTool(fc *genai.FunctionCall) (map[string]any, json.RawMessage) {
	return callTool(s.ctx, s.registry, s.logger, s.call.TraceID, fc)
}

func callTool(ctx context.Context, registry *tools.Registry, logger *slog.Logger, traceID string, fc *genai.FunctionCall) (map[string]any, json.RawMessage) {
	args, err := json.Marshal(fc.Args)
	if err != nil {
		args = []byte("{}")
	}
	payload, err := registry.Call(ctx, fc.Name, args)
	if err != nil {
		logger.Warn("tool_call_failed", "trace_id", traceID, "tool", fc.Name, "error", err)
	} else {
		logger.Info("tool_call_completed", "trace_id", traceID, "tool", fc.Name)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{"error":"tool result is not serializable"}`)
	}
	return payload, raw
}

func eventFromServerContent(sc *genai.LiveServerContent) runtime.Event {
	ev := runtime.Event{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.InputTranscription != nil {
		ev.InputTranscription = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscription = sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		ev.Parts, ev.FunctionResponses = partsFromContent(sc.ModelTurn)
	}
	return ev
}

func partsFromContent(content *genai.Content) ([]runtime.Part, []runtime.FunctionResponse) {
	var parts []runtime.Part
	var responses []runtime.FunctionResponse
	for _, p := range content.Parts {
		if p == nil || p.Thought {
			continue
		}
		if p.Text != "" {
			parts = append(parts, runtime.Part{Text: p.Text})
		}
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			parts = append(parts, runtime.Part{Audio: &runtime.InlineAudio{
				MIMEType: p.InlineData.MIMEType,
				Data:     p.InlineData.Data,
			}})
		}
		if fr := p.FunctionResponse; fr != nil {
			raw, err := json.Marshal(fr.Response)
			if err == nil {
				responses = append(responses, runtime.FunctionResponse{ID: fr.ID, Name: fr.Name, Response: raw})
			}
		}
	}
	return parts, responses
}

func isNormalClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
}

// classify maps websocket close errors to runtime errors carrying the close
// code; everything else passes through.
func classify(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return &runtime.Error{Code: closeErr.Code, Message: closeErr.Text, Err: err}
	}
	return err
}
