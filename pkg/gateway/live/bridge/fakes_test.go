package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bezaspace/rak4/pkg/core/runtime"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedWrite struct {
	messageType int
	data        string
}

// fakeConn is a client socket driven by the test.
type fakeConn struct {
	in chan recordedWrite

	mu      sync.Mutex
	writes  []recordedWrite
	written chan struct{}
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan recordedWrite, 64),
		written: make(chan struct{}, 256),
	}
}

func (f *fakeConn) sendText(s string) { f.in <- recordedWrite{messageType: websocket.TextMessage, data: s} }
func (f *fakeConn) sendBinary(b []byte) { f.in <- recordedWrite{messageType: websocket.BinaryMessage, data: string(b)} }
func (f *fakeConn) hangUp() { close(f.in) }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.in
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	return msg.messageType, []byte(msg.data), nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	f.mu.Unlock()
	select {
	case f.written <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	if messageType == websocket.CloseMessage {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

// textTypes returns the type of every JSON frame, and "<binary>" for audio.
func (f *fakeConn) textTypes(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, w := range f.snapshot() {
		if w.messageType == websocket.BinaryMessage {
			out = append(out, "<binary>")
			continue
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(w.data), &head); err != nil {
			t.Fatalf("invalid frame %q: %v", w.data, err)
		}
		out = append(out, head.Type)
	}
	return out
}

// waitFor blocks until pred holds for the recorded writes.
func (f *fakeConn) waitFor(t *testing.T, pred func([]recordedWrite) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if pred(f.snapshot()) {
			return
		}
		select {
		case <-f.written:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for writes; got %+v", f.snapshot())
		}
	}
}

func hasType(typ string) func([]recordedWrite) bool {
	return func(ws []recordedWrite) bool {
		for _, w := range ws {
			if w.messageType != websocket.TextMessage {
				continue
			}
			var head struct {
				Type string `json:"type"`
			}
			if json.Unmarshal([]byte(w.data), &head) == nil && head.Type == typ {
				return true
			}
		}
		return false
	}
}

// fakeInput records commands sent to the runtime.
type fakeInput struct {
	mu          sync.Mutex
	audio       [][]byte
	mimeTypes   []string
	contents    []string
	starts      int
	ends        int
	closes      int
	closed      chan struct{}
	activityEnd chan struct{}
	sendErr     error
}

func newFakeInput() *fakeInput {
	return &fakeInput{closed: make(chan struct{}), activityEnd: make(chan struct{}, 8)}
}

func (f *fakeInput) SendRealtimeAudio(data []byte, mimeType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), data...))
	f.mimeTypes = append(f.mimeTypes, mimeType)
	return f.sendErr
}

func (f *fakeInput) SendContent(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents = append(f.contents, text)
	return f.sendErr
}

func (f *fakeInput) SendActivityStart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.sendErr
}

func (f *fakeInput) SendActivityEnd() error {
	f.mu.Lock()
	f.ends++
	err := f.sendErr
	f.mu.Unlock()
	f.activityEnd <- struct{}{}
	return err
}

func (f *fakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.closes == 1 {
		close(f.closed)
	}
	return nil
}

// failSends makes every later command return err.
func (f *fakeInput) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeInput) attempts() (audio, contents int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio), len(f.contents)
}

func (f *fakeInput) counts() (starts, ends, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.ends, f.closes
}

// fakeStream yields scripted events. A non-nil err item ends the stream with
// that error.
type streamItem struct {
	ev  runtime.Event
	err error
}

type fakeStream struct {
	items chan streamItem
	input *fakeInput
}

func (s *fakeStream) Next(ctx context.Context) (runtime.Event, error) {
	select {
	case <-ctx.Done():
		return runtime.Event{}, ctx.Err()
	case <-s.input.closed:
		return runtime.Event{}, io.EOF
	case item := <-s.items:
		if item.err != nil {
			return runtime.Event{}, item.err
		}
		return item.ev, nil
	}
}

type fakeReplayer struct {
	mu     sync.Mutex
	calls  []string
	events []runtime.Event
	err    error
	panics bool
}

func (r *fakeReplayer) ReplayText(ctx context.Context, text string, emit func(runtime.Event) error) error {
	r.mu.Lock()
	r.calls = append(r.calls, text)
	r.mu.Unlock()
	if r.panics {
		panic("replay exploded")
	}
	for _, ev := range r.events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return r.err
}

func (r *fakeReplayer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// fakeRuntime hands out one scripted execution per Open call.
type fakeRuntime struct {
	mu       sync.Mutex
	execs    []*fakeExecution
	opens    int
	openErr  error
	replayer *fakeReplayer
}

type fakeExecution struct {
	input  *fakeInput
	stream *fakeStream
}

func newFakeExecution() *fakeExecution {
	in := newFakeInput()
	return &fakeExecution{input: in, stream: &fakeStream{items: make(chan streamItem, 16), input: in}}
}

func (r *fakeRuntime) Open(ctx context.Context, req runtime.OpenRequest) (*runtime.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return nil, r.openErr
	}
	if r.opens >= len(r.execs) {
		return nil, errors.New("no scripted execution left")
	}
	exec := r.execs[r.opens]
	r.opens++
	var replayer runtime.Replayer
	if r.replayer != nil {
		replayer = r.replayer
	}
	return &runtime.Execution{
		SessionID: "sess_test",
		Input:     exec.input,
		Events:    exec.stream,
		Replayer:  replayer,
		ProfileStatus: runtime.ProfileStatus{
			Loaded:  false,
			Source:  "none",
			Message: "No saved patient profile found. Continuing with general guidance.",
		},
	}, nil
}

func (r *fakeRuntime) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

type fakeSink struct {
	mu         sync.Mutex
	sessions   []MetricsSnapshot
	recoveries []string
}

func (s *fakeSink) ObserveSession(snap MetricsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, snap)
}

func (s *fakeSink) ObserveRecovery(result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveries = append(s.recoveries, result)
}

// newTestConnection builds a connection without a running session loop.
func newTestConnection(ws *fakeConn) *connection {
	metrics := NewMetrics(time.Now())
	logger := discardLogger()
	return &connection{
		traceID: "test0001",
		logger:  logger,
		writer:  newClientWriter(ws, time.Second, metrics, logger, "test0001"),
		turns:   NewTracker(),
		metrics: metrics,
		now:     time.Now,
	}
}
