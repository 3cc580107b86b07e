package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bezaspace/rak4/pkg/core/runtime"
)

func startServe(t *testing.T, rt runtime.Runtime, sink *fakeSink) (*fakeConn, <-chan error) {
	t.Helper()
	return startServeWith(t, rt, sink, nil)
}

func startServeWith(t *testing.T, rt runtime.Runtime, sink *fakeSink, configure func(*Bridge)) (*fakeConn, <-chan error) {
	t.Helper()
	deps := Dependencies{
		Runtime: rt,
		Logger:  discardLogger(),
		Config:  Config{PingInterval: time.Hour, WriteTimeout: time.Second},
	}
	if sink != nil {
		deps.Metrics = sink
	}
	b, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if configure != nil {
		configure(b)
	}
	ws := newFakeConn()
	done := make(chan error, 1)
	go func() {
		done <- b.Serve(context.Background(), ws, ServeRequest{UserID: "raksha-user", Timezone: "Asia/Kolkata"})
	}()
	return ws, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return")
		return nil
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for runtime command")
	}
}

func assertTypes(t *testing.T, ws *fakeConn, want []string) {
	t.Helper()
	got := ws.textTypes(t)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("client frames:\n got %v\nwant %v", got, want)
	}
}

func countType(typ string, n int) func([]recordedWrite) bool {
	return func(ws []recordedWrite) bool {
		seen := 0
		for _, w := range ws {
			if w.messageType == websocket.TextMessage && strings.Contains(w.data, `"type":"`+typ+`"`) {
				seen++
			}
		}
		return seen >= n
	}
}

func TestNew_RequiresRuntime(t *testing.T) {
	if _, err := New(Dependencies{}); err == nil {
		t.Fatalf("expected error without runtime")
	}
}

func TestServe_PushToTalkTurnEndToEnd(t *testing.T) {
	exec := newFakeExecution()
	rt := &fakeRuntime{execs: []*fakeExecution{exec}}
	sink := &fakeSink{}
	ws, done := startServe(t, rt, sink)

	ws.sendText(`{"type":"ptt_start"}`)
	for i := 0; i < 3; i++ {
		ws.sendBinary([]byte{0, 1, 2, 3})
	}
	ws.sendText(`{"type":"ptt_end"}`)
	waitSignal(t, exec.input.activityEnd)

	pcm := []byte{10, 20, 30, 40, 50, 60}
	exec.stream.items <- streamItem{ev: runtime.Event{OutputTranscription: "Please sit down and rest."}}
	exec.stream.items <- streamItem{ev: runtime.Event{Parts: []runtime.Part{
		{Audio: &runtime.InlineAudio{MIMEType: "audio/pcm;rate=24000", Data: pcm}},
	}}}
	ws.waitFor(t, func(writes []recordedWrite) bool {
		return len(writes) > 0 && writes[len(writes)-1].messageType == websocket.BinaryMessage
	})

	ws.hangUp()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	assertTypes(t, ws, []string{"session_ready", "profile_status", "assistant_text", "assistant_audio_format", "<binary>"})
	writes := ws.snapshot()
	if writes[0].data != `{"type":"session_ready","sessionId":"sess_test"}` {
		t.Fatalf("session_ready=%s", writes[0].data)
	}
	if writes[3].data != `{"type":"assistant_audio_format","sampleRate":24000}` {
		t.Fatalf("audio format=%s", writes[3].data)
	}
	if writes[4].data != string(pcm) {
		t.Fatalf("audio bytes not forwarded raw")
	}

	starts, ends, closes := exec.input.counts()
	if starts != 1 || ends != 1 || closes < 1 {
		t.Fatalf("input commands starts=%d ends=%d closes=%d", starts, ends, closes)
	}
	if len(exec.input.audio) != 3 {
		t.Fatalf("forwarded audio chunks=%d, want 3", len(exec.input.audio))
	}

	if len(sink.sessions) != 1 {
		t.Fatalf("session summaries=%d, want 1", len(sink.sessions))
	}
	snap := sink.sessions[0]
	if snap.IncomingAudioChunks != 3 || snap.OutgoingAudioChunks != 1 || snap.OutgoingAudioBytes != int64(len(pcm)) {
		t.Fatalf("metrics=%+v", snap)
	}
	if snap.IncomingTextEvents != 2 || snap.OutgoingTextEvents != 4 {
		t.Fatalf("text metrics=%+v", snap)
	}
}

func TestServe_EmptyTextInputProducesNothing(t *testing.T) {
	exec := newFakeExecution()
	rt := &fakeRuntime{execs: []*fakeExecution{exec}}
	ws, done := startServe(t, rt, nil)

	ws.sendText(`{"type":"text_input","text":""}`)
	ws.sendText(`{"type":"stop_session"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	assertTypes(t, ws, []string{"session_ready", "profile_status"})
	if len(exec.input.contents) != 0 {
		t.Fatalf("contents forwarded: %v", exec.input.contents)
	}
	if _, _, closes := exec.input.counts(); closes < 1 {
		t.Fatalf("input channel not closed")
	}
	if rt.openCount() != 1 {
		t.Fatalf("stop must not rebuild the runtime, opens=%d", rt.openCount())
	}
}

func TestServe_TextInputForwardedTrimmed(t *testing.T) {
	exec := newFakeExecution()
	rt := &fakeRuntime{execs: []*fakeExecution{exec}}
	ws, done := startServe(t, rt, nil)

	ws.sendText(`{"type":"text_input","text":"  what should I eat today?  "}`)
	ws.sendText(`{"type":"stop_session"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	exec.input.mu.Lock()
	defer exec.input.mu.Unlock()
	if len(exec.input.contents) != 1 || exec.input.contents[0] != "what should I eat today?" {
		t.Fatalf("contents=%v", exec.input.contents)
	}
}

func TestServe_RecoverableErrorReplaysTurn(t *testing.T) {
	first, second := newFakeExecution(), newFakeExecution()
	replayer := &fakeReplayer{events: []runtime.Event{
		{FunctionResponses: []runtime.FunctionResponse{
			{Name: "book_doctor_slot", Response: json.RawMessage(`{"type":"booking_update","status":"confirmed"}`)},
			{Name: "get_doctor_catalog", Response: json.RawMessage(`{"type":"doctor_catalog"}`)},
		}},
		{Parts: []runtime.Part{{Text: "Your appointment is booked."}}},
	}}
	rt := &fakeRuntime{execs: []*fakeExecution{first, second}, replayer: replayer}
	sink := &fakeSink{}
	ws, done := startServe(t, rt, sink)

	ws.sendText(`{"type":"ptt_start"}`)
	ws.sendText(`{"type":"ptt_end"}`)
	waitSignal(t, first.input.activityEnd)
	first.stream.items <- streamItem{ev: runtime.Event{InputTranscription: "book Dr. Rao tomorrow"}}
	ws.waitFor(t, hasType("partial_transcript"))
	first.stream.items <- streamItem{err: &runtime.Error{Code: runtime.CodePolicyViolation, Message: "operation not implemented"}}

	ws.waitFor(t, countType("session_ready", 2))
	ws.hangUp()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	assertTypes(t, ws, []string{
		"session_ready", "profile_status", "partial_transcript",
		"warning", "fallback_started", "booking_update", "assistant_text",
		"fallback_completed", "session_recovering",
		"session_ready", "profile_status",
	})
	writes := ws.snapshot()
	if writes[4].data != `{"type":"fallback_started","reason":"live_tool_unsupported","turnId":"1"}` {
		t.Fatalf("fallback_started=%s", writes[4].data)
	}
	if writes[7].data != `{"type":"fallback_completed","turnId":"1","result":"ok"}` {
		t.Fatalf("fallback_completed=%s", writes[7].data)
	}
	if writes[8].data != `{"type":"session_recovering","mode":"reconnect_live"}` {
		t.Fatalf("session_recovering=%s", writes[8].data)
	}
	if replayer.callCount() != 1 || replayer.calls[0] != "book Dr. Rao tomorrow" {
		t.Fatalf("replay calls=%v", replayer.calls)
	}
	if _, _, closes := first.input.counts(); closes < 1 {
		t.Fatalf("first input channel not closed before rebuilding")
	}
	if rt.openCount() != 2 {
		t.Fatalf("opens=%d, want 2", rt.openCount())
	}
	if len(sink.recoveries) != 1 || sink.recoveries[0] != RecoveryResultOK {
		t.Fatalf("recoveries=%v", sink.recoveries)
	}
}

func waitAttempt(t *testing.T, in *fakeInput, cond func(audio, contents int) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond(in.attempts()) {
		select {
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for runtime write")
		}
	}
}

func TestServe_AudioWriteAfterPolicyCloseStillRecovers(t *testing.T) {
	first, second := newFakeExecution(), newFakeExecution()
	replayer := &fakeReplayer{events: []runtime.Event{{Parts: []runtime.Part{{Text: "Booked for 10am."}}}}}
	rt := &fakeRuntime{execs: []*fakeExecution{first, second}, replayer: replayer}
	sink := &fakeSink{}
	ws, done := startServe(t, rt, sink)

	ws.sendText(`{"type":"ptt_start"}`)
	ws.sendText(`{"type":"ptt_end"}`)
	waitSignal(t, first.input.activityEnd)
	first.stream.items <- streamItem{ev: runtime.Event{InputTranscription: "book Dr. Rao tomorrow"}}
	ws.waitFor(t, hasType("partial_transcript"))

	// The runtime closed its socket: the write side fails before the
	// receive side reports the close code.
	first.input.failSends(websocket.ErrCloseSent)
	ws.sendBinary([]byte{1, 2, 3, 4})
	waitAttempt(t, first.input, func(audio, _ int) bool { return audio == 1 })
	first.stream.items <- streamItem{err: &runtime.Error{Code: runtime.CodePolicyViolation, Message: "operation not implemented"}}

	ws.waitFor(t, countType("session_ready", 2))
	ws.hangUp()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	assertTypes(t, ws, []string{
		"session_ready", "profile_status", "partial_transcript",
		"warning", "fallback_started", "assistant_text",
		"fallback_completed", "session_recovering",
		"session_ready", "profile_status",
	})
	for _, w := range ws.snapshot() {
		if strings.Contains(w.data, msgUnexpectedFailed) {
			t.Fatalf("send failure reported as fatal: %s", w.data)
		}
	}
	if replayer.callCount() != 1 || replayer.calls[0] != "book Dr. Rao tomorrow" {
		t.Fatalf("replay calls=%v", replayer.calls)
	}
	if rt.openCount() != 2 {
		t.Fatalf("opens=%d, want 2", rt.openCount())
	}
	if len(sink.recoveries) != 1 || sink.recoveries[0] != RecoveryResultOK {
		t.Fatalf("recoveries=%v", sink.recoveries)
	}
}

func TestServe_BrokenPipeOnTextWriteDefersToCloseCode(t *testing.T) {
	first, second := newFakeExecution(), newFakeExecution()
	replayer := &fakeReplayer{events: []runtime.Event{{Parts: []runtime.Part{{Text: "Dr. Mehta is free at 4pm."}}}}}
	rt := &fakeRuntime{execs: []*fakeExecution{first, second}, replayer: replayer}
	ws, done := startServe(t, rt, nil)

	first.stream.items <- streamItem{ev: runtime.Event{InputTranscription: "find me a cardiologist"}}
	ws.waitFor(t, hasType("partial_transcript"))

	first.input.failSends(errors.New("write tcp 10.0.0.2:443: broken pipe"))
	ws.sendText(`{"type":"text_input","text":"any openings today?"}`)
	waitAttempt(t, first.input, func(_, contents int) bool { return contents == 1 })
	first.stream.items <- streamItem{err: &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "Operation is not implemented"}}

	ws.waitFor(t, countType("session_ready", 2))
	ws.hangUp()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if !hasType("fallback_completed")(ws.snapshot()) {
		t.Fatalf("no fallback_completed in %v", ws.textTypes(t))
	}
	if replayer.callCount() != 1 || replayer.calls[0] != "find me a cardiologist" {
		t.Fatalf("replay calls=%v", replayer.calls)
	}
	if rt.openCount() != 2 {
		t.Fatalf("opens=%d, want 2", rt.openCount())
	}
}

func TestServe_WriteFailureWithLiveStreamIsFatal(t *testing.T) {
	first := newFakeExecution()
	rt := &fakeRuntime{execs: []*fakeExecution{first}}
	ws, done := startServeWith(t, rt, nil, func(b *Bridge) { b.inputGrace = 20 * time.Millisecond })

	ws.waitFor(t, hasType("profile_status"))
	first.input.failSends(errors.New("write tcp 10.0.0.2:443: broken pipe"))
	ws.sendBinary([]byte{1, 2})

	err := waitDone(t, done)
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("Serve() error=%v, want the write failure", err)
	}
	if runtime.IsRecoverable(err) {
		t.Fatalf("err=%v should not be recoverable", err)
	}
	assertTypes(t, ws, []string{"session_ready", "profile_status", "warning"})
	if rt.openCount() != 1 {
		t.Fatalf("opens=%d, want 1", rt.openCount())
	}
}

func TestServe_SecondFailureOnSameTurnTerminates(t *testing.T) {
	first, second := newFakeExecution(), newFakeExecution()
	first.stream.items <- streamItem{ev: runtime.Event{InputTranscription: "hello"}}
	first.stream.items <- streamItem{err: &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "unsupported"}}
	second.stream.items <- streamItem{err: &runtime.Error{Code: runtime.CodeInvalidPayload}}
	replayer := &fakeReplayer{}
	rt := &fakeRuntime{execs: []*fakeExecution{first, second}, replayer: replayer}
	ws, done := startServe(t, rt, nil)

	err := waitDone(t, done)
	if !errors.Is(err, ErrRecoveryExhausted) {
		t.Fatalf("Serve() error=%v, want ErrRecoveryExhausted", err)
	}
	if replayer.callCount() != 1 {
		t.Fatalf("replay calls=%d, want exactly 1", replayer.callCount())
	}
	writes := ws.snapshot()
	last := writes[len(writes)-1].data
	if last != `{"type":"warning","message":"Live session failed again while recovering. Please restart the session."}` {
		t.Fatalf("last frame=%s", last)
	}
	ws.hangUp()
}

func TestServe_ReplayFailureIsNotFatal(t *testing.T) {
	first, second := newFakeExecution(), newFakeExecution()
	first.stream.items <- streamItem{ev: runtime.Event{InputTranscription: "what is my schedule"}}
	first.stream.items <- streamItem{err: &runtime.Error{Code: runtime.CodeInvalidPayload}}
	replayer := &fakeReplayer{panics: true}
	rt := &fakeRuntime{execs: []*fakeExecution{first, second}, replayer: replayer}
	sink := &fakeSink{}
	ws, done := startServe(t, rt, sink)

	ws.waitFor(t, countType("session_ready", 2))
	ws.hangUp()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	assertTypes(t, ws, []string{
		"session_ready", "profile_status", "partial_transcript",
		"warning", "fallback_started", "fallback_completed", "session_recovering", "warning",
		"session_ready", "profile_status",
	})
	writes := ws.snapshot()
	if writes[5].data != `{"type":"fallback_completed","turnId":"0","result":"failed"}` {
		t.Fatalf("fallback_completed=%s", writes[5].data)
	}
	if !strings.Contains(writes[7].data, "could not replay the failed turn") {
		t.Fatalf("final warning=%s", writes[7].data)
	}
	if len(sink.recoveries) != 1 || sink.recoveries[0] != RecoveryResultFailed {
		t.Fatalf("recoveries=%v", sink.recoveries)
	}
}

func TestServe_MissingTranscriptSkipsReplay(t *testing.T) {
	first, second := newFakeExecution(), newFakeExecution()
	first.stream.items <- streamItem{err: &runtime.Error{Code: runtime.CodePolicyViolation}}
	replayer := &fakeReplayer{}
	rt := &fakeRuntime{execs: []*fakeExecution{first, second}, replayer: replayer}
	ws, done := startServe(t, rt, nil)

	ws.waitFor(t, countType("session_ready", 2))
	ws.hangUp()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if replayer.callCount() != 0 {
		t.Fatalf("replay must be skipped without a transcript")
	}
	if !countType("fallback_completed", 1)(ws.snapshot()) {
		t.Fatalf("fallback_completed missing")
	}
}

func TestServe_FatalErrorWarnsAndReturns(t *testing.T) {
	exec := newFakeExecution()
	boom := errors.New("stream exploded")
	exec.stream.items <- streamItem{err: boom}
	rt := &fakeRuntime{execs: []*fakeExecution{exec}}
	ws, done := startServe(t, rt, nil)

	err := waitDone(t, done)
	if !errors.Is(err, boom) {
		t.Fatalf("Serve() error=%v, want %v", err, boom)
	}
	assertTypes(t, ws, []string{"session_ready", "profile_status", "warning"})
	if rt.openCount() != 1 {
		t.Fatalf("fatal errors must not rebuild the runtime")
	}
	ws.hangUp()
}

type releasingRuntime struct {
	*fakeRuntime
	released chan string
}

func (r *releasingRuntime) Release(traceID string) { r.released <- traceID }

func TestServe_ReleasesConnectionState(t *testing.T) {
	exec := newFakeExecution()
	exec.stream.items <- streamItem{err: errors.New("stream exploded")}
	rt := &releasingRuntime{fakeRuntime: &fakeRuntime{execs: []*fakeExecution{exec}}, released: make(chan string, 1)}
	ws, done := startServe(t, rt, nil)

	_ = waitDone(t, done)
	select {
	case id := <-rt.released:
		if len(id) != 8 {
			t.Fatalf("released trace id=%q", id)
		}
	default:
		t.Fatalf("Release was not called")
	}
	ws.hangUp()
}

func TestServe_OpenFailureWarnsClient(t *testing.T) {
	rt := &fakeRuntime{openErr: errors.New("quota exceeded")}
	ws, done := startServe(t, rt, nil)

	if err := waitDone(t, done); err == nil {
		t.Fatalf("expected open error")
	}
	assertTypes(t, ws, []string{"warning"})
	ws.hangUp()
}

func TestServe_ParentCancelEndsSession(t *testing.T) {
	exec := newFakeExecution()
	rt := &fakeRuntime{execs: []*fakeExecution{exec}}
	b, err := New(Dependencies{Runtime: rt, Logger: discardLogger(), Config: Config{PingInterval: time.Hour}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ws := newFakeConn()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, ws, ServeRequest{UserID: "u"}) }()

	ws.waitFor(t, hasType("profile_status"))
	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	ws.hangUp()
}

func TestServe_OnAcceptedWarnGoesThroughWriter(t *testing.T) {
	exec := newFakeExecution()
	rt := &fakeRuntime{execs: []*fakeExecution{exec}}
	b, err := New(Dependencies{Runtime: rt, Logger: discardLogger(), Config: Config{PingInterval: time.Hour}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ws := newFakeConn()
	warns := make(chan func(string) error, 1)
	done := make(chan error, 1)
	go func() {
		done <- b.Serve(context.Background(), ws, ServeRequest{
			UserID: "u",
			OnAccepted: func(traceID string, warn func(string) error) {
				warns <- warn
			},
		})
	}()

	ws.waitFor(t, hasType("profile_status"))
	warn := <-warns
	if err := warn("Server is restarting."); err != nil {
		t.Fatalf("warn: %v", err)
	}
	ws.waitFor(t, hasType("warning"))
	ws.hangUp()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	writes := ws.snapshot()
	if writes[len(writes)-1].data != `{"type":"warning","message":"Server is restarting."}` {
		t.Fatalf("warning frame=%s", writes[len(writes)-1].data)
	}
}
