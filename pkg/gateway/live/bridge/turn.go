package bridge

import (
	"strings"
	"sync"
	"time"
)

// Action is the outcome of a control event.
type Action string

const (
	ActionStart          Action = "start"
	ActionEnd            Action = "end"
	ActionDuplicateStart Action = "duplicate_start"
	ActionDuplicateEnd   Action = "duplicate_end"
	ActionStop           Action = "stop"
	ActionIgnored        Action = "ignored"
)

// shortTurnAudioChunks is the chunk count below which a closed turn is
// reported as suspiciously short.
const shortTurnAudioChunks = 3

// TurnState is the push-to-talk bookkeeping of one connection. Turn ids start
// at 1, so a zero AwaitingResponseTurnID means "none".
type TurnState struct {
	Active                   bool
	TurnID                   int
	CurrentTurnAudioChunks   int
	CurrentTurnStartedAt     time.Time
	AwaitingResponseTurnID   int
	CurrentTurnTranscript    string
	LastClosedTurnTranscript string
	LastInputTranscript      string
	FallbackAttempted        bool
	FallbackAttemptedTurnID  int
}

// TurnSummary describes a turn that was just closed.
type TurnSummary struct {
	TurnID      int
	Duration    time.Duration
	AudioChunks int
	Transcript  string
	Short       bool
}

// Tracker guards TurnState. Both pumps mutate it concurrently.
type Tracker struct {
	mu    sync.Mutex
	state TurnState
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Active reports whether a push-to-talk turn is open.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Active
}

// OpenTurn starts a new turn. Opening while active is a duplicate and leaves
// the state untouched.
func (t *Tracker) OpenTurn(now time.Time) (int, Action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Active {
		return t.state.TurnID, ActionDuplicateStart
	}
	t.state.TurnID++
	t.state.Active = true
	t.state.CurrentTurnAudioChunks = 0
	t.state.CurrentTurnStartedAt = now
	t.state.CurrentTurnTranscript = ""
	return t.state.TurnID, ActionStart
}

// CloseTurn ends the active turn and marks its response as awaited.
func (t *Tracker) CloseTurn(now time.Time) (TurnSummary, Action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Active {
		return TurnSummary{TurnID: t.state.TurnID}, ActionDuplicateEnd
	}
	summary := TurnSummary{
		TurnID:      t.state.TurnID,
		AudioChunks: t.state.CurrentTurnAudioChunks,
		Transcript:  strings.TrimSpace(t.state.CurrentTurnTranscript),
	}
	if !t.state.CurrentTurnStartedAt.IsZero() {
		summary.Duration = now.Sub(t.state.CurrentTurnStartedAt)
	}
	summary.Short = summary.AudioChunks < shortTurnAudioChunks

	t.state.LastClosedTurnTranscript = summary.Transcript
	t.state.AwaitingResponseTurnID = t.state.TurnID
	t.state.Active = false
	t.state.CurrentTurnTranscript = ""
	t.state.CurrentTurnAudioChunks = 0
	t.state.CurrentTurnStartedAt = time.Time{}
	return summary, ActionEnd
}

// CountAudioChunk records one forwarded audio chunk against the active turn.
func (t *Tracker) CountAudioChunk() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Active {
		t.state.CurrentTurnAudioChunks++
	}
}

// AccumulateInputTranscript merges an input transcription fragment. It always
// feeds LastInputTranscript; the turn fields only take it while a turn is open
// or its response is still awaited.
func (t *Tracker) AccumulateInputTranscript(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.LastInputTranscript = MergePartialTranscript(t.state.LastInputTranscript, fragment)
	switch {
	case t.state.Active:
		t.state.CurrentTurnTranscript = MergePartialTranscript(t.state.CurrentTurnTranscript, fragment)
	case t.state.AwaitingResponseTurnID != 0:
		t.state.LastClosedTurnTranscript = MergePartialTranscript(t.state.LastClosedTurnTranscript, fragment)
	}
}

// MarkResponseStarted clears the awaited turn. It returns the cleared id and
// true only the first time after a turn closed.
func (t *Tracker) MarkResponseStarted() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.state.AwaitingResponseTurnID
	if id == 0 {
		return 0, false
	}
	t.state.AwaitingResponseTurnID = 0
	return id, true
}

// BeginFallback marks the current turn as replayed. It returns false if the
// turn was already replayed once.
func (t *Tracker) BeginFallback() (turnID int, text string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	turnID = t.state.TurnID
	if t.state.FallbackAttempted && t.state.FallbackAttemptedTurnID == turnID {
		return turnID, "", false
	}
	t.state.FallbackAttempted = true
	t.state.FallbackAttemptedTurnID = turnID
	return turnID, fallbackText(t.state), true
}

// FallbackText is the best known transcript of the interrupted turn.
func (t *Tracker) FallbackText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fallbackText(t.state)
}

func fallbackText(s TurnState) string {
	if strings.TrimSpace(s.LastClosedTurnTranscript) != "" {
		return s.LastClosedTurnTranscript
	}
	return s.LastInputTranscript
}

// ResetAfterRecovery clears per-turn state before a new duplex cycle. The
// turn counter and the fallback guard survive.
func (t *Tracker) ResetAfterRecovery() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.AwaitingResponseTurnID = 0
	t.state.CurrentTurnTranscript = ""
	t.state.LastClosedTurnTranscript = ""
	t.state.Active = false
	t.state.CurrentTurnAudioChunks = 0
	t.state.CurrentTurnStartedAt = time.Time{}
}

// MergePartialTranscript accumulates transcription fragments that are
// cumulative by default and may arrive out of order.
func MergePartialTranscript(current, incoming string) string {
	current = strings.TrimSpace(current)
	incoming = strings.TrimSpace(incoming)
	if current == "" {
		return incoming
	}
	if incoming == "" {
		return current
	}
	if strings.HasPrefix(incoming, current) {
		return incoming
	}
	if len(incoming) >= len(current) {
		return incoming
	}
	return current
}
