package gemini

import (
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/bezaspace/rak4/pkg/core/runtime"
)

// maxHistoryTurns caps how many closed turns a replay carries.
const maxHistoryTurns = 24

// HistorySource exposes the conversation of a live cycle as generateContent
// turns. *LiveSession implements it.
type HistorySource interface {
	History() []*genai.Content
}

// transcript accumulates user and model text of one live cycle. Streaming
// fragments of the same role are joined into one turn.
type transcript struct {
	mu    sync.Mutex
	turns []*genai.Content
	role  string
	buf   strings.Builder
}

func (t *transcript) add(role, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.role != role {
		t.flushLocked()
		t.role = role
	}
	t.buf.WriteString(text)
}

// endTurn closes the pending turn.
func (t *transcript) endTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked()
	t.role = ""
}

func (t *transcript) flushLocked() {
	if text := strings.TrimSpace(t.buf.String()); text != "" {
		t.turns = append(t.turns, textContent(t.role, text))
		if over := len(t.turns) - maxHistoryTurns; over > 0 {
			t.turns = append([]*genai.Content(nil), t.turns[over:]...)
		}
	}
	t.buf.Reset()
}

// contents returns the closed turns plus the pending one without closing it.
func (t *transcript) contents() []*genai.Content {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*genai.Content, 0, len(t.turns)+1)
	out = append(out, t.turns...)
	if text := strings.TrimSpace(t.buf.String()); text != "" {
		out = append(out, textContent(t.role, text))
	}
	return out
}

// recordEvent adds the text carried by one server event.
func (t *transcript) recordEvent(ev runtime.Event) {
	t.add(string(genai.RoleUser), ev.InputTranscription)
	t.add(string(genai.RoleModel), ev.OutputTranscription)
	for _, p := range ev.Parts {
		t.add(string(genai.RoleModel), p.Text)
	}
	if ev.TurnComplete || ev.Interrupted {
		t.endTurn()
	}
}

// withoutTrailingUser drops the last turn when it is the user saying text,
// so a replay does not send the failed request twice.
func withoutTrailingUser(history []*genai.Content, text string) []*genai.Content {
	n := len(history)
	if n == 0 {
		return history
	}
	last := history[n-1]
	if last == nil || last.Role != string(genai.RoleUser) || len(last.Parts) == 0 || last.Parts[0] == nil {
		return history
	}
	if strings.TrimSpace(last.Parts[0].Text) == strings.TrimSpace(text) {
		return history[:n-1]
	}
	return history
}
