// Package sessions keeps the set of live client connections so shutdown can
// warn them, cancel them, and wait for them to finish.
package sessions

import (
	"context"
	"sync"
)

// Handle reaches one live connection.
type Handle struct {
	UserID string
	Cancel func()
	Warn   func(message string) error
}

// Tracker indexes live connections by trace id. The zero value is not
// usable; call NewTracker. A nil *Tracker tracks nothing.
type Tracker struct {
	mu     sync.Mutex
	byID   map[string]*entry
	byUser map[string]int
	// idle is closed while no connection is registered.
	idle chan struct{}
}

type entry struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{
		byID:   make(map[string]*entry),
		byUser: make(map[string]int),
		idle:   idle,
	}
}

// Register adds the connection under traceID. A previous entry with the same
// id is dropped. The returned func is idempotent.
func (t *Tracker) Register(traceID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}
	e := &entry{handle: h}

	t.mu.Lock()
	if old, ok := t.byID[traceID]; ok {
		t.removeLocked(traceID, old)
	}
	if len(t.byID) == 0 {
		t.idle = make(chan struct{})
	}
	t.byID[traceID] = e
	t.byUser[h.UserID]++
	t.mu.Unlock()

	return func() {
		e.once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.byID[traceID] == e {
				t.removeLocked(traceID, e)
			}
		})
	}
}

func (t *Tracker) removeLocked(traceID string, e *entry) {
	delete(t.byID, traceID)
	if n := t.byUser[e.handle.UserID] - 1; n > 0 {
		t.byUser[e.handle.UserID] = n
	} else {
		delete(t.byUser, e.handle.UserID)
	}
	if len(t.byID) == 0 {
		close(t.idle)
	}
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// Users reports how many distinct users hold a live connection.
func (t *Tracker) Users() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byUser)
}

func (t *Tracker) snapshot() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.byID))
	for _, e := range t.byID {
		out = append(out, e.handle)
	}
	return out
}

// WarnAll sends message to every connection and reports how many accepted
// it.
func (t *Tracker) WarnAll(message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.snapshot() {
		if h.Warn != nil && h.Warn(message) == nil {
			sent++
		}
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, h := range t.snapshot() {
		if h.Cancel != nil {
			h.Cancel()
			canceled++
		}
	}
	return canceled
}

// Wait blocks until no connection is registered. It reports false when ctx
// ends first.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	for {
		t.mu.Lock()
		idle := t.idle
		t.mu.Unlock()
		select {
		case <-idle:
			if t.Count() == 0 {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}
