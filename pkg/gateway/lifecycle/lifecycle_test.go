package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bezaspace/rak4/pkg/gateway/live/sessions"
)

type fakeServer struct {
	err    error
	called atomic.Bool
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.called.Store(true)
	return s.err
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNilLifecycleIsNeverDraining(t *testing.T) {
	var l *Lifecycle
	l.SetDraining(true)
	if l.IsDraining() {
		t.Fatal("nil lifecycle reports draining")
	}
}

func TestDrain_WarnsAndWaitsForSessions(t *testing.T) {
	l := &Lifecycle{}
	tracker := sessions.NewTracker()

	var warned atomic.Value
	var unregister func()
	unregister = tracker.Register("t1", sessions.Handle{
		UserID: "u1",
		Cancel: func() {},
		Warn: func(message string) error {
			warned.Store(message)
			go func() {
				time.Sleep(10 * time.Millisecond)
				unregister()
			}()
			return nil
		},
	})

	srv := &fakeServer{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Drain(ctx, srv, tracker, testLogger()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !l.IsDraining() || !srv.called.Load() {
		t.Fatalf("draining=%v shutdown=%v", l.IsDraining(), srv.called.Load())
	}
	if warned.Load() != DrainWarning {
		t.Fatalf("warning=%v", warned.Load())
	}
	if tracker.Count() != 0 {
		t.Fatalf("count=%d", tracker.Count())
	}
}

func TestDrain_CancelsStragglersAtDeadline(t *testing.T) {
	l := &Lifecycle{}
	tracker := sessions.NewTracker()
	var canceled atomic.Bool
	tracker.Register("t1", sessions.Handle{
		Cancel: func() { canceled.Store(true) },
		Warn:   func(string) error { return nil },
	})

	srv := &fakeServer{err: context.DeadlineExceeded}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Drain(ctx, srv, tracker, testLogger()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	if !canceled.Load() {
		t.Fatal("straggler was not canceled")
	}
}
