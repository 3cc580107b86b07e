package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_CountsSessionsAndUsers(t *testing.T) {
	tr := NewTracker()
	a1 := tr.Register("trace-a1", Handle{UserID: "raksha-user"})
	a2 := tr.Register("trace-a2", Handle{UserID: "raksha-user"})
	tr.Register("trace-b1", Handle{UserID: "u2"})

	if tr.Count() != 3 || tr.Users() != 2 {
		t.Fatalf("count=%d users=%d, want 3/2", tr.Count(), tr.Users())
	}
	a1()
	a1()
	if tr.Count() != 2 || tr.Users() != 2 {
		t.Fatalf("after one unregister count=%d users=%d", tr.Count(), tr.Users())
	}
	a2()
	if tr.Users() != 1 {
		t.Fatalf("users=%d, want 1", tr.Users())
	}
}

func TestTracker_ReplacedEntryIgnoresStaleUnregister(t *testing.T) {
	tr := NewTracker()
	stale := tr.Register("trace-1", Handle{UserID: "raksha-user"})
	fresh := tr.Register("trace-1", Handle{UserID: "raksha-user"})
	if tr.Count() != 1 || tr.Users() != 1 {
		t.Fatalf("count=%d users=%d, want 1/1", tr.Count(), tr.Users())
	}
	stale()
	if tr.Count() != 1 {
		t.Fatalf("stale unregister removed the replacement")
	}
	fresh()
	if tr.Count() != 0 || tr.Users() != 0 {
		t.Fatalf("count=%d users=%d, want 0/0", tr.Count(), tr.Users())
	}
}

func TestTracker_WaitReleasesWhenLastSessionEnds(t *testing.T) {
	tr := NewTracker()
	if !tr.Wait(context.Background()) {
		t.Fatal("empty tracker should not block")
	}

	done := tr.Register("trace-1", Handle{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		done()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatal("Wait timed out")
	}

	tr.Register("trace-2", Handle{})
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if tr.Wait(short) {
		t.Fatal("Wait returned true with a registered session")
	}
}

func TestTracker_WarnAndCancelReachEveryHandle(t *testing.T) {
	tr := NewTracker()
	var warned, canceled atomic.Int64
	tr.Register("trace-1", Handle{
		Warn:   func(string) error { warned.Add(1); return nil },
		Cancel: func() { canceled.Add(1) },
	})
	tr.Register("trace-2", Handle{
		Warn:   func(string) error { warned.Add(1); return errors.New("socket closed") },
		Cancel: func() { canceled.Add(1) },
	})
	tr.Register("trace-3", Handle{})

	if sent := tr.WarnAll("Server is restarting."); sent != 1 {
		t.Fatalf("sent=%d, want 1", sent)
	}
	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if warned.Load() != 2 || canceled.Load() != 2 {
		t.Fatalf("warn calls=%d cancel calls=%d", warned.Load(), canceled.Load())
	}
}

func TestTracker_NilIsInert(t *testing.T) {
	var tr *Tracker
	tr.Register("trace-1", Handle{})()
	if tr.Count() != 0 || tr.Users() != 0 || tr.WarnAll("x") != 0 || tr.CancelAll() != 0 || !tr.Wait(context.Background()) {
		t.Fatal("nil tracker should be inert")
	}
}
