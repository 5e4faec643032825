package sessions

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryRegisterUnregisterCountAndWait(t *testing.T) {
	r := NewRegistry()
	if r.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", r.Count())
	}

	u1 := r.Register("s1", Handle{})
	u2 := r.Register("s2", Handle{})
	if r.Count() != 2 {
		t.Fatalf("count=%d, want 2", r.Count())
	}

	u1()
	u1() // idempotent
	if r.Count() != 1 {
		t.Fatalf("count=%d, want 1", r.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if !r.Wait(ctx) {
		t.Fatalf("expected drain to complete")
	}
}

func TestRegistryReplaceCancelsStaleEntry(t *testing.T) {
	r := NewRegistry()
	var stale atomic.Int64
	r.Register("s1", Handle{Cancel: func() { stale.Add(1) }})

	u := r.Register("s1", Handle{})
	if stale.Load() != 1 {
		t.Fatalf("stale cancel calls=%d, want 1", stale.Load())
	}
	if r.Count() != 1 {
		t.Fatalf("count=%d, want 1 after replace", r.Count())
	}

	u()
	if r.Count() != 0 {
		t.Fatalf("count=%d, want 0", r.Count())
	}
}

func TestRegistryCancelAll(t *testing.T) {
	r := NewRegistry()
	var c1, c2 atomic.Int64
	r.Register("s1", Handle{Cancel: func() { c1.Add(1) }})
	r.Register("s2", Handle{Cancel: func() { c2.Add(1) }})

	if n := r.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestRegistryWaitTimesOut(t *testing.T) {
	r := NewRegistry()
	unregister := r.Register("s1", Handle{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if r.Wait(ctx) {
		t.Fatalf("expected Wait to time out with a live session")
	}

	unregister()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel2()
	if !r.Wait(ctx2) {
		t.Fatalf("expected drain after unregister")
	}
}
