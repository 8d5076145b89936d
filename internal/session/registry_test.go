package session

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(ttl time.Duration) (*Registry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(ttl)
	r.now = clock.now
	return r, clock
}

func TestRegistryGetOrCreate(t *testing.T) {
	r, _ := newTestRegistry(time.Minute)

	id, m, created := r.GetOrCreate("")
	if !created || id == "" || m == nil {
		t.Fatalf("GetOrCreate(\"\") = %q, %v, %v", id, m, created)
	}

	id2, m2, created2 := r.GetOrCreate(id)
	if created2 || id2 != id || m2 != m {
		t.Error("known id should return the existing machine")
	}

	id3, _, created3 := r.GetOrCreate("unknown")
	if !created3 || id3 == "unknown" {
		t.Error("unknown id should get a fresh session")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistryDefaultTTL(t *testing.T) {
	if got := NewRegistry(0).TTL(); got != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", got, DefaultTTL)
	}
}

func TestRegistrySweepExpiresIdleSessions(t *testing.T) {
	r, clock := newTestRegistry(10 * time.Minute)

	staleID, stale := r.Create()
	p := newPayload(t, "a.png")
	stale.Select(p)

	clock.advance(6 * time.Minute)
	freshID, _ := r.Create()

	clock.advance(6 * time.Minute)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if _, ok := r.Get(staleID); ok {
		t.Error("stale session should be gone")
	}
	if _, ok := r.Get(freshID); !ok {
		t.Error("fresh session should survive")
	}
	if !p.Released() {
		t.Error("expired session should release its payload")
	}
}

func TestRegistryGetRefreshesSession(t *testing.T) {
	r, clock := newTestRegistry(10 * time.Minute)
	id, _ := r.Create()

	clock.advance(8 * time.Minute)
	r.Get(id)
	clock.advance(8 * time.Minute)

	if n := r.Sweep(); n != 0 {
		t.Errorf("Sweep() = %d, want 0 for a recently seen session", n)
	}
}

func TestRegistrySweepKeepsAnalyzingSessions(t *testing.T) {
	r, clock := newTestRegistry(time.Minute)
	id, m := r.Create()
	m.Select(newPayload(t, "a.png"))
	if _, err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	clock.advance(time.Hour)
	if n := r.Sweep(); n != 0 {
		t.Errorf("Sweep() = %d, want 0 while analyzing", n)
	}
	if _, ok := r.Get(id); !ok {
		t.Error("analyzing session should be kept")
	}
}

func TestRegistryStartSweeperStops(t *testing.T) {
	r := NewRegistry(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	r.StartSweeper(ctx, time.Millisecond)
	r.Create()

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if r.Len() != 0 {
		t.Error("sweeper should have expired the session")
	}
}
