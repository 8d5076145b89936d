package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/metrics"
)

// DefaultTTL is how long an untouched session survives.
const DefaultTTL = 30 * time.Minute

type entry struct {
	machine  *Machine
	lastSeen time.Time
}

// Registry maps session IDs to machines held in this process and expires
// idle ones.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry returns an empty registry. A non-positive ttl uses DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

var _ Store = (*Registry)(nil)

// TTL returns the idle expiry.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Get returns the machine for id and marks it as seen.
func (r *Registry) Get(id string) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.machine, true
}

// Create registers a new idle machine under a fresh ID.
func (r *Registry) Create() (string, *Machine) {
	id := uuid.NewString()
	m := NewMachine()

	r.mu.Lock()
	r.sessions[id] = &entry{machine: m, lastSeen: r.now()}
	r.mu.Unlock()

	log.Debug().Str("session_id", id).Msg("Session created")
	return id, m
}

// GetOrCreate returns the machine for id, creating a new session when id
// is unknown. created reports whether the returned ID is new.
func (r *Registry) GetOrCreate(id string) (sessionID string, m *Machine, created bool) {
	if id != "" {
		if m, ok := r.Get(id); ok {
			return id, m, false
		}
	}
	sessionID, m = r.Create()
	return sessionID, m, true
}

// Acquire implements Store.
func (r *Registry) Acquire(_ context.Context, id string) (string, *Machine, bool, error) {
	sessionID, m, created := r.GetOrCreate(id)
	return sessionID, m, created, nil
}

// Lookup implements Store.
func (r *Registry) Lookup(_ context.Context, id string) (*Machine, bool, error) {
	m, ok := r.Get(id)
	return m, ok, nil
}

// Commit implements Store. Registry machines are live, so there is
// nothing to write.
func (r *Registry) Commit(context.Context, string, *Machine) error {
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes and removes sessions not seen within the TTL. Sessions with
// an outstanding analysis are kept. It returns the number removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Machine
	for id, e := range r.sessions {
		if e.lastSeen.After(cutoff) || e.machine.Status() == StatusAnalyzing {
			continue
		}
		expired = append(expired, e.machine)
		delete(r.sessions, id)
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	for _, m := range expired {
		m.Close()
	}

	if len(expired) > 0 {
		log.Info().
			Int("expired", len(expired)).
			Int("remaining", remaining).
			Msg("Expired idle sessions")
		metrics.New().
			Metric("SessionsExpired", float64(len(expired)), metrics.UnitCount).
			Metric("SessionsActive", float64(remaining), metrics.UnitCount).
			Flush()
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.ttl / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}
