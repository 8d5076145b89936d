package session

import (
	"context"
	"errors"
	"time"

	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/filehandler"
)

// ErrConflict is returned by Commit when another request changed the
// session after the machine was loaded.
var ErrConflict = errors.New("session changed concurrently")

// Store hands out machines by session ID. The in-process Registry keeps
// machines live between requests; a shared store loads a fresh machine
// per request and Commit writes it back.
type Store interface {
	// Acquire returns the machine for id. An empty or unknown id gets a
	// new session; created reports that sessionID differs from id.
	Acquire(ctx context.Context, id string) (sessionID string, m *Machine, created bool, err error)
	// Lookup returns the machine for id without creating one.
	Lookup(ctx context.Context, id string) (*Machine, bool, error)
	// Commit persists m under id and refreshes its expiry.
	Commit(ctx context.Context, id string, m *Machine) error
	// TTL is how long an untouched session survives.
	TTL() time.Duration
}

// State is a machine's full persistent state.
type State struct {
	Status     Status
	Payload    *filehandler.Payload
	Result     *chat.Result
	Error      string
	Notice     string
	Generation uint64
	Revision   uint64
	// Since is when the state last changed.
	Since time.Time
}

// Stamp identifies the last committed version of a machine.
type Stamp struct {
	Revision  uint64
	PayloadID string
}

// Restore rebuilds a machine from stored state. The state becomes the
// machine's committed stamp.
func Restore(st State) *Machine {
	m := &Machine{
		status:     st.Status,
		payload:    st.Payload,
		result:     st.Result.Clone(),
		errMsg:     st.Error,
		notice:     st.Notice,
		generation: st.Generation,
		revision:   st.Revision,
		since:      st.Since,
	}
	m.stored = StampOf(st)
	return m
}

// Export returns the current state and the stamp it was loaded or last
// committed at.
func (m *Machine) Export() (State, Stamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Status:     m.status,
		Payload:    m.payload,
		Result:     m.result.Clone(),
		Error:      m.errMsg,
		Notice:     m.notice,
		Generation: m.generation,
		Revision:   m.revision,
		Since:      m.since,
	}, m.stored
}

// MarkStored records that the state at st was committed.
func (m *Machine) MarkStored(st Stamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = st
}

// StampOf returns the stamp a committed state should be recorded under.
func StampOf(st State) Stamp {
	s := Stamp{Revision: st.Revision}
	if st.Payload != nil {
		s.PayloadID = st.Payload.ID
	}
	return s
}

// ParseStatus maps a status name back to its Status.
func ParseStatus(name string) (Status, bool) {
	for _, s := range []Status{StatusIdle, StatusAnalyzing, StatusComplete, StatusError} {
		if s.String() == name {
			return s, true
		}
	}
	return StatusIdle, false
}
