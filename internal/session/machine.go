// Package session holds the per-browser analysis state machine.
//
// A Machine moves Idle -> Analyzing -> Complete or Error. Begin is the only
// way into Analyzing, so each machine has at most one outstanding request.
// Every transition holds the machine's mutex.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/filehandler"
)

// Status is the machine's current phase.
type Status int

const (
	StatusIdle Status = iota
	StatusAnalyzing
	StatusComplete
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAnalyzing:
		return "analyzing"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrBusy is returned by Begin while an analysis is outstanding.
	ErrBusy = errors.New("analysis already in progress")
	// ErrNoImage is returned by Begin when no payload is held.
	ErrNoImage = errors.New("no image selected")
)

// Snapshot is a consistent copy of a machine's state.
// Result is only set in StatusComplete, Error only in StatusError.
type Snapshot struct {
	Status  Status
	Payload *filehandler.Payload
	Result  *chat.Result
	Error   string
	Notice  string
}

// Job identifies one analysis run started by Begin.
type Job struct {
	Generation uint64
	Payload    *filehandler.Payload
}

// Machine is one session's state. The zero value is an idle machine.
type Machine struct {
	mu         sync.Mutex
	status     Status
	payload    *filehandler.Payload
	result     *chat.Result
	errMsg     string
	notice     string
	generation uint64

	// revision counts mutations; since is when the last one happened.
	revision uint64
	since    time.Time
	stored   Stamp
}

// NewMachine returns an idle machine with no payload.
func NewMachine() *Machine {
	return &Machine{}
}

// Snapshot returns the current state. The result is a copy.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Status:  m.status,
		Payload: m.payload,
		Result:  m.result.Clone(),
		Error:   m.errMsg,
		Notice:  m.notice,
	}
}

// Status returns the current phase.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Select replaces the held payload and returns to Idle, clearing any
// result, error and notice. The previous payload is released. It is a
// no-op returning false for a nil payload or while an analysis is
// outstanding; the caller still owns p in that case.
func (m *Machine) Select(p *filehandler.Payload) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p == nil {
		return false
	}
	if m.status == StatusAnalyzing {
		log.Debug().Msg("Ignoring image selection while analysis is running")
		return false
	}

	if m.payload != nil && m.payload != p {
		m.payload.Release()
	}
	m.payload = p
	m.status = StatusIdle
	m.result = nil
	m.errMsg = ""
	m.notice = ""
	m.changed()

	log.Debug().Str("payload_id", p.ID).Msg("Image selected")
	return true
}

// Reject records a user-facing notice for an invalid upload. State,
// payload and result are left untouched.
func (m *Machine) Reject(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notice = message
	m.changed()
}

// Begin moves to Analyzing and returns the job to run. It fails with
// ErrBusy while Analyzing and ErrNoImage when no payload is held.
// Complete and Error may be re-analyzed.
func (m *Machine) Begin() (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusAnalyzing {
		return Job{}, ErrBusy
	}
	if m.payload == nil {
		return Job{}, ErrNoImage
	}

	m.generation++
	m.status = StatusAnalyzing
	m.result = nil
	m.errMsg = ""
	m.notice = ""
	m.changed()

	log.Debug().
		Str("payload_id", m.payload.ID).
		Uint64("generation", m.generation).
		Msg("Analysis started")
	return Job{Generation: m.generation, Payload: m.payload}, nil
}

// Succeed stores the result and moves to Complete. Completions from a
// superseded job are dropped and return false.
func (m *Machine) Succeed(job Job, result *chat.Result) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(job) {
		return false
	}
	m.status = StatusComplete
	m.result = result.Sanitized()
	m.errMsg = ""
	m.changed()
	return true
}

// Fail stores the user-facing message and moves to Error. Completions from
// a superseded job are dropped and return false.
func (m *Machine) Fail(job Job, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(job) {
		return false
	}
	m.status = StatusError
	m.result = nil
	m.errMsg = message
	m.changed()
	return true
}

// Abandon moves an outstanding analysis to Error with message, for runs
// whose worker is known to be gone. Any late completion becomes stale.
// It returns false unless the machine was Analyzing.
func (m *Machine) Abandon(message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusAnalyzing {
		return false
	}
	m.generation++
	m.status = StatusError
	m.result = nil
	m.errMsg = message
	m.changed()
	return true
}

func (m *Machine) current(job Job) bool {
	if m.status != StatusAnalyzing || job.Generation != m.generation {
		log.Debug().
			Uint64("generation", job.Generation).
			Uint64("current", m.generation).
			Msg("Dropping stale analysis completion")
		return false
	}
	return true
}

// Reset discards the payload, result, error and notice and returns to
// Idle. It is ignored (false) while an analysis is outstanding.
func (m *Machine) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusAnalyzing {
		return false
	}
	m.clear()
	return true
}

// Close releases everything regardless of status. Any outstanding job
// becomes stale.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.clear()
}

func (m *Machine) clear() {
	if m.payload != nil {
		m.payload.Release()
	}
	m.payload = nil
	m.status = StatusIdle
	m.result = nil
	m.errMsg = ""
	m.notice = ""
	m.changed()
}

func (m *Machine) changed() {
	m.revision++
	m.since = time.Now()
}

// Preview returns the held payload's bytes when id names it.
func (m *Machine) Preview(id string) (*filehandler.Payload, []byte, bool) {
	m.mu.Lock()
	p := m.payload
	m.mu.Unlock()

	if p == nil || p.ID != id {
		return nil, nil, false
	}
	data, ok := p.Bytes()
	if !ok {
		return nil, nil, false
	}
	return p, data, true
}
