// Package session owns the process-wide registry of kiosk sessions: their
// lifecycle, inactivity timeout, hard duration, and periodic remaining-time
// ticks.
package session

import (
	"sync"
	"time"
)

type State string

const (
	StateActive State = "active"
	StateEnded  State = "ended"
)

// EndReason tags why a session transitioned to ended.
type EndReason string

const (
	ReasonManual            EndReason = "manual"
	ReasonTimeout           EndReason = "timeout"
	ReasonDuration          EndReason = "duration"
	ReasonOperatorTerminate EndReason = "operator_terminated"
	ReasonDraining          EndReason = "server_draining"
)

// Session is the record named in the data model. Mutated only by the
// Conversation Pipeline (via Registry.Refresh) and the Registry (transition to
// ended); a Session in the ended state is otherwise immutable.
type Session struct {
	mu sync.Mutex

	ID           string
	KioskID      string
	RoomID       string
	CreatedAt    time.Time
	DurationS    int64
	lastActivity time.Time
	state        State
	endReason    EndReason
	endedAt      time.Time

	idleTimer *time.Timer
	durTimer  *time.Timer
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

func (s *Session) IsActive() bool {
	return s.State() == StateActive
}

// RemainingSeconds clamps duration-elapsed at zero, per the remaining-time
// broadcaster's formula.
func (s *Session) RemainingSeconds(now time.Time) int64 {
	s.mu.Lock()
	created := s.CreatedAt
	duration := s.DurationS
	s.mu.Unlock()

	elapsed := int64(now.Sub(created).Seconds())
	remaining := duration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot is the immutable view returned from lookup(); it never carries
// the internal timers or lock.
type Snapshot struct {
	ID           string
	KioskID      string
	RoomID       string
	CreatedAt    time.Time
	DurationS    int64
	LastActivity time.Time
	State        State
	EndReason    EndReason
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.ID,
		KioskID:      s.KioskID,
		RoomID:       s.RoomID,
		CreatedAt:    s.CreatedAt,
		DurationS:    s.DurationS,
		LastActivity: s.lastActivity,
		State:        s.state,
		EndReason:    s.endReason,
	}
}
