package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/kiosk/pkg/apierror"
	"github.com/vango-go/kiosk/pkg/lifecycle"
	"github.com/vango-go/kiosk/pkg/router"
)

// RoomCloser releases a room at the transport layer. CloseRoom reports no
// error, so the Registry neither observes nor logs a failed release; room
// cleanup never prevents the state transition to ended.
type RoomCloser interface {
	CloseRoom(roomID string)
}

// MetricsRecorder is the narrow slice of the metrics collaborator the
// registry needs. End() is the single funnel every end reason passes
// through, so it is the only place session-lifecycle metrics are recorded.
type MetricsRecorder interface {
	RecordSessionEnded(endReason string, duration time.Duration)
}

// Config carries the tunables named in the external interface's
// configuration table that the registry itself is responsible for.
type Config struct {
	IdleTimeout    time.Duration
	Duration       time.Duration
	SweepInterval  time.Duration
	SweepRetention time.Duration
}

// Registry is the process-wide collaborator injected into request
// handlers, never reached through an ambient singleton.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg       Config
	rooms     RoomCloser
	tokens    *TokenIssuer
	lifecycle *lifecycle.Lifecycle
	now       func() time.Time
	newID     func() string

	sweepStop chan struct{}
	sweepDone chan struct{}

	metrics  MetricsRecorder
	endHooks []func(sessionID string)
}

func New(cfg Config, rooms RoomCloser, tokens *TokenIssuer, lc *lifecycle.Lifecycle) *Registry {
	r := &Registry{
		sessions:  make(map[string]*Session),
		cfg:       cfg,
		rooms:     rooms,
		tokens:    tokens,
		lifecycle: lc,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	return r
}

// CreateResult is the create() return tuple named in §4.1.
type CreateResult struct {
	SessionID       string
	RoomID          string
	CapabilityToken string
	DurationSeconds int64
}

// Create mints a new session for kioskID. New sessions are refused while
// the process is draining.
func (r *Registry) Create(kioskID string) (CreateResult, error) {
	if r.lifecycle != nil && r.lifecycle.IsDraining() {
		return CreateResult{}, apierror.New(apierror.KindInternal, "server draining")
	}

	sessionID := r.newID()
	roomID := "room_" + r.newID()
	now := r.now()

	s := &Session{
		ID:           sessionID,
		KioskID:      kioskID,
		RoomID:       roomID,
		CreatedAt:    now,
		DurationS:    int64(r.cfg.Duration.Seconds()),
		lastActivity: now,
		state:        StateActive,
	}

	r.mu.Lock()
	r.sessions[sessionID] = s
	r.mu.Unlock()

	s.idleTimer = time.AfterFunc(r.cfg.IdleTimeout, func() { r.End(sessionID, ReasonTimeout) })
	s.durTimer = time.AfterFunc(r.cfg.Duration, func() { r.End(sessionID, ReasonDuration) })

	token, err := r.tokens.Mint(sessionID, roomID)
	if err != nil {
		r.End(sessionID, ReasonManual)
		return CreateResult{}, fmt.Errorf("mint capability token: %w", err)
	}

	return CreateResult{
		SessionID:       sessionID,
		RoomID:          roomID,
		CapabilityToken: token,
		DurationSeconds: s.DurationS,
	}, nil
}

// Refresh resets the inactivity timer. No-op if the session is not active,
// matching §4.1's contract precisely (not an error).
func (r *Registry) Refresh(sessionID string) {
	s := r.get(sessionID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.lastActivity = r.now()
	timer := s.idleTimer
	s.mu.Unlock()

	if timer != nil {
		timer.Reset(r.cfg.IdleTimeout)
	}
}

// End transitions a session from active to ended. Idempotent: a second
// call on an already-ended session is a no-op. Room release failures are
// swallowed here; callers that need to observe them should wrap RoomCloser.
func (r *Registry) End(sessionID string, reason EndReason) {
	s := r.get(sessionID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	s.endReason = reason
	s.endedAt = r.now()
	idleTimer, durTimer, roomID, createdAt := s.idleTimer, s.durTimer, s.RoomID, s.CreatedAt
	endedAt := s.endedAt
	s.mu.Unlock()

	if idleTimer != nil {
		idleTimer.Stop()
	}
	if durTimer != nil {
		durTimer.Stop()
	}
	if r.rooms != nil {
		r.rooms.CloseRoom(roomID)
	}
	if r.metrics != nil {
		r.metrics.RecordSessionEnded(string(reason), endedAt.Sub(createdAt))
	}

	r.mu.Lock()
	hooks := r.endHooks
	r.mu.Unlock()
	for _, hook := range hooks {
		hook(sessionID)
	}
}

// OnEnd registers a hook invoked, with the session id, every time a
// session transitions to ended, regardless of end reason. Collaborators
// that own per-session state keyed off the session id (e.g. the
// conversation pipeline's history) register here instead of relying on a
// single caller like the DELETE handler to release it, since idle,
// duration, operator-terminate, and draining ends never go through that
// handler at all.
func (r *Registry) OnEnd(hook func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endHooks = append(r.endHooks, hook)
}

// Lookup returns the current snapshot of a session, or not_found.
func (r *Registry) Lookup(sessionID string) (Snapshot, bool) {
	s := r.get(sessionID)
	if s == nil {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// ActiveSession returns the live *Session for pipeline use, or nil if the
// session doesn't exist or isn't active. Unlike Lookup this is not a
// snapshot, so Refresh/End effects are immediately visible to the caller.
func (r *Registry) ActiveSession(sessionID string) *Session {
	s := r.get(sessionID)
	if s == nil || !s.IsActive() {
		return nil
	}
	return s
}

// SetMetrics installs the metrics collaborator; nil (the default) disables
// metric recording entirely. Must be called before Create/End are reachable
// from concurrent goroutines, i.e. during process startup.
func (r *Registry) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

// ValidateToken checks a capability token presented on the datachannel
// upgrade and returns the session/room it is bound to.
func (r *Registry) ValidateToken(raw string) (Claims, error) {
	return r.tokens.Validate(raw)
}

func (r *Registry) get(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// Counts reports active and total (active+ended-but-not-yet-swept) session
// counts for the health handler.
func (r *Registry) Counts() (active, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		total++
		if s.IsActive() {
			active++
		}
	}
	return active, total
}

// StartSweep launches the background pruning goroutine named in §4.1: it
// periodically removes sessions whose ended_at is older than the retention
// window. It runs independently of the request-handling path so a slow
// request can never delay it.
func (r *Registry) StartSweep() {
	r.sweepStop = make(chan struct{})
	r.sweepDone = make(chan struct{})
	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweepOnce()
			case <-r.sweepStop:
				return
			}
		}
	}()
}

func (r *Registry) sweepOnce() {
	cutoff := r.now().Add(-r.cfg.SweepRetention)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		snap := s.Snapshot()
		if snap.State == StateEnded && s.EndedAt().Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}

// StopSweep halts the background sweep goroutine and waits for it to exit.
func (r *Registry) StopSweep() {
	if r.sweepStop == nil {
		return
	}
	close(r.sweepStop)
	<-r.sweepDone
}

// WarnAll sends an operator-style warning to every active session's room,
// used during graceful shutdown.
func (r *Registry) WarnAll(router *router.Router, message any) (sent int) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s.IsActive() {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		s := r.get(id)
		if s == nil {
			continue
		}
		if err := router.Send(s.Snapshot().RoomID, message); err == nil {
			sent++
		}
	}
	return sent
}

// EndAll force-ends every active session, used as the final step of
// graceful shutdown when the drain grace period expires.
func (r *Registry) EndAll(reason EndReason) (ended int) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s.IsActive() {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.End(id, reason)
		ended++
	}
	return ended
}
