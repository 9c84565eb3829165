package session

import (
	"sync"
	"time"

	"github.com/vango-go/kiosk/pkg/control"
)

// OperatorRoomID is the router room every remaining-time tick and
// operator-terminate request is exchanged on. It is reserved: no kiosk
// session is ever assigned this id.
const OperatorRoomID = "operator"

// Broadcaster publishes a control message to a room. *router.Router
// satisfies this; tests use a fake.
type Broadcaster interface {
	Send(roomID string, message any) error
}

// Ticker is the Remaining-Time Broadcaster: a single shared 1Hz timer that
// computes remaining_s for every active session and publishes it to the
// operator room, independent of any individual session's request path.
type Ticker struct {
	registry *Registry
	bus      Broadcaster
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

func NewTicker(registry *Registry, bus Broadcaster, interval time.Duration) *Ticker {
	return &Ticker{
		registry: registry,
		bus:      bus,
		interval: interval,
		now:      time.Now,
	}
}

// Start launches the broadcast loop. Calling Start twice is a no-op.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	go func() {
		defer close(t.doneCh)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.tick()
			case <-t.stopCh:
				return
			}
		}
	}()
}

// Stop halts the broadcast loop and waits for it to exit.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	stopCh, doneCh := t.stopCh, t.doneCh
	t.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (t *Ticker) tick() {
	now := t.now()
	t.registry.mu.Lock()
	sessions := make([]*Session, 0, len(t.registry.sessions))
	for _, s := range t.registry.sessions {
		if s.IsActive() {
			sessions = append(sessions, s)
		}
	}
	t.registry.mu.Unlock()

	for _, s := range sessions {
		msg := control.RemainingTime{
			SessionID:  s.ID,
			RemainingS: s.RemainingSeconds(now),
		}
		t.bus.Send(OperatorRoomID, msg)
	}
}

// TerminateSession is invoked when the operator forces a session to end,
// wiring the operator datachannel back into the registry.
func (t *Ticker) TerminateSession(sessionID string) {
	t.registry.End(sessionID, ReasonOperatorTerminate)
}
