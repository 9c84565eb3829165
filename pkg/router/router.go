// Package router implements the reliable, ordered broadcast of JSON
// control messages from the server to every client connected to a kiosk
// room's datachannel.
package router

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrRoomGone is returned by Send when the addressed room has no
// participants (or never existed). It is non-fatal: Schedule discards it, so
// scheduled events that outlive their session are silently dropped.
var ErrRoomGone = fmt.Errorf("router: room gone")

// Conn is the minimal transport surface the router needs from a live
// connection, narrowed from the teacher's wsWriter interface.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type participant struct {
	conn   Conn
	queue  chan []byte
	done   chan struct{}
	closed sync.Once
}

func newParticipant(conn Conn) *participant {
	p := &participant{conn: conn, queue: make(chan []byte, 64), done: make(chan struct{})}
	go p.run()
	return p
}

// run is the single writer goroutine per connection; it is what keeps
// delivery to one participant strictly ordered even though many goroutines
// may call Send/Schedule concurrently.
func (p *participant) run() {
	for {
		select {
		case data, ok := <-p.queue:
			if !ok {
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.stop()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *participant) stop() {
	p.closed.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *participant) enqueue(data []byte) {
	select {
	case p.queue <- data:
	case <-p.done:
	}
}

type room struct {
	mu           sync.Mutex
	participants map[int]*participant
	nextID       int
	timers       map[int]*time.Timer
	nextTimerID  int
}

func newRoom() *room {
	return &room{participants: make(map[int]*participant), timers: make(map[int]*time.Timer)}
}

// Router owns every room's participant set and pending scheduled sends. It
// is the datachannel abstraction the spec treats the SFU as an instance of.
type Router struct {
	mu    sync.Mutex
	rooms map[string]*room
	now   func() time.Time
}

func New() *Router {
	return &Router{rooms: make(map[string]*room), now: time.Now}
}

// Join registers conn as a participant of roomID, creating the room if it
// doesn't exist yet. The returned Leave func removes the participant and
// stops its writer goroutine.
func (r *Router) Join(roomID string, conn Conn) (leave func()) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom()
		r.rooms[roomID] = rm
	}
	r.mu.Unlock()

	rm.mu.Lock()
	id := rm.nextID
	rm.nextID++
	p := newParticipant(conn)
	rm.participants[id] = p
	rm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			rm.mu.Lock()
			delete(rm.participants, id)
			rm.mu.Unlock()
			p.stop()
		})
	}
}

// Send broadcasts message to every participant of roomID, encoded as UTF-8
// JSON. The message is never re-encoded beyond this single marshal, so any
// playout_ts field inside it survives unchanged.
func (r *Router) Send(roomID string, message any) error {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return ErrRoomGone
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("router: encode message: %w", err)
	}

	rm.mu.Lock()
	if len(rm.participants) == 0 {
		rm.mu.Unlock()
		return ErrRoomGone
	}
	for _, p := range rm.participants {
		p.enqueue(data)
	}
	rm.mu.Unlock()
	return nil
}

// scheduledHandle lets a caller cancel a single still-pending scheduled
// send. The session registry does not use it: it releases every timer of a
// room at once through CloseRoom when a session ends.
type scheduledHandle struct {
	room *room
	id   int
}

func (h scheduledHandle) Cancel() {
	if h.room == nil {
		return
	}
	h.room.mu.Lock()
	if t, ok := h.room.timers[h.id]; ok {
		t.Stop()
		delete(h.room.timers, h.id)
	}
	h.room.mu.Unlock()
}

// Schedule arms a timer that calls Send(roomID, message) at at. If at has
// already passed, the message is sent immediately and no timer is armed. A
// room_gone at fire time is non-fatal: the send is silently dropped.
func (r *Router) Schedule(roomID string, message any, at time.Time) (cancel func()) {
	now := r.now()
	if !at.After(now) {
		_ = r.Send(roomID, message)
		return func() {}
	}

	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom()
		r.rooms[roomID] = rm
	}
	r.mu.Unlock()

	rm.mu.Lock()
	timerID := rm.nextTimerID
	rm.nextTimerID++
	delay := at.Sub(now)
	t := time.AfterFunc(delay, func() {
		rm.mu.Lock()
		delete(rm.timers, timerID)
		rm.mu.Unlock()
		_ = r.Send(roomID, message)
	})
	rm.timers[timerID] = t
	rm.mu.Unlock()

	handle := scheduledHandle{room: rm, id: timerID}
	return handle.Cancel
}

// CloseRoom cancels every pending scheduled send for roomID and
// disconnects every participant. Called by the session registry when a
// session ends so that no timer or writer goroutine outlives the session.
func (r *Router) CloseRoom(roomID string) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	for id, t := range rm.timers {
		t.Stop()
		delete(rm.timers, id)
	}
	participants := make([]*participant, 0, len(rm.participants))
	for id, p := range rm.participants {
		participants = append(participants, p)
		delete(rm.participants, id)
	}
	rm.mu.Unlock()

	for _, p := range participants {
		p.stop()
	}
}

// PendingTimers reports the number of still-armed scheduled sends for
// roomID, used by tests to prove the resource-discipline invariant.
func (r *Router) PendingTimers(roomID string) int {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.timers)
}
