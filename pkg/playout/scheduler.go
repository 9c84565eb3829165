package playout

import (
	"sync"
	"time"

	"github.com/vango-go/kiosk/pkg/control"
)

// ImageHandle is whatever the host UI uses to render a preloaded image.
// The scheduler treats it as opaque.
type ImageHandle any

// Fetcher fetches the bytes/handle for a CDN URL. In a browser host this
// would be an <img> load; here it is injected so the scheduler is testable
// without real network access.
type Fetcher func(cdnURL string) (ImageHandle, error)

// Renderer performs the actual two-buffer crossfade. Buffer 0/1 alternate
// as the "current" surface; FadeTo animates the new surface's opacity from
// 0 to 1 and the old one's from 1 to 0 over duration.
type Renderer interface {
	FadeTo(handle ImageHandle, caption string, duration time.Duration)
}

type preloadEntry struct {
	handle  ImageHandle
	expires time.Time
	failed  bool
}

// Scheduler holds Clock Sync state, the preload store, and the pending
// store of armed local timers, per §4.7.
type Scheduler struct {
	clock    *Clock
	fetch    Fetcher
	render   Renderer
	fallback ImageHandle

	lateShowTolerance time.Duration
	now               func() time.Time

	mu       sync.Mutex
	preload  map[string]*preloadEntry
	pending  map[string]*time.Timer
	onLog    func(event string, id string)
	visible  ImageHandle
}

type Options struct {
	Fetcher           Fetcher
	Renderer          Renderer
	Fallback          ImageHandle
	LateShowTolerance time.Duration
	Now               func() time.Time
	Log               func(event string, id string)
}

func NewScheduler(opts Options) *Scheduler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = func(string, string) {}
	}
	return &Scheduler{
		clock:             NewClock(now),
		fetch:             opts.Fetcher,
		render:            opts.Renderer,
		fallback:          opts.Fallback,
		lateShowTolerance: opts.LateShowTolerance,
		now:               now,
		preload:           make(map[string]*preloadEntry),
		pending:           make(map[string]*time.Timer),
		onLog:             log,
	}
}

// Preload fetches and stores the image named by msg. If the clock hasn't
// been initialised yet, this message's playout_ts becomes the sync anchor.
// A preload never happens more than once per id within a session.
func (s *Scheduler) Preload(msg control.ImgPreload) {
	s.clock.Convert(msg.Playout) // side effect: initialises the clock if needed

	s.mu.Lock()
	if _, exists := s.preload[msg.ID]; exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	handle, err := s.fetch(msg.CDNURL)
	expires := s.now().Add(time.Duration(msg.TTLMS) * time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.preload[msg.ID]; exists {
		return
	}
	if err != nil {
		s.preload[msg.ID] = &preloadEntry{failed: true, expires: expires}
		s.onLog("preload_failure", msg.ID)
		return
	}
	s.preload[msg.ID] = &preloadEntry{handle: handle, expires: expires}
}

// ScheduleShow converts msg.Playout to local time and either arms a timer,
// renders immediately (slightly-late but tolerated), or drops the event as
// too late, per §4.7's three-way delay split.
func (s *Scheduler) ScheduleShow(msg control.ImgShow) {
	local := s.clock.Convert(msg.Playout)
	delay := local.Sub(s.now())

	switch {
	case delay > 0:
		s.arm(msg, delay)
	case delay >= -s.lateShowTolerance:
		s.renderShow(msg)
	default:
		s.onLog("show_late", msg.ID)
	}
}

func (s *Scheduler) arm(msg control.ImgShow, delay time.Duration) {
	s.mu.Lock()
	if existing, ok := s.pending[msg.ID]; ok {
		existing.Stop()
	}
	t := time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
		s.renderShow(msg)
	})
	s.pending[msg.ID] = t
	s.mu.Unlock()
}

func (s *Scheduler) renderShow(msg control.ImgShow) {
	s.mu.Lock()
	entry, ok := s.preload[msg.ID]
	var handle ImageHandle
	if ok && !entry.failed && s.now().Before(entry.expires) {
		handle = entry.handle
	} else {
		handle = s.fallback
	}
	s.visible = handle
	s.mu.Unlock()

	duration := time.Duration(msg.DurationMS) * time.Millisecond
	if duration <= 0 {
		duration = 400 * time.Millisecond
	}
	if s.render != nil {
		s.render.FadeTo(handle, msg.Caption, duration)
	}
}

// Visible exposes the currently visible handle for tests asserting the
// at-most-one-visible-image invariant.
func (s *Scheduler) Visible() ImageHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// PendingCount reports the number of still-armed show timers, used to
// prove ResetSync released everything.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ResetSync clears the offset, cancels every pending timer, and empties
// both stores. Invoked on session end or explicit restart.
func (s *Scheduler) ResetSync() {
	s.clock.Reset()

	s.mu.Lock()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	s.preload = make(map[string]*preloadEntry)
	s.visible = nil
	s.mu.Unlock()
}
