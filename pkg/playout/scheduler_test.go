package playout

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vango-go/kiosk/pkg/control"
)

type fakeRenderer struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeRenderer) FadeTo(handle ImageHandle, caption string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%v", handle))
}

func (r *fakeRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func waitForCount(t *testing.T, r *fakeRenderer, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.count() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, r.count(), n)
}

func newTestScheduler(renderer *fakeRenderer) *Scheduler {
	return NewScheduler(Options{
		Fetcher:           func(url string) (ImageHandle, error) { return "handle:" + url, nil },
		Renderer:          renderer,
		Fallback:          "fallback",
		LateShowTolerance: 100 * time.Millisecond,
	})
}

func TestPreload_IsIdempotentPerID(t *testing.T) {
	calls := 0
	s := NewScheduler(Options{
		Fetcher: func(url string) (ImageHandle, error) {
			calls++
			return "h", nil
		},
		Renderer: &fakeRenderer{},
	})

	msg := control.ImgPreload{ID: "parthenon", CDNURL: "https://x", Playout: time.Now().UnixMilli(), TTLMS: 60000}
	s.Preload(msg)
	s.Preload(msg)

	require.Equal(t, 1, calls)
}

func TestScheduleShow_ArmsTimerForFutureInstant(t *testing.T) {
	renderer := &fakeRenderer{}
	s := newTestScheduler(renderer)

	now := time.Now()
	s.Preload(control.ImgPreload{ID: "a", CDNURL: "https://x", Playout: now.UnixMilli(), TTLMS: 60000})
	s.ScheduleShow(control.ImgShow{ID: "a", Playout: now.Add(30 * time.Millisecond).UnixMilli(), DurationMS: 100})

	require.Equal(t, 1, s.PendingCount())
	waitForCount(t, renderer, 1)
	require.Equal(t, 0, s.PendingCount())
}

func TestScheduleShow_SlightlyLateStillRenders(t *testing.T) {
	renderer := &fakeRenderer{}
	s := newTestScheduler(renderer)

	now := time.Now()
	s.Preload(control.ImgPreload{ID: "a", CDNURL: "https://x", Playout: now.UnixMilli(), TTLMS: 60000})
	s.ScheduleShow(control.ImgShow{ID: "a", Playout: now.Add(-50 * time.Millisecond).UnixMilli(), DurationMS: 100})

	waitForCount(t, renderer, 1)
}

func TestScheduleShow_TooLateIsDropped(t *testing.T) {
	var loggedEvent, loggedID string
	renderer := &fakeRenderer{}
	s := NewScheduler(Options{
		Fetcher:           func(url string) (ImageHandle, error) { return "h", nil },
		Renderer:          renderer,
		LateShowTolerance: 100 * time.Millisecond,
		Log: func(event, id string) {
			loggedEvent, loggedID = event, id
		},
	})

	// Sync the clock first so the show's playout_ts translates to 250ms in
	// the past; as the first message it would itself become the anchor.
	now := time.Now()
	s.Preload(control.ImgPreload{ID: "a", CDNURL: "https://x", Playout: now.UnixMilli(), TTLMS: 60000})
	s.ScheduleShow(control.ImgShow{ID: "a", Playout: now.Add(-250 * time.Millisecond).UnixMilli()})

	require.Equal(t, 0, renderer.count())
	require.Equal(t, "show_late", loggedEvent)
	require.Equal(t, "a", loggedID)
}

func TestResetSync_ClearsPendingTimersAndStores(t *testing.T) {
	renderer := &fakeRenderer{}
	s := newTestScheduler(renderer)

	now := time.Now()
	s.Preload(control.ImgPreload{ID: "a", CDNURL: "https://x", Playout: now.UnixMilli(), TTLMS: 60000})
	s.ScheduleShow(control.ImgShow{ID: "a", Playout: now.Add(time.Hour).UnixMilli()})
	require.Equal(t, 1, s.PendingCount())

	s.ResetSync()
	require.Equal(t, 0, s.PendingCount())
	require.False(t, s.clock.Initialized())
}

func TestAtMostOneVisibleImage(t *testing.T) {
	renderer := &fakeRenderer{}
	s := newTestScheduler(renderer)

	now := time.Now()
	s.Preload(control.ImgPreload{ID: "a", CDNURL: "https://a", Playout: now.UnixMilli(), TTLMS: 60000})
	s.Preload(control.ImgPreload{ID: "b", CDNURL: "https://b", Playout: now.UnixMilli(), TTLMS: 60000})

	s.ScheduleShow(control.ImgShow{ID: "a", Playout: now.UnixMilli() - 10})
	require.Equal(t, "handle:https://a", s.Visible())

	s.ScheduleShow(control.ImgShow{ID: "b", Playout: now.UnixMilli() - 10})
	require.Equal(t, "handle:https://b", s.Visible())
}
