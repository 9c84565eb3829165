// Package conversation implements the converse() turn: LLM call, TTS
// synthesis or cache hit, and visual scheduling, composed from the llm,
// tts, catalogue, router, and session packages.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/kiosk/pkg/apierror"
	"github.com/vango-go/kiosk/pkg/catalogue"
	"github.com/vango-go/kiosk/pkg/control"
	"github.com/vango-go/kiosk/pkg/llm"
	"github.com/vango-go/kiosk/pkg/session"
	"github.com/vango-go/kiosk/pkg/tts"
)

// Scheduler is the subset of the router the pipeline needs: arming a
// server-side timer that dispatches a control message at a server-monotonic
// instant.
type Scheduler interface {
	Schedule(roomID string, message any, at time.Time) (cancel func())
}

// Registry is the subset of the session registry the pipeline needs.
type Registry interface {
	ActiveSession(sessionID string) *session.Session
	Refresh(sessionID string)
}

// MetricsRecorder is the narrow slice of the metrics collaborator the
// pipeline needs to report turn outcomes and TTS cache effectiveness.
type MetricsRecorder interface {
	RecordTurn(outcome string, duration time.Duration)
	RecordTTSCache(hit bool)
}

const defaultPreloadTTL = 60 * time.Second

// showTransition is the only transition style img_show currently dispatches
// with; kept as a package constant rather than a config option since nothing
// in the external interface names a second one.
const showTransition = "crossfade"

// Options configures a Pipeline. Every timing field mirrors a named
// configuration option from the external interface.
type Options struct {
	Registry      Registry
	LLM           *llm.Adapter
	TTS           *tts.Cache
	Catalogue     *catalogue.Catalogue
	Scheduler     Scheduler
	Persona       string
	AnchorLead    time.Duration
	PreloadLead   time.Duration
	ShowCrossfade time.Duration
	PreloadTTL    time.Duration
	LLMTimeout    time.Duration
	TTSTimeout    time.Duration
	Metrics       MetricsRecorder
	Logger        *slog.Logger
	Now           func() time.Time
}

// Pipeline is the Conversation Pipeline named in the external interface,
// the component that turns one user_text into assistant speech, audio, and
// a schedule of visuals.
type Pipeline struct {
	registry  Registry
	llm       *llm.Adapter
	tts       *tts.Cache
	catalogue *catalogue.Catalogue
	scheduler Scheduler
	histories *histories

	anchorLead    time.Duration
	preloadLead   time.Duration
	showCrossfade time.Duration
	preloadTTL    time.Duration
	llmTimeout    time.Duration
	ttsTimeout    time.Duration
	metrics       MetricsRecorder
	logger        *slog.Logger
	now           func() time.Time

	turnMu    sync.Mutex
	turnLocks map[string]*sync.Mutex
}

func New(opts Options) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	preloadTTL := opts.PreloadTTL
	if preloadTTL <= 0 {
		preloadTTL = defaultPreloadTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry:      opts.Registry,
		llm:           opts.LLM,
		tts:           opts.TTS,
		catalogue:     opts.Catalogue,
		scheduler:     opts.Scheduler,
		histories:     newHistories(opts.Persona),
		anchorLead:    opts.AnchorLead,
		preloadLead:   opts.PreloadLead,
		showCrossfade: opts.ShowCrossfade,
		preloadTTL:    preloadTTL,
		llmTimeout:    opts.LLMTimeout,
		ttsTimeout:    opts.TTSTimeout,
		metrics:       opts.Metrics,
		logger:        logger,
		now:           now,
	}
}

// Result is the converse() return tuple named in §4.2, with the extra
// TTSError flag the external HTTP response surfaces alongside empty audio.
type Result struct {
	AssistantText    string
	AudioBytes       []byte
	AudioContentType string
	ImagesScheduled  int
	EndChat          bool
	TTSError         bool
}

// Converse runs the eight-step turn algorithm. Turns on the same session
// are serialised by queueing on a per-session lock rather than rejecting
// with turn_in_progress, so a burst of calls drains in arrival order
// without ever interleaving history mutations.
func (p *Pipeline) Converse(ctx context.Context, sessionID, userText string) (Result, error) {
	start := p.now()
	sess := p.registry.ActiveSession(sessionID)
	if sess == nil {
		return Result{}, apierror.New(apierror.KindSessionNotFound, "session is not active")
	}

	lock := p.turnLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	// Re-check after acquiring the lock: the session may have ended while
	// this turn was queued behind an earlier one.
	sess = p.registry.ActiveSession(sessionID)
	if sess == nil {
		return Result{}, apierror.New(apierror.KindSessionNotFound, "session is not active")
	}

	p.registry.Refresh(sessionID)

	h := p.histories.get(sessionID)
	priorHistory := h.snapshot()
	h.appendUser(userText)

	reply, err := p.callLLM(ctx, sessionID, userText, priorHistory)
	if err != nil {
		p.recordTurn("upstream_llm", start)
		return Result{}, apierror.New(apierror.KindUpstreamLLM, err.Error())
	}
	h.appendAssistant(reply.SpeechResponse)

	artifact, ttsErrored := p.synthesize(ctx, reply.SpeechResponse)

	speechStart := p.now().Add(p.anchorLead)
	scheduled := p.scheduleVisuals(sess.RoomID, speechStart, reply.TimelineEvents)

	if reply.EndChat {
		endAt := speechStart.Add(artifact.DurationEstimate())
		p.scheduler.Schedule(sess.RoomID, control.EndChat{}, endAt)
	}

	outcome := "ok"
	if ttsErrored {
		outcome = "tts_error"
	}
	p.recordTurn(outcome, start)

	return Result{
		AssistantText:    reply.SpeechResponse,
		AudioBytes:       artifact.Audio,
		AudioContentType: artifact.ContentType,
		ImagesScheduled:  scheduled,
		EndChat:          reply.EndChat,
		TTSError:         ttsErrored,
	}, nil
}

func (p *Pipeline) recordTurn(outcome string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordTurn(outcome, p.now().Sub(start))
}

func (p *Pipeline) callLLM(ctx context.Context, sessionID, userText string, history []llm.Message) (llm.Reply, error) {
	llmCtx, cancel := context.WithTimeout(ctx, p.llmTimeout)
	defer cancel()
	return p.llm.Send(llmCtx, sessionID, userText, history)
}

// synthesize requests audio for text. A TTS failure never fails the turn:
// it returns a zero Artifact and ttsErrored=true so the caller still
// returns assistant text with an empty audio payload.
func (p *Pipeline) synthesize(ctx context.Context, text string) (tts.Artifact, bool) {
	ttsCtx, cancel := context.WithTimeout(ctx, p.ttsTimeout)
	defer cancel()
	artifact, hit, err := p.tts.GetOrSynth(ttsCtx, text)
	if err != nil {
		return tts.Artifact{}, true
	}
	if p.metrics != nil {
		p.metrics.RecordTTSCache(hit)
	}
	return artifact, false
}

// scheduleVisuals resolves and dispatches one img_preload/img_show pair per
// PRELOAD_IMAGE timeline event. A resolver miss still dispatches a
// best-effort descriptor rather than dropping the event; only a wholly
// empty catalogue skips it.
func (p *Pipeline) scheduleVisuals(roomID string, speechStart time.Time, events []llm.TimelineEvent) int {
	scheduled := 0
	for _, ev := range events {
		if ev.Action.Type != llm.ActionPreloadImage {
			continue
		}

		desc, matched, err := p.catalogue.Resolve(catalogue.Ref{
			ID:       ev.Action.Payload.ID,
			Title:    ev.Action.Payload.Title,
			Category: ev.Action.Payload.Category,
		})
		if err != nil {
			continue
		}
		if !matched {
			p.logger.Warn("image_unresolved",
				"ref_id", ev.Action.Payload.ID,
				"ref_title", ev.Action.Payload.Title,
				"ref_category", ev.Action.Payload.Category,
				"fallback_id", desc.ID,
			)
		}

		showAt := speechStart.Add(time.Duration(ev.TimeOffsetMS) * time.Millisecond)
		preloadAt := showAt.Add(-p.preloadLead)
		if preloadAt.Before(p.now()) {
			preloadAt = p.now()
		}

		p.scheduler.Schedule(roomID, control.ImgPreload{
			ID:      desc.ID,
			CDNURL:  desc.CDNURL,
			Playout: showAt.UnixMilli(),
			TTLMS:   p.preloadTTL.Milliseconds(),
		}, preloadAt)

		p.scheduler.Schedule(roomID, control.ImgShow{
			ID:         desc.ID,
			Playout:    showAt.UnixMilli(),
			Transition: showTransition,
			DurationMS: p.showCrossfade.Milliseconds(),
			Caption:    desc.Title,
		}, showAt)

		scheduled++
	}
	return scheduled
}

// EndSession drops the in-memory history for a session. Called by the
// registry's end() path so a finished session's history cannot leak.
func (p *Pipeline) EndSession(sessionID string) {
	p.histories.drop(sessionID)
}

func (p *Pipeline) turnLock(sessionID string) *sync.Mutex {
	p.turnMu.Lock()
	defer p.turnMu.Unlock()
	lock, ok := p.turnLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		if p.turnLocks == nil {
			p.turnLocks = make(map[string]*sync.Mutex)
		}
		p.turnLocks[sessionID] = lock
	}
	return lock
}
