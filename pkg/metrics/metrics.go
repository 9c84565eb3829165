// Package metrics defines the kiosk orchestrator's Prometheus metrics,
// adapted from the proxy's metrics but scoped to session, turn, cache, and
// scheduling counters instead of model usage and cost.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector for the kiosk process, all
// registered against a dedicated registry rather than the global default
// so multiple instances never collide in tests.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	TTSCacheHits   prometheus.Counter
	TTSCacheMisses prometheus.Counter

	ImagesScheduled prometheus.Counter

	ErrorsTotal *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "kiosk"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of currently active kiosk sessions.",
	})

	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total sessions ended, labelled by end reason.",
	}, []string{"end_reason"})

	sessionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Observed wall-clock duration of ended sessions.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
	})

	turnsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Total conversation turns processed, labelled by outcome.",
	}, []string{"outcome"})

	turnDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "End-to-end converse() latency.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})

	ttsCacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tts_cache_hits_total",
		Help:      "TTS requests served from the on-disk cache.",
	})

	ttsCacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tts_cache_misses_total",
		Help:      "TTS requests that required synthesis.",
	})

	imagesScheduled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "images_scheduled_total",
		Help:      "img_preload/img_show pairs dispatched to the router.",
	})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Domain errors, labelled by kind.",
	}, []string{"kind"})

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		turnsTotal,
		turnDuration,
		ttsCacheHits,
		ttsCacheMisses,
		imagesScheduled,
		errorsTotal,
	)

	return &Metrics{
		registry:        registry,
		SessionsActive:  sessionsActive,
		SessionsTotal:   sessionsTotal,
		SessionDuration: sessionDuration,
		TurnsTotal:      turnsTotal,
		TurnDuration:    turnDuration,
		TTSCacheHits:    ttsCacheHits,
		TTSCacheMisses:  ttsCacheMisses,
		ImagesScheduled: imagesScheduled,
		ErrorsTotal:     errorsTotal,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSessionCreated() {
	m.SessionsActive.Inc()
}

func (m *Metrics) RecordSessionEnded(endReason string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(endReason).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordTTSCache(hit bool) {
	if hit {
		m.TTSCacheHits.Inc()
		return
	}
	m.TTSCacheMisses.Inc()
}

func (m *Metrics) RecordImagesScheduled(n int) {
	m.ImagesScheduled.Add(float64(n))
}

func (m *Metrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}
