package gateway

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/kiosk/pkg/config"
	"github.com/vango-go/kiosk/pkg/conversation"
	"github.com/vango-go/kiosk/pkg/lifecycle"
	"github.com/vango-go/kiosk/pkg/metrics"
	"github.com/vango-go/kiosk/pkg/mw"
	"github.com/vango-go/kiosk/pkg/router"
	"github.com/vango-go/kiosk/pkg/session"
)

// Server composes the session registry, conversation pipeline, router, and
// metrics into the routed HTTP surface named in the external interface.
type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	mux       *http.ServeMux
	registry  *session.Registry
	pipeline  *conversation.Pipeline
	router    *router.Router
	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle
	ticker    *session.Ticker
}

func New(cfg config.Config, registry *session.Registry, pipeline *conversation.Pipeline, rtr *router.Router, m *metrics.Metrics, lc *lifecycle.Lifecycle, ticker *session.Ticker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		registry:  registry,
		pipeline:  pipeline,
		router:    rtr,
		metrics:   m,
		lifecycle: lc,
		ticker:    ticker,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("POST /start_session", StartSessionHandler{Registry: s.registry, DatachannelURL: s.cfg.Addr, Metrics: s.metrics})
	s.mux.Handle("POST /converse", ConverseHandler{Pipeline: s.pipeline, Metrics: s.metrics})
	s.mux.Handle("DELETE /session/{id}", EndSessionHandler{Registry: s.registry})
	s.mux.Handle("GET /session/{id}", GetSessionHandler{Registry: s.registry, Metrics: s.metrics})
	s.mux.Handle("GET /health", HealthHandler{Registry: s.registry, Lifecycle: s.lifecycle})
	s.mux.Handle("GET /datachannel", DatachannelHandler{Registry: s.registry, Router: s.router, Terminator: s.terminator()})
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// terminator returns s.ticker as a Terminator, or nil. Returning the typed
// nil pointer directly would produce a non-nil interface value, so the
// DatachannelHandler's nil check has to happen here, before the interface
// conversion.
func (s *Server) terminator() Terminator {
	if s.ticker == nil {
		return nil
	}
	return s.ticker
}

// Handler returns the fully wrapped middleware chain, outermost first:
// RequestID sees every request first and Recover catches any panic from
// everything inside it, mirroring the gateway's own ordering.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
