// Package gateway wires the HTTP routes named in the external interface
// onto the session, conversation, and metrics packages, following the
// gateway package's handler-per-route layout.
package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/vango-go/kiosk/pkg/apierror"
	"github.com/vango-go/kiosk/pkg/conversation"
	"github.com/vango-go/kiosk/pkg/lifecycle"
	"github.com/vango-go/kiosk/pkg/metrics"
	"github.com/vango-go/kiosk/pkg/mw"
	"github.com/vango-go/kiosk/pkg/session"
)

type startSessionRequest struct {
	KioskID string `json:"kiosk_id"`
}

type startSessionResponse struct {
	SessionID       string `json:"session_id"`
	Token           string `json:"token"`
	LiveKitURL      string `json:"livekit_url"`
	RoomName        string `json:"room_name"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// StartSessionHandler implements POST /start_session.
type StartSessionHandler struct {
	Registry       *session.Registry
	DatachannelURL string
	Metrics        *metrics.Metrics
}

func (h StartSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.KioskID == "" {
		writeError(w, apierror.New(apierror.KindBadRequest, "kiosk_id is required"), reqID, h.Metrics)
		return
	}

	res, err := h.Registry.Create(req.KioskID)
	if err != nil {
		writeError(w, err, reqID, h.Metrics)
		return
	}
	if h.Metrics != nil {
		h.Metrics.RecordSessionCreated()
	}

	writeJSON(w, http.StatusOK, startSessionResponse{
		SessionID:       res.SessionID,
		Token:           res.CapabilityToken,
		LiveKitURL:      h.DatachannelURL,
		RoomName:        res.RoomID,
		DurationSeconds: res.DurationSeconds,
	})
}

type converseRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type converseResponse struct {
	AssistantResponse string `json:"assistant_response"`
	AudioBase64       string `json:"audio_base64"`
	ImagesScheduled   int    `json:"images_scheduled"`
	EndChat           bool   `json:"end_chat"`
	TTSError          bool   `json:"tts_error,omitempty"`
}

// ConverseHandler implements POST /converse.
type ConverseHandler struct {
	Pipeline *conversation.Pipeline
	Metrics  *metrics.Metrics
}

func (h ConverseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req converseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Message == "" {
		writeError(w, apierror.New(apierror.KindBadRequest, "session_id and message are required"), reqID, h.Metrics)
		return
	}

	out, err := h.Pipeline.Converse(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, err, reqID, h.Metrics)
		return
	}
	if h.Metrics != nil {
		h.Metrics.RecordImagesScheduled(out.ImagesScheduled)
	}

	writeJSON(w, http.StatusOK, converseResponse{
		AssistantResponse: out.AssistantText,
		AudioBase64:       base64.StdEncoding.EncodeToString(out.AudioBytes),
		ImagesScheduled:   out.ImagesScheduled,
		EndChat:           out.EndChat,
		TTSError:          out.TTSError,
	})
}

// EndSessionHandler implements DELETE /session/{id}. Per-session state
// (conversation history, timers, room membership) is released through
// Registry.End's own end hooks rather than here, so every end path -
// manual, timeout, duration, operator-terminated, or draining - releases
// it identically.
type EndSessionHandler struct {
	Registry *session.Registry
}

func (h EndSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	h.Registry.End(sessionID, session.ReasonManual)
	writeJSON(w, http.StatusOK, map[string]bool{"ended": true})
}

// GetSessionHandler implements GET /session/{id}.
type GetSessionHandler struct {
	Registry *session.Registry
	Metrics  *metrics.Metrics
}

func (h GetSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	reqID, _ := mw.RequestIDFrom(r.Context())
	snap, ok := h.Registry.Lookup(sessionID)
	if !ok {
		writeError(w, apierror.New(apierror.KindSessionNotFound, "unknown session"), reqID, h.Metrics)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	TotalSessions  int    `json:"total_sessions"`
	Draining       bool   `json:"draining"`
}

// HealthHandler implements GET /health.
type HealthHandler struct {
	Registry  *session.Registry
	Lifecycle *lifecycle.Lifecycle
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	active, total := h.Registry.Counts()
	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ActiveSessions: active, TotalSessions: total, Draining: draining})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error, reqID string, m *metrics.Metrics) {
	body, status := apierror.FromError(err, reqID)
	if m != nil {
		m.RecordError(string(body.Kind))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: body})
}
