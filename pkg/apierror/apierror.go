// Package apierror maps the core domain errors of the kiosk orchestrator
// onto the HTTP error envelope returned to callers.
package apierror

import (
	"context"
	"errors"
	"net/http"
)

// Kind categorizes a domain error for both status-code mapping and metrics
// labelling.
type Kind string

const (
	KindSessionNotFound Kind = "session_not_found"
	KindUpstreamLLM     Kind = "upstream_llm"
	KindTTSError        Kind = "tts_error"
	KindImageUnresolved Kind = "image_unresolved"
	KindRoomGone        Kind = "room_gone"
	KindParseFailure    Kind = "parse_failure"
	KindBadRequest      Kind = "bad_request"
	KindTurnInProgress  Kind = "turn_in_progress"
	KindInternal        Kind = "internal"
)

// Error is the canonical domain error carried through the pipeline. Handlers
// translate it to an HTTP envelope via FromError; internal callers compare
// against Kind via errors.As.
type Error struct {
	Kind      Kind
	Message   string
	RequestID string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Envelope is the JSON body written for every non-2xx response.
type Envelope struct {
	Error *ErrorBody `json:"error"`
}

type ErrorBody struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// FromError classifies err into an HTTP status and response body. Unknown
// errors never leak their message to the caller; they are logged by the
// caller instead and surfaced here as a generic internal error.
func FromError(err error, requestID string) (*ErrorBody, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ErrorBody{Kind: KindUpstreamLLM, Message: "upstream timed out", RequestID: requestID}, http.StatusBadGateway
	}

	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr != nil {
		return &ErrorBody{Kind: domainErr.Kind, Message: domainErr.Message, RequestID: requestID}, statusForKind(domainErr.Kind)
	}

	return &ErrorBody{Kind: KindInternal, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

func statusForKind(k Kind) int {
	switch k {
	case KindSessionNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUpstreamLLM:
		return http.StatusBadGateway
	case KindTurnInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
