package llm

import (
	"encoding/json"
	"strings"
)

// ActionType enumerates the TimelineEvent action kinds. PRELOAD_IMAGE is
// the only one defined today; the type exists so a second action kind
// never requires a breaking change to the wire shape.
type ActionType string

const ActionPreloadImage ActionType = "PRELOAD_IMAGE"

// ImageRefPayload is the abstract image reference carried inside a
// TimelineEvent's action payload.
type ImageRefPayload struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category,omitempty"`
}

type Action struct {
	Type    ActionType      `json:"type"`
	Payload ImageRefPayload `json:"payload"`
}

type TimelineEvent struct {
	TimeOffsetMS int64  `json:"time_offset_ms"`
	Action       Action `json:"action"`
}

// structuredReply is the wire shape the model is instructed to emit.
type structuredReply struct {
	SpeechResponse string          `json:"speech_response"`
	TimelineEvents []TimelineEvent `json:"timeline_events"`
	EndChat        bool            `json:"end_chat"`
}

// Reply is the tagged variant named in the design notes: either a
// well-formed Structured reply or a Degraded one built from raw prose. The
// parser never guesses at a partially-valid structure — it is all-or-Degraded.
type Reply struct {
	SpeechResponse string
	TimelineEvents []TimelineEvent
	EndChat        bool
	Degraded       bool
}

// ParseReply strips fenced-code decoration from raw, attempts strict JSON
// decoding into the structured shape, and falls back to a Degraded reply on
// any failure. Both fenced (```json ... ```) and bare JSON input must yield
// the same parse result.
func ParseReply(raw string) Reply {
	stripped := stripFence(raw)

	var sr structuredReply
	dec := json.NewDecoder(strings.NewReader(stripped))
	if err := dec.Decode(&sr); err != nil {
		return degradedReply(raw)
	}
	// Reject trailing garbage after the JSON value; a reply that is mostly
	// JSON with trailing prose is not a well-formed structured reply.
	if dec.More() {
		return degradedReply(raw)
	}
	if sr.TimelineEvents == nil {
		sr.TimelineEvents = []TimelineEvent{}
	}
	return Reply{
		SpeechResponse: sr.SpeechResponse,
		TimelineEvents: sr.TimelineEvents,
		EndChat:        sr.EndChat,
	}
}

func degradedReply(raw string) Reply {
	return Reply{
		SpeechResponse: strings.TrimSpace(raw),
		TimelineEvents: []TimelineEvent{},
		EndChat:        false,
		Degraded:       true,
	}
}

// stripFence removes a single leading/trailing fenced-code block
// (```json ... ``` or bare ``` ... ```) and surrounding whitespace.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		firstLine := s[:nl]
		if strings.TrimSpace(firstLine) == "json" || strings.TrimSpace(firstLine) == "" {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
