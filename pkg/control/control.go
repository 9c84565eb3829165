// Package control defines the tagged datachannel messages exchanged
// between the server and kiosk clients.
package control

import "encoding/json"

type Tag string

const (
	TagImgPreload       Tag = "img_preload"
	TagImgShow          Tag = "img_show"
	TagEndChat          Tag = "end_chat"
	TagEndOfStream      Tag = "end_of_stream"
	TagRemainingTime    Tag = "remaining_time"
	TagDraining         Tag = "draining"
	TagTerminateSession Tag = "terminate_session"
)

// Draining notifies every connected client that the server is shutting
// down gracefully; sessions are about to be force-ended.
type Draining struct{}

func (Draining) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Type: string(TagDraining)})
}

// envelope is the wire shape every control message shares: a discriminant
// tag plus its tag-specific fields flattened alongside it.
type envelope struct {
	Type string `json:"type"`
}

type ImgPreload struct {
	ID      string `json:"id"`
	CDNURL  string `json:"cdn_url"`
	Playout int64  `json:"playout_ts"`
	TTLMS   int64  `json:"ttl_ms"`
}

func (m ImgPreload) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    Tag    `json:"type"`
		ID      string `json:"id"`
		CDNURL  string `json:"cdn_url"`
		Playout int64  `json:"playout_ts"`
		TTLMS   int64  `json:"ttl_ms"`
	}{TagImgPreload, m.ID, m.CDNURL, m.Playout, m.TTLMS})
}

type ImgShow struct {
	ID         string `json:"id"`
	Playout    int64  `json:"playout_ts"`
	Transition string `json:"transition"`
	DurationMS int64  `json:"duration_ms"`
	Caption    string `json:"caption"`
}

func (m ImgShow) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       Tag    `json:"type"`
		ID         string `json:"id"`
		Playout    int64  `json:"playout_ts"`
		Transition string `json:"transition"`
		DurationMS int64  `json:"duration_ms"`
		Caption    string `json:"caption"`
	}{TagImgShow, m.ID, m.Playout, m.Transition, m.DurationMS, m.Caption})
}

type EndChat struct{}

func (EndChat) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Type: string(TagEndChat)})
}

type EndOfStream struct {
	SessionID string `json:"session_id"`
}

func (m EndOfStream) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      Tag    `json:"type"`
		SessionID string `json:"session_id"`
	}{TagEndOfStream, m.SessionID})
}

// RemainingTime is the operator room's 1Hz broadcast tick, one per active
// session.
type RemainingTime struct {
	SessionID  string `json:"session_id"`
	RemainingS int64  `json:"remaining_s"`
}

func (m RemainingTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       Tag    `json:"type"`
		SessionID  string `json:"session_id"`
		RemainingS int64  `json:"remaining_s"`
	}{TagRemainingTime, m.SessionID, m.RemainingS})
}

// TerminateSession is sent by the operator console on the reserved
// operator room to force-end a kiosk session ahead of its normal timeout.
type TerminateSession struct {
	SessionID string `json:"session_id"`
}

func (m TerminateSession) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      Tag    `json:"type"`
		SessionID string `json:"session_id"`
	}{TagTerminateSession, m.SessionID})
}

// Decode dispatches on the "type" discriminant, mirroring the teacher's
// decode-by-envelope-type pattern for inbound client frames.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch Tag(env.Type) {
	case TagImgPreload:
		var m ImgPreload
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TagImgShow:
		var m ImgShow
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TagEndChat:
		return EndChat{}, nil
	case TagEndOfStream:
		var m EndOfStream
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TagRemainingTime:
		var m RemainingTime
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TagDraining:
		return Draining{}, nil
	case TagTerminateSession:
		var m TerminateSession
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, &unknownTagError{tag: env.Type}
	}
}

type unknownTagError struct{ tag string }

func (e *unknownTagError) Error() string { return "control: unknown tag " + e.tag }
