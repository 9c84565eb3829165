package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseReply_BareJSONParsesStructured(t *testing.T) {
	raw := `{"speech_response":"hello there","timeline_events":[{"time_offset_ms":500,"action":{"type":"PRELOAD_IMAGE","payload":{"id":"parthenon"}}}],"end_chat":false}`

	reply := ParseReply(raw)

	require.False(t, reply.Degraded)
	require.Equal(t, "hello there", reply.SpeechResponse)
	require.Len(t, reply.TimelineEvents, 1)
	require.Equal(t, ActionPreloadImage, reply.TimelineEvents[0].Action.Type)
}

func TestParseReply_FencedJSONMatchesBare(t *testing.T) {
	bare := ParseReply(`{"speech_response":"hi","timeline_events":[],"end_chat":true}`)
	fenced := ParseReply("```json\n{\"speech_response\":\"hi\",\"timeline_events\":[],\"end_chat\":true}\n```")

	require.Equal(t, bare, fenced)
}

func TestParseReply_PlainProseDegrades(t *testing.T) {
	reply := ParseReply("just some plain prose, no JSON here")

	require.True(t, reply.Degraded)
	require.Equal(t, "just some plain prose, no JSON here", reply.SpeechResponse)
	require.Empty(t, reply.TimelineEvents)
}

func TestParseReply_TrailingGarbageAfterJSONDegrades(t *testing.T) {
	reply := ParseReply(`{"speech_response":"hi","timeline_events":[],"end_chat":false} and then some more text`)

	require.True(t, reply.Degraded)
}

func TestParseReply_PartiallyValidStructureDegradesEntirely(t *testing.T) {
	reply := ParseReply(`{"speech_response": 42}`)

	require.True(t, reply.Degraded)
	require.Equal(t, `{"speech_response": 42}`, reply.SpeechResponse)
}
