package conversation

import (
	"sync"

	"github.com/vango-go/kiosk/pkg/llm"
)

// history is one session's append-only conversation log, the lightweight
// analogue of the teacher's historyManager without the canonical/played
// split that its speculative-streaming replay needed.
type history struct {
	mu       sync.Mutex
	messages []llm.Message
}

// newHistory seeds a session's history with the configured persona as a
// single system turn at the head, inserted once and never repeated or
// mutated afterward.
func newHistory(persona string) *history {
	messages := make([]llm.Message, 0, 17)
	if persona != "" {
		messages = append(messages, llm.Message{Role: "system", Content: persona})
	}
	return &history{messages: messages}
}

func (h *history) appendUser(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, llm.Message{Role: "user", Content: text})
}

func (h *history) appendAssistant(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, llm.Message{Role: "assistant", Content: text})
}

func (h *history) snapshot() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// histories owns one history per session, created lazily and removed when
// the session ends.
type histories struct {
	mu      sync.Mutex
	byID    map[string]*history
	persona string
}

func newHistories(persona string) *histories {
	return &histories{byID: make(map[string]*history), persona: persona}
}

func (hs *histories) get(sessionID string) *history {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	h, ok := hs.byID[sessionID]
	if !ok {
		h = newHistory(hs.persona)
		hs.byID[sessionID] = h
	}
	return h
}

func (hs *histories) drop(sessionID string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	delete(hs.byID, sessionID)
}
