// Package llm sends conversation turns to the language model and parses
// its structured reply.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Message is one turn of conversation history sent alongside the current
// user message, mirroring the Conversation History data model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Adapter is the outbound LLM collaborator named in the external
// interfaces: POST /chat with the session id, user message, and the full
// history, expecting back a JSON string that itself decodes into the
// structured reply shape.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewAdapter(baseURL string, httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{baseURL: baseURL, httpClient: httpClient}
}

type chatRequest struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Stream    bool      `json:"stream"`
	History   []Message `json:"history,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Send posts the turn and returns the parsed Reply. A transport failure, a
// status of 400 or above, or a body that is not a JSON {"response": ...}
// envelope is returned as an error so the caller can surface upstream_llm;
// a malformed "response" string degrades per ParseReply instead of
// erroring, since the model did respond.
func (a *Adapter) Send(ctx context.Context, sessionID, message string, history []Message) (Reply, error) {
	body, err := json.Marshal(chatRequest{SessionID: sessionID, Message: message, Stream: false, History: history})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Reply{}, fmt.Errorf("chat: upstream status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("read response: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return Reply{}, fmt.Errorf("decode envelope: %w", err)
	}

	return ParseReply(cr.Response), nil
}
