package responder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spamforflo-arch/jarvis-and-baymax/internal/store"
)

const doneSentinel = "[DONE]"

// Remote streams replies from the conversational gateway. The response is a
// server-sent-event stream of JSON chunks; deltas are concatenated in
// arrival order until the [DONE] sentinel.
type Remote struct {
	HTTPClient *http.Client
	Endpoint   string
	APIKey     string
	WebEnabled bool
}

// NewRemote builds a streaming client for the gateway endpoint. No request
// timeout is set on the client: the stream stays open for the whole reply
// and cancellation comes from the caller's context.
func NewRemote(endpoint, apiKey string, webEnabled bool) *Remote {
	return &Remote{
		HTTPClient: &http.Client{},
		Endpoint:   endpoint,
		APIKey:     apiKey,
		WebEnabled: webEnabled,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type replyRequest struct {
	Messages            []wireMessage `json:"messages"`
	WebEnabled          bool          `json:"webEnabled"`
	IsVoiceMode         bool          `json:"isVoiceMode"`
	ConversationHistory []wireMessage `json:"conversationHistory,omitempty"`
}

type replyChunk struct {
	Response string `json:"response"`
}

// Reply sends the transcript plus bounded history and assembles the
// streamed reply.
func (r *Remote) Reply(ctx context.Context, transcript string, recent []store.Entry) (string, error) {
	if r.Endpoint == "" {
		return "", fmt.Errorf("responder: endpoint missing")
	}

	history := make([]wireMessage, 0, len(recent))
	for _, e := range recent {
		history = append(history, wireMessage{Role: string(e.Role), Content: e.Content})
	}
	payload := replyRequest{
		Messages:            []wireMessage{{Role: "user", Content: transcript}},
		WebEnabled:          r.WebEnabled,
		IsVoiceMode:         true,
		ConversationHistory: history,
	}

	buf, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("responder: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode == http.StatusPaymentRequired:
		return "", ErrQuotaExhausted
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("responder: status=%d body=%s", resp.StatusCode, string(b))
	}

	return readStream(resp.Body)
}

func readStream(body io.Reader) (string, error) {
	var reply strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == doneSentinel {
			return strings.TrimSpace(reply.String()), nil
		}
		var chunk replyChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed chunks are skipped, not fatal: the stream may
			// interleave keep-alive comments.
			continue
		}
		reply.WriteString(chunk.Response)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("responder: stream read: %w", err)
	}
	// Stream ended without the sentinel; use what arrived.
	return strings.TrimSpace(reply.String()), nil
}
