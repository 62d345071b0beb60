package responder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spamforflo-arch/jarvis-and-baymax/internal/store"
)

func sseHandler(t *testing.T, chunks []string, sentinel bool) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req replyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if !req.IsVoiceMode {
			t.Errorf("expected isVoiceMode set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			w.Write([]byte("data: {\"response\":\"" + c + "\"}\n\n"))
		}
		if sentinel {
			w.Write([]byte("data: [DONE]\n\n"))
		}
	}
}

func TestRemote_AssemblesStreamedChunks(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"The sky ", "is blue ", "because..."}, true))
	defer srv.Close()

	r := NewRemote(srv.URL, "key", true)
	got, err := r.Reply(context.Background(), "why is the sky blue", []store.Entry{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: "hi!"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "The sky is blue because..." {
		t.Fatalf("unexpected assembled reply: %q", got)
	}
}

func TestRemote_StreamWithoutSentinelStillReturnsText(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"partial ", "reply"}, false))
	defer srv.Close()

	r := NewRemote(srv.URL, "", false)
	got, err := r.Reply(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "partial reply" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestRemote_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusPaymentRequired, ErrQuotaExhausted},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		r := NewRemote(srv.URL, "", false)
		_, err := r.Reply(context.Background(), "hello", nil)
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestRemote_GenericFailureOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "", false)
	_, err := r.Reply(context.Background(), "hello", nil)
	if err == nil || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected generic error, got %v", err)
	}
}

func TestRemote_CancelledContextSurfacesCanceled(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"x"}, true))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRemote(srv.URL, "", false)
	_, err := r.Reply(ctx, "hello", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLocal_CannedAnswers(t *testing.T) {
	l := NewLocal()
	got, err := l.Reply(context.Background(), "hello there", nil)
	if err != nil {
		t.Fatalf("local backend must not fail: %v", err)
	}
	if got != "Hello! How can I help you?" {
		t.Fatalf("unexpected canned reply: %q", got)
	}
	if got, _ := l.Reply(context.Background(), "what is your name", nil); got != "I'm Jarvis, your voice assistant." {
		t.Fatalf("unexpected name reply: %q", got)
	}
	if got, _ := l.Reply(context.Background(), "explain quantum chromodynamics", nil); got == "" {
		t.Fatalf("expected default reply for unknown input")
	}
}
