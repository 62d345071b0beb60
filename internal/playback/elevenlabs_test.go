package playback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestElevenLabs_StreamNoCredentials(t *testing.T) {
	e := NewElevenLabsEngine("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := e.Stream(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error without credentials")
		}
	case <-pcmCh:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}

func TestElevenLabs_StreamDeliversBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("pcm-bytes-one"))
	}))
	defer srv.Close()

	e := &ElevenLabsEngine{apiKey: "key", voiceID: "voice", baseURL: srv.URL, client: srv.Client(), logger: testLogger()}
	pcmCh, errCh := e.Stream(context.Background(), "hello")

	var got []byte
	for chunk := range pcmCh {
		got = append(got, chunk...)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if string(got) != "pcm-bytes-one" {
		t.Fatalf("expected streamed body, got %q", got)
	}
}

func TestElevenLabs_VoiceCatalogLoads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Rachel","labels":{"language":"en"}}]}`))
	}))
	defer srv.Close()

	e := &ElevenLabsEngine{apiKey: "key", voiceID: "v1", baseURL: srv.URL, client: srv.Client(), logger: testLogger()}
	if e.VoicesLoaded() {
		t.Fatalf("expected catalog not loaded before fetch")
	}
	e.loadVoices(context.Background())
	if !e.VoicesLoaded() {
		t.Fatalf("expected catalog loaded after fetch")
	}
	voices := e.Voices()
	if len(voices) != 1 || voices[0].Name != "Rachel" || voices[0].Locale != "en" {
		t.Fatalf("unexpected catalog: %+v", voices)
	}
}

func TestElevenLabs_VoiceCatalogFailureStillMarksLoaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := &ElevenLabsEngine{apiKey: "key", voiceID: "v1", baseURL: srv.URL, client: srv.Client(), logger: testLogger()}
	e.loadVoices(context.Background())
	if !e.VoicesLoaded() {
		t.Fatalf("catalog failure must still mark loaded for degraded playback")
	}
	if len(e.Voices()) != 0 {
		t.Fatalf("expected empty catalog on failure")
	}
}
