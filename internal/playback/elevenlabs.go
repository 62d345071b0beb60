package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// ElevenLabsEngine synthesizes speech through the ElevenLabs HTTP streaming
// endpoint as pcm_48000. The account's voice catalog is fetched
// asynchronously at construction; VoicesLoaded flips true once it arrives.
type ElevenLabsEngine struct {
	apiKey  string
	voiceID string
	baseURL string
	client  *http.Client
	logger  *logrus.Entry

	mu     sync.Mutex
	voices []Voice
	loaded bool
}

// NewElevenLabsEngine builds an engine and starts loading the voice catalog
// in the background.
func NewElevenLabsEngine(apiKey, voiceID string) *ElevenLabsEngine {
	e := &ElevenLabsEngine{
		apiKey:  apiKey,
		voiceID: voiceID,
		baseURL: "https://api.elevenlabs.io",
		client:  &http.Client{},
		logger:  log.Component("elevenlabs"),
	}
	if apiKey != "" {
		go e.loadVoices(context.Background())
	}
	return e
}

// Voices returns the catalog fetched so far. Empty until loading completes.
func (e *ElevenLabsEngine) Voices() []Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Voice, len(e.voices))
	copy(out, e.voices)
	return out
}

// VoicesLoaded reports whether the catalog fetch has finished.
func (e *ElevenLabsEngine) VoicesLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

type elevenVoicesResponse struct {
	Voices []struct {
		VoiceID string            `json:"voice_id"`
		Name    string            `json:"name"`
		Labels  map[string]string `json:"labels"`
	} `json:"voices"`
}

func (e *ElevenLabsEngine) loadVoices(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/voices", nil)
	if err != nil {
		e.markLoaded(nil)
		return
	}
	req.Header.Set("xi-api-key", e.apiKey)
	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.WithError(err).Warn("voice catalog fetch failed")
		e.markLoaded(nil)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		e.logger.WithField("status", resp.StatusCode).Warn("voice catalog fetch rejected")
		e.markLoaded(nil)
		return
	}
	var parsed elevenVoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		e.logger.WithError(err).Warn("voice catalog decode failed")
		e.markLoaded(nil)
		return
	}
	voices := make([]Voice, 0, len(parsed.Voices))
	for _, v := range parsed.Voices {
		voices = append(voices, Voice{Name: v.Name, Locale: v.Labels["language"]})
	}
	e.markLoaded(voices)
}

// markLoaded flips the readiness flag even on fetch failure: playback with
// the configured default voice is the documented degraded path, not a crash.
func (e *ElevenLabsEngine) markLoaded(voices []Voice) {
	e.mu.Lock()
	e.voices = voices
	e.loaded = true
	e.mu.Unlock()
}

// Stream synthesizes text and delivers raw PCM chunks as the server streams
// the response body.
func (e *ElevenLabsEngine) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if e.apiKey == "" || e.voiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if err := e.httpStream(ctx, text, pcmCh); err != nil {
			if ctx.Err() == nil {
				errCh <- err
			}
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabsEngine) httpStream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return err
	}
	u.Path = "/v1/text-to-speech/" + e.voiceID + "/stream"
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
		// shorter chunks reduce tail cutoff; the server still streams
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{80, 120, 160, 200},
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			out := make([]byte, n)
			copy(out, chunk[:n])
			select {
			case pcmCh <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("elevenlabs: stream read: %w", rerr)
		}
	}
}
