package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// Deepgram's Aura catalog is fixed per model family, so the voice list is
// ready at construction.
var deepgramVoices = []Voice{
	{Name: "aura-2-thalia-en", Locale: "en-US"},
	{Name: "aura-2-andromeda-en", Locale: "en-US"},
	{Name: "aura-asteria-en", Locale: "en-US"},
	{Name: "aura-luna-en", Locale: "en-US"},
	{Name: "aura-orion-en", Locale: "en-US"},
}

// maxUtterance caps how long a single synthesis may run if the server never
// confirms the flush. Normal completion never waits on it.
const maxUtterance = 30 * time.Second

// DeepgramEngine synthesizes speech over Deepgram's speak websocket,
// emitting linear16 PCM at 48 kHz.
type DeepgramEngine struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	logger     *logrus.Entry
}

// NewDeepgramEngine builds an engine for the given model, defaulting to
// aura-2-thalia-en.
func NewDeepgramEngine(apiKey, model string) *DeepgramEngine {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramEngine{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 48000,
		encoding:   "linear16",
		logger:     log.Component("deepgram"),
	}
}

func (d *DeepgramEngine) Voices() []Voice    { return deepgramVoices }
func (d *DeepgramEngine) VoicesLoaded() bool { return true }

// Stream synthesizes text and delivers PCM chunks until the utterance ends.
// The server acknowledges a flush only after every audio frame for the
// flushed text has been sent, so the Flushed message is the authoritative
// end-of-utterance signal.
func (d *DeepgramEngine) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- fmt.Errorf("deepgram: API key missing")
			return
		}
		if text == "" {
			return
		}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.model,
			Encoding:   d.encoding,
			SampleRate: d.sampleRate,
		}

		cb := newSpeakCallback(func(data []byte) {
			select {
			case pcmCh <- data:
			default:
				d.logger.Warn("pcm buffer full, dropping chunk")
			}
		})

		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
			return
		}
		defer dg.Stop()

		if ok := dg.Connect(); !ok {
			errCh <- fmt.Errorf("deepgram: connect failed")
			return
		}
		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram: speak text: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			errCh <- fmt.Errorf("deepgram: flush: %w", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-cb.finished:
		case <-time.After(maxUtterance):
			d.logger.Warn("no flush confirmation from server, ending stream")
			return
		}

		if err := cb.failure(); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("deepgram: %w", err)
		}
	}()

	return pcmCh, errCh
}

// speakCallback receives the speak websocket's events. Binary frames are
// copied out to the consumer; the Flushed acknowledgement (or an early
// socket close, or a server error) finishes the stream.
type speakCallback struct {
	onAudio  func([]byte)
	finished chan struct{}
	once     sync.Once

	mu  sync.Mutex
	err error
}

func newSpeakCallback(onAudio func([]byte)) *speakCallback {
	return &speakCallback{
		onAudio:  onAudio,
		finished: make(chan struct{}),
	}
}

func (s *speakCallback) finish() {
	s.once.Do(func() { close(s.finished) })
}

// failure reports the first server-side error, if any.
func (s *speakCallback) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *speakCallback) Binary(byMsg []byte) error {
	if len(byMsg) == 0 {
		return nil
	}
	b := make([]byte, len(byMsg))
	copy(b, byMsg)
	s.onAudio(b)
	return nil
}

func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error {
	s.finish()
	return nil
}

func (s *speakCallback) Close(*msginterfaces.CloseResponse) error {
	s.finish()
	return nil
}

func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error {
	s.mu.Lock()
	if s.err == nil {
		s.err = errors.New("server reported a synthesis error")
	}
	s.mu.Unlock()
	s.finish()
	return nil
}

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
