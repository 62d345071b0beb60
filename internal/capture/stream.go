package capture

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// silenceThreshold is the base inactivity window required before an
// utterance is considered complete. Conservative to avoid cutting the
// user mid-sentence.
const silenceThreshold = 700 * time.Millisecond

// continuationExtension is added to the silence threshold when the last
// word suggests the user is likely to continue ("and", "or", "if", ...).
const continuationExtension = 1200 * time.Millisecond

// stabilizationGrace absorbs late transcript updates from the recognizer
// before finalizing.
const stabilizationGrace = 250 * time.Millisecond

// StreamEngine is a realtime speech-to-text session over a streaming
// websocket API. It accepts PCM16LE mono audio and emits interim
// transcripts plus silence-finalized utterances as capture events.
type StreamEngine struct {
	socketURL  string
	apiKey     string
	sampleRate int
	logger     *logrus.Entry

	events chan Event

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	continuous bool
	stopCh     chan struct{}
	audio      chan []byte

	accMu        sync.Mutex
	latest       string
	committed    string
	lastUpdate   time.Time
	lastVoice    time.Time
	silenceTimer *time.Timer
}

// NewStreamEngine creates an engine pointed at a streaming STT endpoint.
func NewStreamEngine(socketURL, apiKey string) *StreamEngine {
	return &StreamEngine{
		socketURL:  socketURL,
		apiKey:     apiKey,
		sampleRate: 16000,
		logger:     log.Component("capture.stream"),
		events:     make(chan Event, 64),
	}
}

// Events returns the engine's event channel. The channel is stable across
// Start/Stop cycles.
func (s *StreamEngine) Events() <-chan Event { return s.events }

// Start connects the websocket session. continuous keeps the session
// finalizing utterance after utterance instead of ending on the first.
func (s *StreamEngine) Start(ctx context.Context, continuous bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		s.continuous = continuous
		return nil
	}
	if s.apiKey == "" {
		return ErrNotSupported
	}

	params := url.Values{}
	params.Set("sample_rate", fmt.Sprintf("%d", s.sampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "false")
	wsURL := s.socketURL + "?" + params.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := map[string][]string{"Authorization": {s.apiKey}}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return fmt.Errorf("%w: status=%d", ErrPermissionDenied, resp.StatusCode)
		}
		return fmt.Errorf("capture: connect stream: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.continuous = continuous
	s.stopCh = make(chan struct{})
	s.audio = make(chan []byte, 1000)
	now := time.Now()

	s.accMu.Lock()
	s.latest = ""
	s.committed = ""
	s.lastUpdate = now
	s.lastVoice = now
	s.accMu.Unlock()

	go s.readLoop(ctx, s.stopCh)
	go s.writeLoop(s.stopCh)

	s.logger.Info("streaming capture session connected")
	return nil
}

// Stop terminates the session. Idempotent; safe when nothing is running.
func (s *StreamEngine) Stop() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	s.accMu.Lock()
	if s.silenceTimer != nil {
		_ = s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.accMu.Unlock()

	if conn != nil {
		_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = conn.Close()
	}
	s.flushPendingDelta()
	s.emit(Event{Kind: EventEnd})
}

// FeedPCM16 queues microphone audio for the recognizer and tracks voice
// energy for the silence detector. Drops packets when the buffer is full
// rather than blocking the caller.
func (s *StreamEngine) FeedPCM16(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("capture: stream not connected")
	}
	s.detectVoiceActivity(pcm)
	select {
	case s.audio <- pcm:
	default:
		s.logger.Debug("audio buffer full, dropping packet")
	}
	return nil
}

// detectVoiceActivity updates lastVoice when the PCM buffer holds voice
// energy above a conservative RMS threshold.
func (s *StreamEngine) detectVoiceActivity(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	const voiceRMS = 250.0
	if math.Sqrt(sumSquares/float64(count)) >= voiceRMS {
		s.accMu.Lock()
		s.lastVoice = time.Now()
		s.accMu.Unlock()
	}
}

func (s *StreamEngine) writeLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case pcm := <-s.audio:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				s.logger.WithError(err).Debug("audio write failed")
				return
			}
		}
	}
}

func (s *StreamEngine) readLoop(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.Stop()
			return
		default:
		}
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				s.logger.WithError(err).Debug("stream read ended")
				s.teardownAfterReadError()
			}
			return
		}
		s.processMessage(message)
	}
}

// teardownAfterReadError marks the session dead and reports an unexpected
// end so the controller can decide whether to restart.
func (s *StreamEngine) teardownAfterReadError() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.flushPendingDelta()
	s.emit(Event{Kind: EventEnd})
}

type streamMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *StreamEngine) processMessage(message []byte) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.WithError(err).Debug("unparseable stream message")
		return
	}
	switch msg.Type {
	case "Begin":
		s.logger.WithField("session", msg.ID).Debug("recognizer session began")
	case "Turn":
		if msg.Transcript == "" {
			return
		}
		s.emit(Event{Kind: EventInterim, Text: msg.Transcript})
		s.accMu.Lock()
		s.latest = msg.Transcript
		s.lastUpdate = time.Now()
		if s.silenceTimer == nil {
			s.silenceTimer = time.AfterFunc(silenceThreshold, s.finalizeDueToSilence)
		} else {
			_ = s.silenceTimer.Stop()
			s.silenceTimer.Reset(silenceThreshold)
		}
		s.accMu.Unlock()
	case "Termination":
		s.flushPendingDelta()
	case "Error":
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("capture: recognizer error: %s", msg.Error)})
	default:
		s.logger.WithField("type", msg.Type).Debug("unknown stream message")
	}
}

// finalizeDueToSilence fires after the inactivity window. It emits only the
// delta since the last committed transcript, extending the window when the
// last word implies the speaker will continue, and waits out a short grace
// period to absorb late recognizer updates.
func (s *StreamEngine) finalizeDueToSilence() {
	s.mu.RLock()
	stop := s.stopCh
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		return
	}
	select {
	case <-stop:
		return
	default:
	}

	s.accMu.Lock()
	now := time.Now()
	threshold := silenceThreshold
	if isContinuationLikely(s.latest) {
		threshold += continuationExtension
	}
	sinceText := now.Sub(s.lastUpdate)
	sinceVoice := now.Sub(s.lastVoice)
	if sinceText < threshold || sinceVoice < threshold {
		wait := threshold
		if rem := threshold - sinceText; sinceText < threshold && rem < wait {
			wait = rem
		}
		if rem := threshold - sinceVoice; sinceVoice < threshold && rem < wait {
			wait = rem
		}
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		s.resetSilenceTimerLocked(wait)
		s.accMu.Unlock()
		return
	}
	lastUpdateAt := s.lastUpdate
	s.accMu.Unlock()

	time.Sleep(stabilizationGrace)

	s.accMu.Lock()
	if s.lastUpdate.After(lastUpdateAt) {
		// A late update arrived during grace; push the window forward.
		s.resetSilenceTimerLocked(silenceThreshold)
		s.accMu.Unlock()
		return
	}
	delta := deltaSince(s.latest, s.committed)
	s.committed = s.latest
	s.accMu.Unlock()

	if strings.TrimSpace(delta) == "" {
		return
	}
	select {
	case <-stop:
	case s.events <- Event{Kind: EventFinal, Text: delta}:
	}
}

func (s *StreamEngine) resetSilenceTimerLocked(wait time.Duration) {
	if s.silenceTimer == nil {
		s.silenceTimer = time.AfterFunc(wait, s.finalizeDueToSilence)
	} else {
		_ = s.silenceTimer.Stop()
		s.silenceTimer.Reset(wait)
	}
}

// flushPendingDelta emits any uncommitted transcript so the last words of
// a session are not lost. Best effort; never blocks shutdown for long.
func (s *StreamEngine) flushPendingDelta() {
	s.accMu.Lock()
	delta := deltaSince(s.latest, s.committed)
	s.committed = s.latest
	s.accMu.Unlock()
	if strings.TrimSpace(delta) == "" {
		return
	}
	select {
	case s.events <- Event{Kind: EventFinal, Text: delta}:
	case <-time.After(200 * time.Millisecond):
		s.logger.Warn("timed out delivering final transcript delta")
	}
}

func (s *StreamEngine) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.WithField("kind", ev.Kind).Debug("event buffer full, dropping")
	}
}

// deltaSince strips the committed prefix from the latest cumulative
// transcript, falling back to a last-occurrence search when the recognizer
// rewrote earlier words.
func deltaSince(latest, committed string) string {
	delta := strings.TrimSpace(strings.TrimPrefix(latest, committed))
	if delta == "" && committed != "" {
		if idx := strings.LastIndex(latest, committed); idx >= 0 && idx+len(committed) <= len(latest) {
			delta = strings.TrimSpace(latest[idx+len(committed):])
		}
	}
	return delta
}

// isContinuationLikely returns true if the last meaningful word indicates
// the speaker is likely to continue (conjunctions, prepositions, fillers).
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
