package capture

import (
	"context"
	"errors"
)

// EventKind discriminates capture events.
type EventKind int

const (
	// EventInterim carries the cumulative, still-changing transcript of the
	// current utterance.
	EventInterim EventKind = iota
	// EventFinal carries a finalized utterance transcript.
	EventFinal
	// EventError carries an engine failure. See the sentinel errors below.
	EventError
	// EventEnd signals the engine session ended (intentionally or not).
	EventEnd
)

// Event is a discrete capture notification. The orchestrator never touches
// engine-specific message objects, only these variants.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Engine is a speech-to-text session. Start may be called again after the
// session ends; Stop is idempotent. Events delivers interim and final
// transcripts plus errors and end-of-session markers on a stable channel.
type Engine interface {
	Start(ctx context.Context, continuous bool) error
	Stop()
	Events() <-chan Event
}

// AudioFeeder is implemented by engines that accept raw microphone audio
// (PCM16LE mono) relayed from the client.
type AudioFeeder interface {
	FeedPCM16(pcm []byte) error
}

var (
	// ErrPermissionDenied means capture cannot start until the user grants
	// microphone access. Never retried automatically.
	ErrPermissionDenied = errors.New("capture: permission denied")
	// ErrNotSupported means no capture engine exists in this environment.
	ErrNotSupported = errors.New("capture: not supported in this environment")
	// ErrNoSpeech means the session ended without a usable transcript.
	// Recoverable; surfaced only for explicit single-shot sessions.
	ErrNoSpeech = errors.New("capture: no speech detected")
)
