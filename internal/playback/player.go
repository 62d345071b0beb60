package playback

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// Synthesizer streams synthesized audio for one utterance. The PCM channel
// closes on natural completion; the error channel carries at most one
// genuine synthesis failure. Both close when the stream is over.
type Synthesizer interface {
	Stream(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// VoiceLister is implemented by engines whose voice catalog can be
// enumerated. Catalogs may populate asynchronously after construction.
type VoiceLister interface {
	Voices() []Voice
	VoicesLoaded() bool
}

// Sink receives synthesized audio chunks. Write delivers one chunk, Flush
// marks the natural end of an utterance, Reset discards anything buffered
// after an interruption.
type Sink interface {
	Write(pcm []byte) error
	Flush() error
	Reset()
}

// DiscardSink drops all audio. Used when no client is attached.
type DiscardSink struct{}

func (DiscardSink) Write([]byte) error { return nil }
func (DiscardSink) Flush() error       { return nil }
func (DiscardSink) Reset()             {}

// Player runs one utterance at a time. Speak returns a completion channel
// that resolves nil on natural end AND on intentional interruption; it
// carries an error only for a genuine synthesis failure. Starting a new
// utterance interrupts the previous one.
type Player struct {
	synth  Synthesizer
	logger *logrus.Entry

	mu       sync.Mutex
	sink     Sink
	speaking bool
	cancel   context.CancelFunc
	epoch    uint64
}

// NewPlayer wires a synthesis engine to an audio sink.
func NewPlayer(synth Synthesizer, sink Sink) *Player {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &Player{
		synth:  synth,
		sink:   sink,
		logger: log.Component("playback"),
	}
}

// SetSink swaps the audio destination, e.g. when a client reconnects.
func (p *Player) SetSink(sink Sink) {
	if sink == nil {
		sink = DiscardSink{}
	}
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// Speaking reports whether an utterance is currently in flight.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// VoicesLoaded reports whether the engine's voice catalog is ready. Engines
// without a catalog are always ready.
func (p *Player) VoicesLoaded() bool {
	if vl, ok := p.synth.(VoiceLister); ok {
		return vl.VoicesLoaded()
	}
	return true
}

// Speak starts synthesizing and playing text. The returned channel receives
// exactly one value: nil on natural completion or interruption, an error on
// synthesis failure.
func (p *Player) Speak(ctx context.Context, text string) <-chan error {
	done := make(chan error, 1)
	if text == "" {
		done <- nil
		return done
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	sctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.speaking = true
	p.epoch++
	epoch := p.epoch
	sink := p.sink
	p.mu.Unlock()

	go p.stream(sctx, cancel, epoch, text, sink, done)
	return done
}

// Stop halts any in-progress utterance. Idempotent when nothing is speaking.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.speaking = false
	sink := p.sink
	p.mu.Unlock()
	sink.Reset()
}

func (p *Player) stream(ctx context.Context, cancel context.CancelFunc, epoch uint64, text string, sink Sink, done chan<- error) {
	defer p.finish(cancel, epoch)

	pcmCh, errCh := p.synth.Stream(ctx, text)
	for {
		select {
		case <-ctx.Done():
			sink.Reset()
			done <- nil
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				done <- nil
				return
			}
			p.logger.WithError(err).Error("synthesis failed")
			done <- err
			return
		case chunk, ok := <-pcmCh:
			if !ok {
				if err := sink.Flush(); err != nil {
					p.logger.WithError(err).Warn("sink flush failed")
				}
				done <- nil
				return
			}
			if err := sink.Write(chunk); err != nil {
				// A vanished client is not a synthesis failure.
				p.logger.WithError(err).Warn("sink write failed, ending utterance")
				done <- nil
				return
			}
		}
	}
}

// finish releases the utterance's context and clears the speaking flag,
// unless a newer utterance has already taken over.
func (p *Player) finish(cancel context.CancelFunc, epoch uint64) {
	cancel()
	p.mu.Lock()
	if p.epoch == epoch {
		p.speaking = false
		p.cancel = nil
	}
	p.mu.Unlock()
}
