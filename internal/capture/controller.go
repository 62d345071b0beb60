package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// Mode of the controller. Background wake listening and explicit
// foreground sessions are mutually exclusive: starting one stops the other.
type Mode int

const (
	ModeOff Mode = iota
	// ModeWake is the always-listening loop scanning for wake phrases.
	ModeWake
	// ModeSession is an explicit user-triggered listening session.
	ModeSession
)

// Hooks are the controller's upward notifications for explicit sessions.
// Wake triggers are delivered through the WakeDetector's own callback.
// All callbacks may be nil.
type Hooks struct {
	OnInterim func(text string)
	OnFinal   func(text string)
	OnError   func(err error)
}

// Controller owns the capture engine lifecycle: it multiplexes the engine
// between wake listening and explicit sessions, restarts continuous capture
// when the engine ends unexpectedly, and routes transcripts upward.
// A single pump goroutine consumes the engine's event channel for the
// controller's whole lifetime, so session changeovers cannot lose events
// to a stale reader.
type Controller struct {
	engine Engine
	wake   *WakeDetector
	hooks  Hooks
	logger *logrus.Entry

	mu       sync.Mutex
	mode     Mode
	stopping bool
	sawFinal bool
	cancel   context.CancelFunc
}

// NewController wires an engine and a wake detector and starts the pump.
func NewController(engine Engine, wake *WakeDetector, hooks Hooks) *Controller {
	c := &Controller{
		engine: engine,
		wake:   wake,
		hooks:  hooks,
		logger: log.Component("capture"),
	}
	go c.run()
	return c
}

// CurrentMode reports the controller's mode.
func (c *Controller) CurrentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// StartUtterance begins an explicit single-shot listening session,
// stopping the wake loop first if it is running.
func (c *Controller) StartUtterance() error {
	return c.start(ModeSession, false)
}

// StartWakeLoop begins background continuous listening for wake phrases.
// It is a no-op while an explicit session is active.
func (c *Controller) StartWakeLoop() error {
	c.mu.Lock()
	if c.mode == ModeSession {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.start(ModeWake, true)
}

func (c *Controller) start(mode Mode, continuous bool) error {
	c.mu.Lock()
	c.stopping = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.engine.Stop()
	c.drainPending()

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.cancel = cancel
	c.mode = mode
	c.stopping = false
	c.sawFinal = false
	c.mu.Unlock()

	// A fresh wake pass starts a fresh utterance; the detector's latch from
	// a trigger that handed the engine to a session must not carry over.
	if mode == ModeWake && c.wake != nil {
		c.wake.Reset()
	}

	if err := c.engine.Start(ctx, continuous); err != nil {
		c.mu.Lock()
		c.mode = ModeOff
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		return err
	}
	return nil
}

// Stop ends whatever the controller is doing. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopping = true
	c.mode = ModeOff
	c.sawFinal = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.engine.Stop()
}

// FeedPCM16 relays microphone audio to the engine when it accepts audio.
func (c *Controller) FeedPCM16(pcm []byte) {
	if feeder, ok := c.engine.(AudioFeeder); ok {
		_ = feeder.FeedPCM16(pcm)
	}
}

// drainPending discards events queued by a session that was just stopped,
// so an old end-of-session marker cannot masquerade as a new one.
func (c *Controller) drainPending() {
	for {
		select {
		case <-c.engine.Events():
		default:
			return
		}
	}
}

func (c *Controller) run() {
	for ev := range c.engine.Events() {
		c.handle(ev)
	}
}

func (c *Controller) handle(ev Event) {
	c.mu.Lock()
	mode := c.mode
	stopping := c.stopping
	c.mu.Unlock()

	if stopping || mode == ModeOff {
		return
	}

	switch ev.Kind {
	case EventInterim:
		if mode == ModeWake {
			if c.wake != nil {
				c.wake.Scan(ev.Text)
			}
			return
		}
		if c.hooks.OnInterim != nil {
			c.hooks.OnInterim(ev.Text)
		}
	case EventFinal:
		if mode == ModeWake {
			if c.wake != nil {
				c.wake.Scan(ev.Text)
				c.wake.EndUtterance()
			}
			return
		}
		c.mu.Lock()
		c.sawFinal = true
		c.mu.Unlock()
		if c.hooks.OnFinal != nil {
			c.hooks.OnFinal(ev.Text)
		}
	case EventError:
		c.handleError(mode, ev.Err)
	case EventEnd:
		c.handleEnd(mode)
	}
}

func (c *Controller) handleError(mode Mode, err error) {
	if errors.Is(err, ErrNoSpeech) && mode == ModeWake {
		// Silent retry territory for the background loop.
		c.logger.Debug("no speech detected, continuing")
		return
	}
	if mode == ModeSession {
		if c.hooks.OnError != nil {
			c.hooks.OnError(err)
		}
		return
	}
	// Background loop failures never surface to the user.
	c.logger.WithError(err).Warn("wake loop capture error")
}

// handleEnd reacts to an unexpected end-of-session. The wake loop is
// continuous and restarts; a single-shot session that produced no final
// transcript is reported as no-speech.
func (c *Controller) handleEnd(mode Mode) {
	c.mu.Lock()
	sawFinal := c.sawFinal
	cancel := c.cancel
	if mode == ModeSession {
		c.mode = ModeOff
		c.cancel = nil
	}
	c.mu.Unlock()

	if mode == ModeWake {
		if c.wake != nil {
			c.wake.Reset()
		}
		if err := c.engine.Start(context.Background(), true); err != nil {
			c.logger.WithError(err).Warn("continuous capture restart failed")
			c.mu.Lock()
			c.mode = ModeOff
			c.mu.Unlock()
		}
		return
	}

	if cancel != nil {
		cancel()
	}
	if !sawFinal && c.hooks.OnError != nil {
		c.hooks.OnError(ErrNoSpeech)
	}
}
