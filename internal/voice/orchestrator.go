package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/internal/capture"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/permission"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/store"
	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// Capture is the orchestrator's view of the speech capture subsystem.
type Capture interface {
	StartUtterance() error
	StartWakeLoop() error
	Stop()
}

// Speaker is the orchestrator's view of speech playback. Speak's channel
// resolves nil on natural completion and on interruption, and carries an
// error only for genuine synthesis failure.
type Speaker interface {
	Speak(ctx context.Context, text string) <-chan error
	Stop()
	VoicesLoaded() bool
}

// Responder resolves a finalized transcript to spoken text. On failure it
// may return fallback text alongside the error.
type Responder interface {
	Respond(ctx context.Context, transcript string, recent []store.Entry) (string, error)
}

// Permissions is the orchestrator's view of the platform permission gate.
type Permissions interface {
	MicrophoneGranted(ctx context.Context) bool
	RequestAll(ctx context.Context) (permission.Result, error)
	Refresh(ctx context.Context) permission.Snapshot
}

// Options wires an Orchestrator's collaborators and tunables.
type Options struct {
	Capture     Capture
	Speaker     Speaker
	Responder   Responder
	Permissions Permissions
	Store       store.Store

	// ContextWindow bounds how many recent entries go to the responder.
	ContextWindow int
	// ErrorRecovery is the fixed delay before an Error phase returns to Idle.
	ErrorRecovery time.Duration
	// WakeEnabled re-arms background wake listening whenever the session
	// returns to Idle with microphone permission granted.
	WakeEnabled bool
	// OnChange observes every state transition. Optional.
	OnChange func(Snapshot)
}

// Orchestrator is the voice-mode state machine. It owns the session state
// exclusively: collaborators report in through the On* methods and never
// mutate state themselves. Every asynchronous completion carries the
// generation current when it started; completions whose generation is stale
// are discarded without touching the phase.
type Orchestrator struct {
	capture       Capture
	speaker       Speaker
	responder     Responder
	perms         Permissions
	store         store.Store
	contextWindow int
	errorRecovery time.Duration
	wakeEnabled   bool
	onChange      func(Snapshot)
	logger        *logrus.Entry

	mu           sync.Mutex
	phase        Phase
	muted        bool
	transcript   string
	lastResponse string
	notice       string
	gen          uint64
	cancel       context.CancelFunc

	notifyMu sync.Mutex
}

// NewOrchestrator builds an idle session.
func NewOrchestrator(opts Options) *Orchestrator {
	cw := opts.ContextWindow
	if cw <= 0 {
		cw = 16
	}
	recovery := opts.ErrorRecovery
	if recovery <= 0 {
		recovery = 3 * time.Second
	}
	return &Orchestrator{
		capture:       opts.Capture,
		speaker:       opts.Speaker,
		responder:     opts.Responder,
		perms:         opts.Permissions,
		store:         opts.Store,
		contextWindow: cw,
		errorRecovery: recovery,
		wakeEnabled:   opts.WakeEnabled,
		onChange:      opts.OnChange,
		logger:        log.Component("voice"),
		phase:         PhaseIdle,
	}
}

// State returns the current snapshot.
func (o *Orchestrator) State() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Start arms the background wake loop if configured and permitted.
func (o *Orchestrator) Start() {
	o.rearmWake()
}

// Tap is the user's primary control: it starts listening from Idle, toggles
// listening off, and cancels thinking or speaking.
func (o *Orchestrator) Tap() {
	o.mu.Lock()
	switch o.phase {
	case PhaseIdle:
		o.mu.Unlock()
		o.beginListening()
		return
	case PhaseAwaitingPermission:
		gen := o.gen
		o.mu.Unlock()
		go o.requestPermissions(gen)
		return
	case PhaseListening:
		o.invalidateLocked()
		o.phase = PhaseIdle
		o.transcript = ""
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.capture.Stop()
		o.publish(snap)
		o.rearmWake()
		return
	case PhaseThinking, PhaseSpeaking:
		o.stopTurnLocked()
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.speaker.Stop()
		o.publish(snap)
		o.rearmWake()
		return
	default: // Error recovers on its own timer
		o.mu.Unlock()
	}
}

// Wake handles an accepted wake-word trigger. Only an idle session reacts;
// a session already mid-turn ignores it.
func (o *Orchestrator) Wake(phrase string) {
	o.mu.Lock()
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.logger.WithField("phrase", phrase).Info("wake word accepted")
	o.beginListening()
}

// beginListening checks permission and enters Listening or
// AwaitingPermission.
func (o *Orchestrator) beginListening() {
	granted := o.perms.MicrophoneGranted(context.Background())

	o.mu.Lock()
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		return
	}
	if !granted {
		o.phase = PhaseAwaitingPermission
		o.notice = ""
		gen := o.gen
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.publish(snap)
		go o.requestPermissions(gen)
		return
	}
	o.invalidateLocked()
	myGen := o.gen
	o.phase = PhaseListening
	o.transcript = ""
	o.notice = ""
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.publish(snap)

	if err := o.capture.StartUtterance(); err != nil {
		o.mu.Lock()
		if o.gen != myGen {
			o.mu.Unlock()
			return
		}
		o.enterErrorLocked("Couldn't start listening.")
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.publish(snap)
	}
}

func (o *Orchestrator) requestPermissions(gen uint64) {
	res, err := o.perms.RequestAll(context.Background())

	o.mu.Lock()
	if o.gen != gen || o.phase != PhaseAwaitingPermission {
		o.mu.Unlock()
		return
	}
	if err != nil || !res.Microphone {
		// Stays in AwaitingPermission; re-grant is an explicit user flow.
		o.notice = "Microphone access is needed for voice mode."
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.publish(snap)
		return
	}
	o.phase = PhaseIdle
	o.notice = ""
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.publish(snap)
	o.rearmWake()
}

// OnInterim receives live transcript text during Listening.
func (o *Orchestrator) OnInterim(text string) {
	o.mu.Lock()
	if o.phase != PhaseListening {
		o.mu.Unlock()
		return
	}
	o.transcript = text
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.publish(snap)
}

// OnFinal receives the finalized transcript and moves the turn to Thinking.
func (o *Orchestrator) OnFinal(text string) {
	o.mu.Lock()
	if o.phase != PhaseListening {
		o.mu.Unlock()
		return
	}
	o.invalidateLocked()
	myGen := o.gen
	o.phase = PhaseThinking
	o.transcript = ""
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.capture.Stop()
	o.publish(snap)
	go o.think(ctx, myGen, text)
}

// OnCaptureError receives failures from an explicit listening session.
func (o *Orchestrator) OnCaptureError(err error) {
	o.mu.Lock()
	if o.phase != PhaseListening {
		o.mu.Unlock()
		return
	}
	o.invalidateLocked()
	o.transcript = ""
	switch {
	case errors.Is(err, capture.ErrNoSpeech):
		o.enterErrorLocked("I didn't hear anything.")
	case errors.Is(err, capture.ErrPermissionDenied):
		o.enterErrorLocked("Microphone access was denied.")
	default:
		o.enterErrorLocked("Something went wrong while listening.")
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.capture.Stop()
	o.publish(snap)
	o.logger.WithError(err).Warn("capture session failed")
}

// think runs one responder turn. The generation captured at start gates
// every mutation so a cancelled turn's completion is a no-op.
func (o *Orchestrator) think(ctx context.Context, gen uint64, transcript string) {
	if err := o.store.Append(ctx, store.Entry{
		Role:      store.RoleUser,
		Content:   transcript,
		Timestamp: time.Now(),
	}); err != nil {
		o.logger.WithError(err).Warn("append user entry failed")
	}

	recent, err := o.store.Recent(ctx, o.contextWindow)
	if err != nil {
		o.logger.WithError(err).Warn("context read failed, continuing without history")
		recent = nil
	}

	reply, rerr := o.responder.Respond(ctx, transcript, recent)

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	if rerr != nil {
		if errors.Is(rerr, context.Canceled) {
			o.mu.Unlock()
			return
		}
		o.enterErrorLocked("Couldn't reach the assistant.")
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.publish(snap)
		if reply != "" {
			// Fallback utterance is spoken, not just displayed. Its
			// completion is irrelevant to the phase machine.
			go func() { <-o.speaker.Speak(context.Background(), reply) }()
		}
		return
	}

	o.lastResponse = reply
	if o.muted {
		o.phase = PhaseIdle
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.appendAssistant(reply)
		o.publish(snap)
		o.rearmWake()
		return
	}
	o.phase = PhaseSpeaking
	sctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.appendAssistant(reply)
	o.publish(snap)
	go o.speak(sctx, gen, reply)
}

func (o *Orchestrator) appendAssistant(text string) {
	if err := o.store.Append(context.Background(), store.Entry{
		Role:      store.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
	}); err != nil {
		o.logger.WithError(err).Warn("append assistant entry failed")
	}
}

// speak plays one utterance and returns the session to Idle when it ends.
func (o *Orchestrator) speak(ctx context.Context, gen uint64, text string) {
	if !o.speaker.VoicesLoaded() {
		o.logger.Warn("voice catalog not ready, using default voice")
	}
	err := <-o.speaker.Speak(ctx, text)

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	if err != nil {
		o.enterErrorLocked("Speech playback failed.")
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.publish(snap)
		return
	}
	o.phase = PhaseIdle
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.publish(snap)
	o.rearmWake()
}

// SetMuted updates the mute preference. Muting during Speaking cancels the
// utterance immediately and returns to Idle; it never merely suppresses
// future speech.
func (o *Orchestrator) SetMuted(muted bool) {
	o.mu.Lock()
	o.muted = muted
	if muted && o.phase == PhaseSpeaking {
		o.stopTurnLocked()
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.speaker.Stop()
		o.publish(snap)
		o.rearmWake()
		return
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.publish(snap)
}

// Muted reports the mute preference.
func (o *Orchestrator) Muted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

// StopAll is the hard stop: cancel capture and playback, invalidate the
// generation, and force Idle without waiting for cancelled callbacks.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	o.stopTurnLocked()
	o.transcript = ""
	o.notice = ""
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.capture.Stop()
	o.speaker.Stop()
	o.publish(snap)
	o.rearmWake()
}

// stopTurnLocked invalidates the in-flight turn and forces Idle. Callers
// stop the speaker after releasing the lock: halting audio is I/O and may
// block on a slow sink, and the state mutex must never wait on that.
func (o *Orchestrator) stopTurnLocked() {
	o.invalidateLocked()
	o.phase = PhaseIdle
}

// invalidateLocked bumps the generation and cancels the in-flight context.
func (o *Orchestrator) invalidateLocked() {
	o.gen++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// OnForeground re-evaluates permission state after the app regains focus,
// since it may have changed in external settings.
func (o *Orchestrator) OnForeground() {
	snap := o.perms.Refresh(context.Background())

	o.mu.Lock()
	if o.phase == PhaseAwaitingPermission && snap.Microphone == permission.Granted {
		o.phase = PhaseIdle
		o.notice = ""
		s := o.snapshotLocked()
		o.mu.Unlock()
		o.publish(s)
		o.rearmWake()
		return
	}
	o.mu.Unlock()
	if o.State().Phase == PhaseIdle {
		o.rearmWake()
	}
}

func (o *Orchestrator) enterErrorLocked(notice string) {
	o.phase = PhaseError
	o.notice = notice
	gen := o.gen
	time.AfterFunc(o.errorRecovery, func() { o.recoverFromError(gen) })
}

func (o *Orchestrator) recoverFromError(gen uint64) {
	o.mu.Lock()
	if o.gen != gen || o.phase != PhaseError {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseIdle
	o.notice = ""
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.publish(snap)
	o.rearmWake()
}

// rearmWake resumes background wake listening when configured and allowed.
func (o *Orchestrator) rearmWake() {
	if !o.wakeEnabled {
		return
	}
	go func() {
		if !o.perms.MicrophoneGranted(context.Background()) {
			return
		}
		o.mu.Lock()
		idle := o.phase == PhaseIdle
		o.mu.Unlock()
		if !idle {
			return
		}
		if err := o.capture.StartWakeLoop(); err != nil {
			o.logger.WithError(err).Warn("wake loop re-arm failed")
		}
	}()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:        o.phase,
		Muted:        o.muted,
		Transcript:   o.transcript,
		LastResponse: o.lastResponse,
		Notice:       o.notice,
		Gen:          o.gen,
	}
}

func (o *Orchestrator) publish(snap Snapshot) {
	if o.onChange == nil {
		return
	}
	o.notifyMu.Lock()
	o.onChange(snap)
	o.notifyMu.Unlock()
}
