package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/internal/permission"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/voice"
	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// permissionTimeout bounds how long a platform prompt may stay unanswered.
const permissionTimeout = 30 * time.Second

// Hub is the rendezvous between the voice core and the single connected
// client. It implements permission.Bridge (permission prompts travel over
// the socket to the hybrid app) and playback.Sink (synthesized audio
// travels back as binary frames). With no client attached, permissions are
// unsupported and audio is discarded.
type Hub struct {
	logger *logrus.Entry

	mu       sync.Mutex
	active   *session
	pending  map[string]chan permissionAnswer
	last     voice.Snapshot
	haveLast bool
}

type permissionAnswer struct {
	granted bool
	snap    permission.Snapshot
	isSnap  bool
}

func NewHub() *Hub {
	return &Hub{
		logger:  log.Component("gateway"),
		pending: make(map[string]chan permissionAnswer),
	}
}

// attach makes s the active session, displacing any previous one.
func (h *Hub) attach(s *session) {
	h.mu.Lock()
	prev := h.active
	h.active = s
	snap, have := h.last, h.haveLast
	h.mu.Unlock()
	if prev != nil {
		prev.close("superseded by a new connection")
	}
	if have {
		s.sendJSON(stateEvent(snap))
	}
}

func (h *Hub) detach(s *session) {
	h.mu.Lock()
	if h.active == s {
		h.active = nil
	}
	h.mu.Unlock()
}

func (h *Hub) activeSession() *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// PublishState pushes a state transition to the client, with dedicated
// transcript/response events when those fields change.
func (h *Hub) PublishState(snap voice.Snapshot) {
	h.mu.Lock()
	s := h.active
	prev, have := h.last, h.haveLast
	h.last = snap
	h.haveLast = true
	h.mu.Unlock()
	if s == nil {
		return
	}
	s.sendJSON(stateEvent(snap))
	if snap.Transcript != "" && (!have || snap.Transcript != prev.Transcript) {
		s.sendJSON(serverEvent{Type: "transcript", Text: snap.Transcript})
	}
	if snap.LastResponse != "" && (!have || snap.LastResponse != prev.LastResponse) {
		s.sendJSON(serverEvent{Type: "response", Text: snap.LastResponse})
	}
}

func stateEvent(snap voice.Snapshot) serverEvent {
	muted := snap.Muted
	return serverEvent{
		Type:   "state",
		Phase:  snap.Phase.String(),
		Muted:  &muted,
		Text:   snap.Transcript,
		Notice: snap.Notice,
	}
}

// Supported reports whether a client is attached. permission.Bridge.
func (h *Hub) Supported() bool {
	return h.activeSession() != nil
}

// Query asks the client for the current permission snapshot.
func (h *Hub) Query(ctx context.Context) (permission.Snapshot, error) {
	ans, err := h.ask(ctx, serverEvent{Type: "permission-query"})
	if err != nil {
		return permission.Snapshot{}, err
	}
	if !ans.isSnap {
		return permission.Snapshot{}, fmt.Errorf("gateway: permission answer missing statuses")
	}
	return ans.snap, nil
}

// Request asks the client to show the platform prompt for one capability.
func (h *Hub) Request(ctx context.Context, kind permission.Kind) (bool, error) {
	ans, err := h.ask(ctx, serverEvent{Type: "permission-request", Kind: string(kind)})
	if err != nil {
		return false, err
	}
	return ans.granted, nil
}

func (h *Hub) ask(ctx context.Context, ev serverEvent) (permissionAnswer, error) {
	h.mu.Lock()
	s := h.active
	if s == nil {
		h.mu.Unlock()
		return permissionAnswer{}, permission.ErrNotSupported
	}
	id := uuid.NewString()
	ch := make(chan permissionAnswer, 1)
	h.pending[id] = ch
	h.mu.Unlock()

	ev.ID = id
	if err := s.sendJSON(ev); err != nil {
		h.dropPending(id)
		return permissionAnswer{}, err
	}

	select {
	case ans := <-ch:
		return ans, nil
	case <-ctx.Done():
		h.dropPending(id)
		return permissionAnswer{}, ctx.Err()
	case <-time.After(permissionTimeout):
		h.dropPending(id)
		return permissionAnswer{}, fmt.Errorf("gateway: permission prompt timed out")
	}
}

func (h *Hub) dropPending(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// resolvePermission completes a pending prompt when the client answers.
func (h *Hub) resolvePermission(id string, ans permissionAnswer) {
	h.mu.Lock()
	ch, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if !ok {
		h.logger.WithField("id", id).Debug("permission answer for unknown prompt")
		return
	}
	ch <- ans
}

// Write sends one synthesized audio chunk to the client. playback.Sink.
// Audio with no client attached is discarded, not an error.
func (h *Hub) Write(pcm []byte) error {
	s := h.activeSession()
	if s == nil {
		return nil
	}
	return s.sendBinary(pcm)
}

// Flush marks the natural end of an utterance so the client can drain its
// audio queue.
func (h *Hub) Flush() error {
	if s := h.activeSession(); s != nil {
		return s.sendJSON(serverEvent{Type: "speak-end"})
	}
	return nil
}

// Reset tells the client to discard buffered audio after an interruption.
func (h *Hub) Reset() {
	if s := h.activeSession(); s != nil {
		s.sendJSON(serverEvent{Type: "speak-reset"})
	}
}
