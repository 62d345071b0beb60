package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/internal/permission"
)

const writeTimeout = 5 * time.Second

// clientEvent is a JSON frame from the hybrid app.
// Types: "auth", "tap", "mute", "stop", "permission-result", "foreground".
type clientEvent struct {
	Type     string `json:"type"`
	Password string `json:"password,omitempty"`
	Muted    bool   `json:"muted,omitempty"`
	// permission-result
	ID            string `json:"id,omitempty"`
	Granted       *bool  `json:"granted,omitempty"`
	Microphone    string `json:"microphone,omitempty"`
	Notifications string `json:"notifications,omitempty"`
}

// serverEvent is a JSON frame to the client. Binary frames carry audio.
type serverEvent struct {
	Type    string `json:"type"`
	Phase   string `json:"phase,omitempty"`
	Muted   *bool  `json:"muted,omitempty"`
	Text    string `json:"text,omitempty"`
	Notice  string `json:"notice,omitempty"`
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// Controls is what the session drives on behalf of the user.
type Controls interface {
	Tap()
	SetMuted(muted bool)
	StopAll()
	OnForeground()
}

// AudioFeeder accepts microphone PCM16LE frames from the client.
type AudioFeeder interface {
	FeedPCM16(pcm []byte)
}

type session struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	controls Controls
	feeder   AudioFeeder
	logger   *logrus.Entry

	writeMu sync.Mutex
	once    sync.Once
}

// readLoop dispatches client frames until the connection drops.
func (s *session) readLoop() {
	defer s.hub.detach(s)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.WithError(err).Debug("session closed")
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if s.feeder != nil {
				s.feeder.FeedPCM16(data)
			}
		case websocket.TextMessage:
			var ev clientEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				s.sendJSON(serverEvent{Type: "error", Message: "malformed event"})
				continue
			}
			s.dispatch(ev)
		}
	}
}

func (s *session) dispatch(ev clientEvent) {
	switch strings.ToLower(ev.Type) {
	case "tap":
		s.controls.Tap()
	case "mute":
		s.controls.SetMuted(ev.Muted)
	case "stop":
		s.controls.StopAll()
	case "foreground":
		s.controls.OnForeground()
	case "permission-result":
		s.hub.resolvePermission(ev.ID, permissionAnswerFrom(ev))
	default:
		s.logger.WithField("type", ev.Type).Debug("unknown client event")
	}
}

func permissionAnswerFrom(ev clientEvent) permissionAnswer {
	ans := permissionAnswer{}
	if ev.Granted != nil {
		ans.granted = *ev.Granted
	}
	if ev.Microphone != "" || ev.Notifications != "" {
		ans.isSnap = true
		ans.snap = permission.Snapshot{
			Microphone:    statusOrUnknown(ev.Microphone),
			Notifications: statusOrUnknown(ev.Notifications),
		}
	}
	return ans
}

func statusOrUnknown(s string) permission.Status {
	switch permission.Status(strings.ToLower(s)) {
	case permission.Granted:
		return permission.Granted
	case permission.Denied:
		return permission.Denied
	case permission.Prompt:
		return permission.Prompt
	}
	return permission.Unknown
}

func (s *session) sendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *session) sendBinary(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (s *session) close(reason string) {
	s.once.Do(func() {
		s.sendJSON(serverEvent{Type: "error", Message: reason})
		s.conn.Close()
	})
}
