package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spamforflo-arch/jarvis-and-baymax/internal/permission"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/voice"
)

type fakeControls struct {
	taps        int32
	stops       int32
	foregrounds int32
	mu          sync.Mutex
	lastMuted   *bool
}

func (f *fakeControls) Tap()     { atomic.AddInt32(&f.taps, 1) }
func (f *fakeControls) StopAll() { atomic.AddInt32(&f.stops, 1) }
func (f *fakeControls) SetMuted(m bool) {
	f.mu.Lock()
	f.lastMuted = &m
	f.mu.Unlock()
}
func (f *fakeControls) OnForeground() { atomic.AddInt32(&f.foregrounds, 1) }

type fakeFeeder struct {
	mu  sync.Mutex
	buf []byte
}

func (f *fakeFeeder) FeedPCM16(pcm []byte) {
	f.mu.Lock()
	f.buf = append(f.buf, pcm...)
	f.mu.Unlock()
}

func newTestServer(t *testing.T, password string) (*Server, *Hub, *fakeControls, *fakeFeeder, string, func()) {
	t.Helper()
	hub := NewHub()
	controls := &fakeControls{}
	feeder := &fakeFeeder{}
	srv := NewServer(hub, controls, feeder, password)
	ts := httptest.NewServer(srv.echo)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/session"
	return srv, hub, controls, feeder, wsURL, ts.Close
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestServer_EventsReachControls(t *testing.T) {
	_, _, controls, feeder, url, closeFn := newTestServer(t, "")
	defer closeFn()

	conn := dial(t, url, nil)
	defer conn.Close()

	for _, msg := range []string{
		`{"type":"tap"}`,
		`{"type":"mute","muted":true}`,
		`{"type":"stop"}`,
		`{"type":"foreground"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	waitCond(t, func() bool {
		feeder.mu.Lock()
		fed := len(feeder.buf)
		feeder.mu.Unlock()
		return atomic.LoadInt32(&controls.taps) == 1 &&
			atomic.LoadInt32(&controls.stops) == 1 &&
			atomic.LoadInt32(&controls.foregrounds) == 1 &&
			fed == 4
	})
	controls.mu.Lock()
	defer controls.mu.Unlock()
	if controls.lastMuted == nil || !*controls.lastMuted {
		t.Fatalf("expected mute event delivered")
	}
}

func TestServer_BearerAuthAccepted(t *testing.T) {
	_, _, controls, _, url, closeFn := newTestServer(t, "secret")
	defer closeFn()

	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	conn := dial(t, url, h)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tap"}`))
	waitCond(t, func() bool { return atomic.LoadInt32(&controls.taps) == 1 })
}

func TestServer_AuthFrameFallback(t *testing.T) {
	_, _, controls, _, url, closeFn := newTestServer(t, "secret")
	defer closeFn()

	conn := dial(t, url, nil)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","password":"secret"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tap"}`))
	waitCond(t, func() bool { return atomic.LoadInt32(&controls.taps) == 1 })
}

func TestServer_BadPasswordRejected(t *testing.T) {
	_, _, controls, _, url, closeFn := newTestServer(t, "secret")
	defer closeFn()

	conn := dial(t, url, nil)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","password":"wrong"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tap"}`))
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&controls.taps) != 0 {
		t.Fatalf("unauthorized session must not reach controls")
	}
}

func TestHub_StateBroadcast(t *testing.T) {
	hub, _, _, url, closeFn := hubAndClient(t)
	defer closeFn()

	conn := dial(t, url, nil)
	defer conn.Close()

	waitCond(t, func() bool { return hub.Supported() })
	hub.PublishState(voice.Snapshot{Phase: voice.PhaseListening, Transcript: "set a timer"})

	var sawState, sawTranscript bool
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !(sawState && sawTranscript) {
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var ev serverEvent
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		switch ev.Type {
		case "state":
			if ev.Phase == "listening" {
				sawState = true
			}
		case "transcript":
			if ev.Text == "set a timer" {
				sawTranscript = true
			}
		}
	}
	if !sawState || !sawTranscript {
		t.Fatalf("expected state and transcript events, got state=%v transcript=%v", sawState, sawTranscript)
	}
}

func TestHub_PermissionRoundTrip(t *testing.T) {
	hub, _, _, url, closeFn := hubAndClient(t)
	defer closeFn()

	conn := dial(t, url, nil)
	defer conn.Close()
	waitCond(t, func() bool { return hub.Supported() })

	// The client side answers every permission-request affirmatively.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev serverEvent
			if json.Unmarshal(data, &ev) != nil {
				continue
			}
			if ev.Type == "permission-request" {
				conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"permission-result","id":"`+ev.ID+`","granted":true}`))
			}
			if ev.Type == "permission-query" {
				conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"permission-result","id":"`+ev.ID+`","microphone":"granted","notifications":"prompt"}`))
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	granted, err := hub.Request(ctx, permission.Microphone)
	if err != nil || !granted {
		t.Fatalf("expected granted request, got %v %v", granted, err)
	}
	snap, err := hub.Query(ctx)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if snap.Microphone != permission.Granted || snap.Notifications != permission.Prompt {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestHub_NoClientMeansUnsupported(t *testing.T) {
	hub := NewHub()
	if hub.Supported() {
		t.Fatalf("hub without client must be unsupported")
	}
	if _, err := hub.Query(context.Background()); err != permission.ErrNotSupported {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
	if err := hub.Write([]byte{1, 2}); err != nil {
		t.Fatalf("audio without client must be discarded silently, got %v", err)
	}
}

func hubAndClient(t *testing.T) (*Hub, *fakeControls, *fakeFeeder, string, func()) {
	t.Helper()
	_, hub, controls, feeder, url, closeFn := newTestServer(t, "")
	return hub, controls, feeder, url, closeFn
}
