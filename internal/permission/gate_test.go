package permission

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeBridge struct {
	mu        sync.Mutex
	supported bool
	snap      Snapshot
	grants    map[Kind]bool
	requests  []Kind
	reqTimes  []time.Time
}

func (f *fakeBridge) Supported() bool { return f.supported }

func (f *fakeBridge) Query(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, nil
}

func (f *fakeBridge) Request(ctx context.Context, kind Kind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, kind)
	f.reqTimes = append(f.reqTimes, time.Now())
	return f.grants[kind], nil
}

func TestGate_NotSupported(t *testing.T) {
	g := NewGate(&fakeBridge{supported: false}, time.Millisecond)
	if _, err := g.RequestAll(context.Background()); err != ErrNotSupported {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
	snap := g.Status(context.Background())
	if snap.Microphone != Unknown {
		t.Fatalf("expected unknown microphone status, got %s", snap.Microphone)
	}
}

func TestGate_RequestsMicrophoneFirstWithGap(t *testing.T) {
	b := &fakeBridge{
		supported: true,
		snap:      Snapshot{Microphone: Prompt, Notifications: Prompt},
		grants:    map[Kind]bool{Microphone: true, Notifications: true},
	}
	gap := 30 * time.Millisecond
	g := NewGate(b, gap)

	res, err := g.RequestAll(context.Background())
	if err != nil {
		t.Fatalf("request all: %v", err)
	}
	if !res.Microphone || !res.Notifications {
		t.Fatalf("expected both granted, got %+v", res)
	}
	if len(b.requests) != 2 || b.requests[0] != Microphone || b.requests[1] != Notifications {
		t.Fatalf("unexpected request order: %v", b.requests)
	}
	if delta := b.reqTimes[1].Sub(b.reqTimes[0]); delta < gap {
		t.Fatalf("expected at least %v between prompts, got %v", gap, delta)
	}
}

func TestGate_SkipsAlreadyGranted(t *testing.T) {
	b := &fakeBridge{
		supported: true,
		snap:      Snapshot{Microphone: Granted, Notifications: Prompt},
		grants:    map[Kind]bool{Notifications: true},
	}
	g := NewGate(b, time.Millisecond)
	res, err := g.RequestAll(context.Background())
	if err != nil {
		t.Fatalf("request all: %v", err)
	}
	if !res.Microphone {
		t.Fatalf("expected microphone granted from status")
	}
	if len(b.requests) != 1 || b.requests[0] != Notifications {
		t.Fatalf("expected only notification prompt, got %v", b.requests)
	}
}

func TestGate_DeniedMicrophoneStillAsksNotifications(t *testing.T) {
	b := &fakeBridge{
		supported: true,
		snap:      Snapshot{Microphone: Prompt, Notifications: Prompt},
		grants:    map[Kind]bool{Microphone: false, Notifications: true},
	}
	g := NewGate(b, time.Millisecond)
	res, err := g.RequestAll(context.Background())
	if err != nil {
		t.Fatalf("request all: %v", err)
	}
	if res.Microphone {
		t.Fatalf("expected microphone denied")
	}
	if !res.Notifications {
		t.Fatalf("expected notifications granted")
	}
}

func TestGate_RefreshPicksUpExternalChange(t *testing.T) {
	b := &fakeBridge{supported: true, snap: Snapshot{Microphone: Denied, Notifications: Denied}}
	g := NewGate(b, time.Millisecond)
	if g.MicrophoneGranted(context.Background()) {
		t.Fatalf("expected microphone not granted")
	}
	b.mu.Lock()
	b.snap.Microphone = Granted
	b.mu.Unlock()
	if snap := g.Refresh(context.Background()); snap.Microphone != Granted {
		t.Fatalf("expected refreshed granted status, got %s", snap.Microphone)
	}
}
