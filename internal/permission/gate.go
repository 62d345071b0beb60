package permission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// Status of a single capability as reported by the platform.
type Status string

const (
	Granted Status = "granted"
	Denied  Status = "denied"
	Prompt  Status = "prompt"
	Unknown Status = "unknown"
)

// Kind names a requestable capability.
type Kind string

const (
	Microphone    Kind = "microphone"
	Notifications Kind = "notifications"
)

// Snapshot is the current status of every gated capability.
type Snapshot struct {
	Microphone    Status `json:"microphone"`
	Notifications Status `json:"notifications"`
}

// Result of a RequestAll pass.
type Result struct {
	Microphone    bool `json:"microphone"`
	Notifications bool `json:"notifications"`
}

// ErrNotSupported is returned when the platform exposes no permission API.
var ErrNotSupported = errors.New("permission: not supported in this environment")

// Bridge is the platform side of the gate. The hybrid app front-end (or a
// test fake) implements it; the gate never touches platform globals.
type Bridge interface {
	// Supported reports whether the platform exposes a permission API at all.
	Supported() bool
	// Query returns the current status of all capabilities.
	Query(ctx context.Context) (Snapshot, error)
	// Request shows the platform prompt for one capability.
	Request(ctx context.Context, kind Kind) (bool, error)
}

// Gate caches permission status and serializes prompt requests.
// Requests are issued microphone first with a fixed gap before the
// notification prompt, since some platforms cannot stack two dialogs.
type Gate struct {
	bridge Bridge
	gap    time.Duration
	logger *logrus.Entry

	mu   sync.Mutex
	snap Snapshot
}

// NewGate wraps a platform bridge. gap is the delay between the two prompts.
func NewGate(bridge Bridge, gap time.Duration) *Gate {
	return &Gate{
		bridge: bridge,
		gap:    gap,
		logger: log.Component("permission"),
		snap:   Snapshot{Microphone: Unknown, Notifications: Unknown},
	}
}

// Status returns the freshest known snapshot, re-querying the platform
// when possible. On query failure the last cached snapshot is returned.
func (g *Gate) Status(ctx context.Context) Snapshot {
	if g.bridge == nil || !g.bridge.Supported() {
		return Snapshot{Microphone: Unknown, Notifications: Unknown}
	}
	snap, err := g.bridge.Query(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.logger.WithError(err).Debug("status query failed, using cached snapshot")
		return g.snap
	}
	g.snap = snap
	return snap
}

// MicrophoneGranted reports whether capture may start right now.
func (g *Gate) MicrophoneGranted(ctx context.Context) bool {
	return g.Status(ctx).Microphone == Granted
}

// RequestAll prompts for the microphone first, then notifications.
// Capabilities already granted are not re-prompted, so repeated calls are
// harmless. A denied microphone does not abort the notification request.
func (g *Gate) RequestAll(ctx context.Context) (Result, error) {
	if g.bridge == nil || !g.bridge.Supported() {
		return Result{}, ErrNotSupported
	}

	snap := g.Status(ctx)
	res := Result{
		Microphone:    snap.Microphone == Granted,
		Notifications: snap.Notifications == Granted,
	}

	prompted := false
	if !res.Microphone {
		ok, err := g.bridge.Request(ctx, Microphone)
		if err != nil {
			return res, err
		}
		res.Microphone = ok
		prompted = true
	}

	if !res.Notifications {
		if prompted {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(g.gap):
			}
		}
		ok, err := g.bridge.Request(ctx, Notifications)
		if err != nil {
			// Notifications are secondary; the microphone result stands.
			g.logger.WithError(err).Warn("notification permission request failed")
		} else {
			res.Notifications = ok
		}
	}

	g.mu.Lock()
	g.snap.Microphone = statusFromBool(res.Microphone)
	g.snap.Notifications = statusFromBool(res.Notifications)
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"microphone":    res.Microphone,
		"notifications": res.Notifications,
	}).Info("permission request completed")
	return res, nil
}

// Refresh re-evaluates status; called when the app regains foreground
// focus since permissions may have changed in external settings.
func (g *Gate) Refresh(ctx context.Context) Snapshot {
	return g.Status(ctx)
}

func statusFromBool(granted bool) Status {
	if granted {
		return Granted
	}
	return Denied
}
