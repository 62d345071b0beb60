package capture

import (
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
)

// WakeConfig is the immutable wake-phrase set plus the minimum interval
// between two accepted triggers. The interval guards against retriggering
// on synthesized playback audio or repeated phrase mentions.
type WakeConfig struct {
	Phrases     []string
	MinInterval time.Duration
}

// WakeDetector matches wake phrases against the cumulative transcript of
// the current utterance. Matching is case-insensitive substring containment
// and fires at most once per utterance: detection runs on interim results
// for latency, and the utterance lifecycle (not just time) de-duplicates.
type WakeDetector struct {
	phrases     []string
	minInterval time.Duration
	onWake      func(phrase string)
	rearm       func(func())

	mu           sync.Mutex
	armed        bool
	firedCurrent bool
	lastAccepted time.Time
}

// NewWakeDetector builds a detector that invokes onWake on an accepted match.
func NewWakeDetector(cfg WakeConfig, onWake func(string)) *WakeDetector {
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = 2500 * time.Millisecond
	}
	phrases := make([]string, 0, len(cfg.Phrases))
	for _, p := range cfg.Phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			phrases = append(phrases, p)
		}
	}
	return &WakeDetector{
		phrases:     phrases,
		minInterval: interval,
		onWake:      onWake,
		rearm:       debounce.New(interval),
		armed:       true,
	}
}

// Scan checks the cumulative utterance text and reports whether a wake
// trigger was accepted.
func (d *WakeDetector) Scan(cumulative string) bool {
	lowered := strings.ToLower(cumulative)

	d.mu.Lock()
	if !d.armed || d.firedCurrent {
		d.mu.Unlock()
		return false
	}
	var hit string
	for _, p := range d.phrases {
		if strings.Contains(lowered, p) {
			hit = p
			break
		}
	}
	if hit == "" {
		d.mu.Unlock()
		return false
	}
	if !d.lastAccepted.IsZero() && time.Since(d.lastAccepted) < d.minInterval {
		d.mu.Unlock()
		return false
	}
	d.firedCurrent = true
	d.lastAccepted = time.Now()
	cb := d.onWake
	d.mu.Unlock()

	if cb != nil {
		cb(hit)
	}
	return true
}

// Reset arms the detector for a fresh listening pass and clears the
// per-utterance latch. An accepted trigger hands the engine to an explicit
// session, so the final that would normally close the wake utterance never
// arrives; without a reset the latch would swallow the next wake phrase.
// The minimum-interval guard still applies across the reset.
func (d *WakeDetector) Reset() {
	d.mu.Lock()
	d.armed = true
	d.firedCurrent = false
	d.mu.Unlock()
}

// EndUtterance marks the current utterance finished. The detector disarms
// and re-arms only after the stream has been quiet for the configured
// interval, so trailing finals repeating the phrase cannot fire twice.
func (d *WakeDetector) EndUtterance() {
	d.mu.Lock()
	d.armed = false
	d.mu.Unlock()

	d.rearm(func() {
		d.mu.Lock()
		d.armed = true
		d.firedCurrent = false
		d.mu.Unlock()
	})
}
