package capture

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWakeDetector_FiresOncePerUtterance(t *testing.T) {
	var fired int32
	d := NewWakeDetector(WakeConfig{Phrases: []string{"hey jarvis"}, MinInterval: 20 * time.Millisecond},
		func(string) { atomic.AddInt32(&fired, 1) })

	// Phrase present in both interim and final results of one utterance.
	if !d.Scan("hey jarvis what time") {
		t.Fatalf("expected interim scan to fire")
	}
	if d.Scan("hey jarvis what time is it") {
		t.Fatalf("expected second interim scan to be suppressed")
	}
	d.Scan("hey jarvis what time is it")
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expected exactly one trigger, got %d", got)
	}
}

func TestWakeDetector_CaseInsensitiveSubstring(t *testing.T) {
	var fired int32
	d := NewWakeDetector(WakeConfig{Phrases: []string{"Hey Jarvis"}, MinInterval: 10 * time.Millisecond},
		func(string) { atomic.AddInt32(&fired, 1) })
	if !d.Scan("okay so HEY JARVIS please") {
		t.Fatalf("expected case-insensitive containment match")
	}
}

func TestWakeDetector_NoMatchNoFire(t *testing.T) {
	var fired int32
	d := NewWakeDetector(WakeConfig{Phrases: []string{"hey jarvis"}, MinInterval: 10 * time.Millisecond},
		func(string) { atomic.AddInt32(&fired, 1) })
	if d.Scan("set a timer for five minutes") {
		t.Fatalf("expected no trigger without phrase")
	}
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("expected zero triggers")
	}
}

func TestWakeDetector_ResetClearsUtteranceLatch(t *testing.T) {
	var fired int32
	d := NewWakeDetector(WakeConfig{Phrases: []string{"hey jarvis"}, MinInterval: 10 * time.Millisecond},
		func(string) { atomic.AddInt32(&fired, 1) })

	if !d.Scan("hey jarvis") {
		t.Fatalf("expected first trigger")
	}
	// The trigger handed the engine off; no EndUtterance ever arrives.
	if d.Scan("hey jarvis again") {
		t.Fatalf("expected latched utterance suppressed")
	}

	d.Reset()
	time.Sleep(15 * time.Millisecond) // past the minimum interval
	if !d.Scan("hey jarvis are you there") {
		t.Fatalf("expected trigger after reset")
	}
	if got := atomic.LoadInt32(&fired); got != 2 {
		t.Fatalf("expected two triggers, got %d", got)
	}
}

func TestWakeDetector_RearmsAfterQuietInterval(t *testing.T) {
	var fired int32
	interval := 20 * time.Millisecond
	d := NewWakeDetector(WakeConfig{Phrases: []string{"jarvis"}, MinInterval: interval},
		func(string) { atomic.AddInt32(&fired, 1) })

	if !d.Scan("jarvis hello") {
		t.Fatalf("expected first trigger")
	}
	d.EndUtterance()

	// Immediately after the utterance the detector is disarmed.
	if d.Scan("jarvis again") {
		t.Fatalf("expected trigger suppressed inside debounce window")
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if d.Scan("jarvis once more") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&fired); got != 2 {
		t.Fatalf("expected re-armed trigger after quiet interval, got %d fires", got)
	}
}
