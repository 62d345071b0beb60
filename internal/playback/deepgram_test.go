package playback

import (
	"testing"
	"time"
)

func TestSpeakCallback_FlushConfirmationFinishesStream(t *testing.T) {
	var got [][]byte
	cb := newSpeakCallback(func(b []byte) { got = append(got, b) })

	cb.Binary([]byte{1, 2, 3})
	select {
	case <-cb.finished:
		t.Fatalf("stream must not finish before the flush confirmation")
	default:
	}

	cb.Flush(nil)
	select {
	case <-cb.finished:
	case <-time.After(time.Second):
		t.Fatalf("flush confirmation must finish the stream")
	}
	if cb.failure() != nil {
		t.Fatalf("clean flush must not report an error")
	}
	if len(got) != 1 || got[0][0] != 1 {
		t.Fatalf("expected delivered audio, got %v", got)
	}
}

func TestSpeakCallback_ServerErrorFinishesWithFailure(t *testing.T) {
	cb := newSpeakCallback(func([]byte) {})

	cb.Error(nil)
	select {
	case <-cb.finished:
	case <-time.After(time.Second):
		t.Fatalf("server error must finish the stream")
	}
	if cb.failure() == nil {
		t.Fatalf("expected recorded failure")
	}

	// A trailing close must neither panic nor clear the failure.
	cb.Close(nil)
	if cb.failure() == nil {
		t.Fatalf("failure must persist after close")
	}
}

func TestSpeakCallback_BinaryCopiesChunk(t *testing.T) {
	var got []byte
	cb := newSpeakCallback(func(b []byte) { got = b })
	src := []byte{9, 8, 7}
	cb.Binary(src)
	src[0] = 0
	if len(got) != 3 || got[0] != 9 {
		t.Fatalf("chunk must be copied, not aliased, got %v", got)
	}
}
