package playback

import "context"

// Disabled is the synthesizer used when no engine credentials are
// configured: every utterance completes immediately with no audio, so the
// rest of the pipeline keeps working.
type Disabled struct{}

func (Disabled) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte)
	errCh := make(chan error)
	close(pcmCh)
	close(errCh)
	return pcmCh, errCh
}

func (Disabled) Voices() []Voice    { return nil }
func (Disabled) VoicesLoaded() bool { return true }
