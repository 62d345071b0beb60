package responder

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/internal/store"
	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// Sentinel failures of the conversational backend. Both surface to the user
// as the same fixed fallback utterance.
var (
	ErrRateLimited    = errors.New("responder: rate limited")
	ErrQuotaExhausted = errors.New("responder: quota exhausted")
)

// DefaultFallback is spoken when the conversational backend fails.
const DefaultFallback = "Sorry, I'm having trouble answering right now. Please try again in a moment."

// Conversational produces a free-form reply for a transcript given recent
// conversation context.
type Conversational interface {
	Reply(ctx context.Context, transcript string, recent []store.Entry) (string, error)
}

// Port answers a finalized transcript: a recognized device action is handled
// locally, everything else goes to the conversational backend.
//
// On backend failure Respond returns the fixed fallback utterance TOGETHER
// with the error, so the caller can both flag the failure and still speak
// something. A cancelled context returns ("", ctx.Err()): aborts are silent
// terminations, never user-visible errors.
type Port struct {
	actions  *ActionMatcher
	conv     Conversational
	fallback string
	logger   *logrus.Entry
}

// NewPort wires the device-action matcher in front of a conversational
// backend. An empty fallback selects DefaultFallback.
func NewPort(actions *ActionMatcher, conv Conversational, fallback string) *Port {
	if fallback == "" {
		fallback = DefaultFallback
	}
	return &Port{
		actions:  actions,
		conv:     conv,
		fallback: fallback,
		logger:   log.Component("responder"),
	}
}

// Respond resolves a transcript to spoken text.
func (p *Port) Respond(ctx context.Context, transcript string, recent []store.Entry) (string, error) {
	if p.actions != nil {
		if response, handled := p.actions.Match(transcript); handled {
			return response, nil
		}
	}

	reply, err := p.conv.Reply(ctx, transcript, recent)
	if err != nil {
		// An aborted request is a silent termination. A deadline is a real
		// failure and takes the fallback path.
		if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
			return "", context.Canceled
		}
		p.logger.WithError(err).Error("conversational backend failed")
		return p.fallback, err
	}
	return reply, nil
}
