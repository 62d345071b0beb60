package responder

import (
	"context"
	"strings"
	"time"

	"github.com/spamforflo-arch/jarvis-and-baymax/internal/store"
)

// Local is the offline conversational backend: keyword patterns over a
// small canned knowledge base. It never fails, so voice mode stays usable
// without network access.
type Local struct {
	now func() time.Time
}

func NewLocal() *Local {
	return &Local{now: time.Now}
}

type localPattern struct {
	keywords []string
	respond  func(l *Local) string
}

var localPatterns = []localPattern{
	{[]string{"hello"}, func(*Local) string { return "Hello! How can I help you?" }},
	{[]string{"hi"}, func(*Local) string { return "Hi there! What can I do for you?" }},
	{[]string{"good morning"}, func(*Local) string { return "Good morning! How can I help?" }},
	{[]string{"what time"}, func(l *Local) string {
		return "It's " + l.now().Format("3:04 PM") + "."
	}},
	{[]string{"what", "date"}, func(l *Local) string {
		return "Today is " + l.now().Format("Monday, January 2") + "."
	}},
	{[]string{"your name"}, func(*Local) string { return "I'm Jarvis, your voice assistant." }},
	{[]string{"who are you"}, func(*Local) string { return "I'm Jarvis, your voice assistant." }},
	{[]string{"thank"}, func(*Local) string { return "You're welcome!" }},
	{[]string{"how are you"}, func(*Local) string { return "I'm doing well, thanks for asking!" }},
}

// Reply matches the transcript against canned patterns; unknown input gets
// an honest default rather than an error.
func (l *Local) Reply(_ context.Context, transcript string, _ []store.Entry) (string, error) {
	text := strings.ToLower(strings.TrimSpace(transcript))
	for _, p := range localPatterns {
		if matchesAll(text, p.keywords) {
			return p.respond(l), nil
		}
	}
	return "I'm not sure about that one. I can answer simple questions offline, or try again when you're connected.", nil
}

func matchesAll(text string, keywords []string) bool {
	for _, k := range keywords {
		if !strings.Contains(text, k) {
			return false
		}
	}
	return true
}
