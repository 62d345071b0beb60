package responder

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ActionMatcher recognizes device commands (timers, alarms, opening apps)
// so they never reach the conversational backend. Matching is keyword-based
// on normalized text; anything ambiguous falls through as unhandled.
type ActionMatcher struct {
	normalizer transform.Transformer
}

// NewActionMatcher builds a matcher with unicode normalization so accented
// input ("sét a tîmer") still matches.
func NewActionMatcher() *ActionMatcher {
	return &ActionMatcher{
		normalizer: transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
	}
}

// Match reports whether the transcript is a recognized device command and,
// if so, the confirmation text to speak.
func (m *ActionMatcher) Match(transcript string) (string, bool) {
	text := m.clean(transcript)
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return "", false
	}

	switch {
	case containsAll(text, "timer"):
		if d, ok := extractDuration(tokens); ok {
			return fmt.Sprintf("Timer set for %s.", d), true
		}
		return "", false
	case containsAll(text, "alarm"):
		if clock, ok := extractClockTime(tokens); ok {
			return fmt.Sprintf("Alarm set for %s.", clock), true
		}
		return "", false
	case strings.HasPrefix(text, "open ") || strings.HasPrefix(text, "launch "):
		app := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(text, "open "), "launch "))
		if app != "" {
			return fmt.Sprintf("Opening %s.", app), true
		}
		return "", false
	}
	return "", false
}

func (m *ActionMatcher) clean(text string) string {
	text = strings.ToLower(text)
	if out, _, err := transform.String(m.normalizer, text); err == nil {
		text = out
	}
	text = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == ':' {
			return r
		}
		return ' '
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

func containsAll(text string, words ...string) bool {
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"fifteen": 15, "twenty": 20, "thirty": 30, "forty": 40,
	"fortyfive": 45, "sixty": 60, "a": 1, "an": 1, "half": 30,
}

// extractDuration finds "<number> <unit>" in the token stream, e.g.
// "five minutes", "30 seconds", "an hour".
func extractDuration(tokens []string) (string, bool) {
	for i, tok := range tokens {
		unit := durationUnit(tok)
		if unit == "" || i == 0 {
			continue
		}
		n, ok := parseNumber(tokens[i-1])
		if !ok {
			continue
		}
		if n == 1 {
			return fmt.Sprintf("1 %s", unit), true
		}
		return fmt.Sprintf("%d %ss", n, unit), true
	}
	return "", false
}

func durationUnit(tok string) string {
	switch strings.TrimSuffix(tok, "s") {
	case "second", "sec":
		return "second"
	case "minute", "min":
		return "minute"
	case "hour", "hr":
		return "hour"
	}
	return ""
}

func parseNumber(tok string) (int, bool) {
	if n, err := strconv.Atoi(tok); err == nil && n > 0 {
		return n, true
	}
	if n, ok := numberWords[tok]; ok {
		return n, true
	}
	return 0, false
}

// extractClockTime finds "7:30", "7 30", or "<hour> am/pm" style times.
func extractClockTime(tokens []string) (string, bool) {
	for i, tok := range tokens {
		if strings.Contains(tok, ":") {
			parts := strings.SplitN(tok, ":", 2)
			h, herr := strconv.Atoi(parts[0])
			mnt, merr := strconv.Atoi(parts[1])
			if herr == nil && merr == nil && h >= 0 && h <= 23 && mnt >= 0 && mnt <= 59 {
				return withMeridiem(fmt.Sprintf("%d:%02d", h, mnt), tokens, i), true
			}
		}
		if h, err := strconv.Atoi(tok); err == nil && h >= 1 && h <= 12 {
			if i+1 < len(tokens) && isMeridiem(tokens[i+1]) {
				return fmt.Sprintf("%d %s", h, tokens[i+1]), true
			}
		}
	}
	return "", false
}

func withMeridiem(clock string, tokens []string, i int) string {
	if i+1 < len(tokens) && isMeridiem(tokens[i+1]) {
		return clock + " " + tokens[i+1]
	}
	return clock
}

func isMeridiem(tok string) bool {
	return tok == "am" || tok == "pm"
}
