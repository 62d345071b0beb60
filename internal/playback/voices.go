package playback

import "strings"

// Voice describes one synthesis voice offered by an engine.
type Voice struct {
	Name   string
	Locale string
	Local  bool
}

// SelectVoice picks a voice deterministically: an explicitly named engine
// voice first, then a locale-matching voice flagged as local, then any
// locale-matching voice, then the first available. Returns false only when
// the list is empty.
func SelectVoice(voices []Voice, preferred, locale string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	if preferred != "" {
		for _, v := range voices {
			if strings.EqualFold(v.Name, preferred) {
				return v, true
			}
		}
	}
	if locale != "" {
		for _, v := range voices {
			if localeMatches(v.Locale, locale) && v.Local {
				return v, true
			}
		}
		for _, v := range voices {
			if localeMatches(v.Locale, locale) {
				return v, true
			}
		}
	}
	return voices[0], true
}

// localeMatches compares on the primary language subtag, so "en-US"
// matches "en-GB" and plain "en".
func localeMatches(a, b string) bool {
	return primarySubtag(a) != "" && primarySubtag(a) == primarySubtag(b)
}

func primarySubtag(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i >= 0 {
		locale = locale[:i]
	}
	return locale
}
