package resource

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// suggestThreshold is the minimum Jaro-Winkler score for a suggestion.
const suggestThreshold = 0.75

// Suggest returns the candidate closest to name, for "did you mean" hints.
// Candidates that sound alike (shared Double Metaphone code) are preferred
// over candidates that are merely spelled alike.
func Suggest(name string, candidates []string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	nameCodes := metaphoneCodes(name)

	var (
		best     string
		score    float64
		phonetic bool
	)
	for _, c := range candidates {
		lc := strings.ToLower(c)
		s := matchr.JaroWinkler(name, lc, false)
		if s < suggestThreshold {
			continue
		}
		p := sharesCode(nameCodes, metaphoneCodes(lc))
		switch {
		case p && !phonetic:
			best, score, phonetic = c, s, true
		case p == phonetic && s > score:
			best, score = c, s
		}
	}
	return best, best != ""
}

func metaphoneCodes(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, sec := matchr.DoubleMetaphone(strings.ReplaceAll(s, " ", ""))
	if p != "" {
		codes[p] = struct{}{}
	}
	if sec != "" {
		codes[sec] = struct{}{}
	}
	return codes
}

func sharesCode(a, b map[string]struct{}) bool {
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
