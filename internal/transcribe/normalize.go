package transcribe

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// nearDuplicateThreshold is the Jaro-Winkler similarity above which two
// normalized transcripts are treated as the same utterance. STT providers
// occasionally re-emit a stale final with minor token differences
// ("hola como estas" vs "hola cómo estás"), so exact comparison alone is
// not enough.
const nearDuplicateThreshold = 0.93

// Normalize lowercases s, strips punctuation, and collapses runs of
// whitespace into single spaces. Letters and digits are kept as-is, so the
// result is comparable across provider re-emissions that differ only in
// casing or punctuation.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// Punctuation and symbols are dropped entirely.
		}
	}
	return strings.TrimSpace(b.String())
}

// isDuplicate reports whether the normalized transcript cur repeats prev.
// Both arguments must already be normalized. A transcript is a duplicate
// when it equals the previous one, is contained in it, contains it, or is
// near-identical by Jaro-Winkler similarity.
func isDuplicate(prev, cur string) bool {
	if prev == "" || cur == "" {
		return false
	}
	if prev == cur {
		return true
	}
	if strings.Contains(prev, cur) || strings.Contains(cur, prev) {
		return true
	}
	return matchr.JaroWinkler(prev, cur, false) >= nearDuplicateThreshold
}
