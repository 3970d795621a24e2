package lead

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize converts raw header or cell text into canonical key form:
// lowercase, diacritics stripped, every non-alphanumeric run replaced
// with a single underscore, leading/trailing underscores trimmed.
// Pure and total: never fails, empty input yields empty output.
func Normalize(text string) string {
	lower := strings.ToLower(text)

	// Decompose and drop combining marks (é → e, ç → c).
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, lower)
	if err != nil {
		stripped = lower
	}

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSep := false
	for _, r := range stripped {
		if r != '_' && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
