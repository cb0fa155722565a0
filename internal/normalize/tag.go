package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldTag makes CRM tag names comparable regardless of case, accents and
// surrounding or repeated whitespace: "Vídeo " and "VIDEO" fold alike.
func FoldTag(tag string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, tag)
	if err != nil {
		folded = tag
	}
	return strings.ToUpper(strings.Join(strings.Fields(folded), " "))
}
