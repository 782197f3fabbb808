package markdown

import (
	"regexp"
	"strings"
)

var (
	headingPrefixRe = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	imageRe         = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe          = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
)

// markerChars are removed everywhere in the input, not only where they form
// markup. A literal '#' or '*' in body text is lost as well.
const markerChars = "#*_`~"

// ToPlain converts Markdown produced by Convert into plain text. Image and
// link syntax is reduced to its label, heading prefixes are dropped and every
// marker character is removed. ToPlain(ToPlain(s)) == ToPlain(s).
func ToPlain(s string) string {
	s = headingPrefixRe.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(markerChars, r) {
			return -1
		}
		return r
	}, s)
	// Labels can themselves close a surrounding construct ("[[a](b)](c)"),
	// so reduce until nothing matches.
	for {
		next := imageRe.ReplaceAllString(s, "$1")
		next = linkRe.ReplaceAllString(next, "$1")
		if next == s {
			return s
		}
		s = next
	}
}
