package ibge

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases a locality name and strips diacritics so user input like
// "sao goncalo" matches "São Gonçalo".
func Fold(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		// Removing combining marks cannot fail for valid UTF-8; fall back
		// to plain lowercasing on malformed input.
		folded = name
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// MatchMunicipalities returns the municipalities whose folded names contain
// the folded query. An empty query matches everything.
func MatchMunicipalities(municipalities []Municipality, query string) []Municipality {
	q := Fold(query)
	if q == "" {
		return municipalities
	}

	var matched []Municipality
	for _, m := range municipalities {
		if strings.Contains(Fold(m.Name), q) {
			matched = append(matched, m)
		}
	}
	return matched
}
