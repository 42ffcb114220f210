// Package keyword normalizes free-form strings, handles, and URLs into
// comparable tokens for rule matching.
package keyword

import (
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)
	nonSlugChars  = regexp.MustCompile(`[^\pL\pN]+`)
)

// TokenizeText splits text into lower-case tokens with unicode accents
// folded away, so lookalike spellings collapse onto the same token.
func TokenizeText(text string) []string {
	// transform.Chain keeps state; build per call so concurrent tokenizers
	// never share one
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	folded, _, err := transform.String(normFunc, bare)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		folded = bare
	}
	return strings.Fields(folded)
}

// TokenizeURL splits a URL into tokens across its host and path segments.
// Punctuation that structures URLs (dots, slashes, dashes) becomes token
// boundaries.
func TokenizeURL(raw string) []string {
	fields := strings.FieldsFunc(raw, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsNumber(c)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := Slugify(f)
		if len(tok) > 1 {
			out = append(out, tok)
		}
	}
	return out
}

// Slugify lower-cases and strips everything that is not a letter or digit.
func Slugify(orig string) string {
	return strings.ToLower(nonSlugChars.ReplaceAllString(orig, ""))
}

// TokenInSet checks a single token against a list of known tokens.
func TokenInSet(tok string, set []string) bool {
	return slices.Contains(set, tok)
}
