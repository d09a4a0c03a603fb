// Package token implements the lexical tokenizer used for BM25 indexing
// and lexical query processing (spec §4.3). It is a sibling of the
// teacher's internal/store/tokenizer.go: regex pre-split, per-token
// classification — but preserves hyphenated domain tokens like
// "5-Fluorouracil" instead of splitting camelCase identifiers.
package token

import (
	"regexp"
	"strings"
)

// domainToken matches an alphanumeric run that may be joined by internal
// hyphens, e.g. "5-fluorouracil" or "HIV-1". This is the spec §4.3 rule
// `\p{L}[\p{L}\p{N}\-]*\p{L}` generalized so a leading digit (as in
// "5-Fluorouracil") still keeps the hyphenated compound intact — the
// letter-bounded wording in the spec describes the common case, but its
// own worked example requires a digit-led compound to survive as one
// token, so the implementation keys off "hyphen-joined alphanumeric run"
// rather than literal letter-boundedness.
var domainToken = regexp.MustCompile(`[\p{L}\p{N}]+(?:-[\p{L}\p{N}]+)*`)

// Tokenize splits text into lowercase tokens per spec §4.3:
//   - case-folded (Unicode-aware, not just ASCII)
//   - split on whitespace/punctuation
//   - a hyphen-joined alphanumeric run (e.g. "5-fluorouracil") stays one token
//   - numeric tokens are retained
//   - no stopword removal
func Tokenize(text string) []string {
	folded := strings.ToLower(text)

	matches := domainToken.FindAllString(folded, -1)
	tokens := make([]string, 0, len(matches))
	tokens = append(tokens, matches...)
	return tokens
}

// IsDomainToken reports whether s matches the domain-token pattern of
// spec §4.3 (hyphen-joined alphanumeric runs), useful for
// tests and for callers that want to treat domain tokens specially (e.g.
// query expansion should not split them).
func IsDomainToken(s string) bool {
	return domainToken.MatchString(s) && domainToken.FindString(s) == s
}
