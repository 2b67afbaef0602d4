package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Lexicon is a compiled set of canonical terms ready for matching. Compile
// once per utterance (or longer) and reuse across every window the caller
// tests; the per-term token split and Double Metaphone codes are computed
// here instead of on every comparison.
//
// A Lexicon is read-only after CompileLexicon returns and is safe for
// concurrent use.
type Lexicon struct {
	entries  []term
	maxWords int
}

// term is one canonical lexicon entry with its precomputed match data.
type term struct {
	canonical string
	lowered   string
	tokens    []string
	codes     map[string]struct{}
}

// CompileLexicon prepares terms for repeated matching. Blank terms are
// dropped; the canonical spelling of each kept term is preserved exactly
// as given.
func CompileLexicon(terms []string) *Lexicon {
	lex := &Lexicon{entries: make([]term, 0, len(terms))}
	for _, t := range terms {
		canonical := strings.TrimSpace(t)
		if canonical == "" {
			continue
		}
		lowered := strings.ToLower(canonical)
		tokens := strings.Fields(lowered)
		lex.entries = append(lex.entries, term{
			canonical: canonical,
			lowered:   lowered,
			tokens:    tokens,
			codes:     metaphoneCodes(tokens),
		})
		if len(tokens) > lex.maxWords {
			lex.maxWords = len(tokens)
		}
	}
	return lex
}

// MaxWords returns the word count of the widest term, 0 for an empty
// Lexicon. Callers use it to bound the n-gram window width.
func (l *Lexicon) MaxWords() int {
	return l.maxWords
}

// Len returns the number of usable terms.
func (l *Lexicon) Len() int {
	return len(l.entries)
}

// metaphoneCodes returns the union of the Double Metaphone codes of every
// token. Codes come in a primary and an alternate form; both are kept.
// Tokens that produce no code (digits, very short words) contribute
// nothing.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, alternate := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if alternate != "" {
			codes[alternate] = struct{}{}
		}
	}
	return codes
}

// sharesCode reports whether the two code sets have a code in common.
func sharesCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
