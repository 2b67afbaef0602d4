// Package phonetic matches mis-heard words against a lexicon of stream
// vocabulary using Double Metaphone codes and Jaro-Winkler similarity.
//
// Matching runs in two passes:
//
//  1. Phonetic filtering. Double Metaphone codes are computed for the
//     input and for each lexicon term. A term whose code set overlaps the
//     input's becomes a phonetic candidate, so "moksari" lines up with
//     "Moksori" even though the spelling differs.
//
//  2. Similarity ranking. Among phonetic candidates the term with the
//     highest Jaro-Winkler score wins, provided the score clears the
//     phonetic threshold. Without any phonetic candidate a stricter pure
//     similarity pass runs instead, which catches spelling-level slips
//     the phonetic codes miss.
//
// Multi-word terms such as game titles ("Mist Valley Online") are
// supported. The input may be a phrase of several recognized words; codes
// and similarity are evaluated token-wise as well as on the whole string,
// so "missed valley online" resolves to the canonical title.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a phonetic
// candidate needs to be accepted. Default 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the fallback
// pass that runs when no phonetic candidate exists. Default 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher scores recognized words against lexicon terms. It implements
// the transcript package's LexiconMatcher contract and is read-only after
// construction, so it is safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with the supplied options applied.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the lexicon term most phonetically similar to phrase.
// It compiles the term list on every call; callers testing many windows
// against the same terms should compile once and use [Matcher.MatchLexicon].
//
// When matched is false, corrected equals phrase unchanged and confidence
// is 0.
func (m *Matcher) Match(phrase string, lexicon []string) (corrected string, confidence float64, matched bool) {
	return m.MatchLexicon(phrase, CompileLexicon(lexicon))
}

// MatchLexicon is [Matcher.Match] against a precompiled [Lexicon].
//
// phrase may be a single word or a space-separated n-gram. Phonetic
// overlap is checked token-wise, then candidates are ranked by the best
// Jaro-Winkler score across whole-string, concatenated and pairwise token
// comparisons. A phonetic candidate always beats a purely fuzzy one.
func (m *Matcher) MatchLexicon(phrase string, lex *Lexicon) (corrected string, confidence float64, matched bool) {
	if lex == nil || lex.Len() == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := strings.Fields(phraseLower)
	phraseCodes := metaphoneCodes(phraseTokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, entry := range lex.entries {
		score := bestSimilarity(phraseTokens, entry.tokens, phraseLower, entry.lowered)

		if sharesCode(phraseCodes, entry.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestTerm, bestScore, bestPhonetic = entry.canonical, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			bestTerm, bestScore = entry.canonical, score
		}
	}

	if bestTerm == "" {
		return phrase, 0, false
	}
	return bestTerm, bestScore, true
}

// bestSimilarity returns the highest Jaro-Winkler score between the input
// and a term across three comparisons:
//
//  1. The full strings, spaces included.
//  2. The strings with spaces stripped, which handles a term heard as
//     several words ("mok sori" against "moksori").
//  3. For a single-word input only, the word against each term token,
//     which lets one garbled word stand in for a longer canonical term.
//
// The per-token comparison is restricted to single-word inputs on
// purpose. A multi-word window that happens to contain one term-like
// token must not swallow its unrelated neighbors; wider windows have to
// earn their score on the whole string.
func bestSimilarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		joinedInput := strings.Join(inputTokens, "")
		joinedTerm := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(joinedInput, joinedTerm, false); s > score {
			score = s
		}
	}

	if len(inputTokens) == 1 {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(inputTokens[0], tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
