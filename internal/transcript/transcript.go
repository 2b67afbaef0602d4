// Package transcript repairs recognized speech before it reaches the
// conversation engine.
//
// Speech recognizers reliably garble the proper nouns a stream lives on:
// the persona's name, game titles, channel emotes, regular viewers'
// handles. The corrector chain fixes those against a configured lexicon in
// two optional stages. The phonetic stage matches mis-heard words to
// lexicon terms in-process and costs microseconds, so it can run on every
// utterance. The model stage asks an LLM to review the whole line and is
// meant for setups where the lexicon alone proves insufficient; it adds a
// network round trip per utterance and is off unless configured.
//
// Corrections never rewrite grammar or ordinary words. The model stage
// cross-checks the model's output token by token and reverts any edit the
// model did not declare.
package transcript

import "context"

// Correction is one applied substitution.
type Correction struct {
	// Original is the phrase as it was transcribed.
	Original string `json:"original"`

	// Corrected is the canonical lexicon term that replaced it.
	Corrected string `json:"corrected"`

	// Confidence is the match score, 0.0 to 1.0. Phonetic corrections carry
	// the Jaro-Winkler similarity; model corrections carry the model's own
	// estimate.
	Confidence float64 `json:"confidence"`

	// Method is "phonetic" or "llm".
	Method string `json:"method"`
}

// Result is the outcome of correcting one utterance.
type Result struct {
	// Original is the utterance exactly as the recognizer produced it.
	Original string `json:"original"`

	// Corrected is the repaired text. Equal to Original when nothing
	// needed fixing.
	Corrected string `json:"corrected"`

	// Corrections lists every substitution that was applied, phonetic
	// stage first. Empty but non-nil when no correction was applied.
	Corrections []Correction `json:"corrections"`
}

// Corrector fixes mis-heard lexicon terms in an utterance.
type Corrector interface {
	// Correct repairs text against the given lexicon terms and reports
	// what changed. The returned Result is never nil on a nil error.
	Correct(ctx context.Context, text string, lexicon []string) (*Result, error)
}

// LexiconMatcher matches a word or short phrase against lexicon terms.
//
// Implementations must return the canonical term and a similarity score in
// (0.0, 1.0] when a match is found. When matched is false, corrected must
// equal phrase unchanged and confidence must be 0.
type LexiconMatcher interface {
	Match(phrase string, lexicon []string) (corrected string, confidence float64, matched bool)
}
