package transcript

import (
	"context"
	"log/slog"
	"strings"

	"github.com/moksori-live/moksori/internal/transcript/llmcorrect"
	"github.com/moksori-live/moksori/internal/transcript/phonetic"
)

// Option configures a [Chain].
type Option func(*Chain)

// WithMatcher attaches a [LexiconMatcher] as the first stage. When nil (the
// default) the phonetic stage is skipped.
func WithMatcher(m LexiconMatcher) Option {
	return func(c *Chain) {
		c.matcher = m
	}
}

// WithModelCorrector attaches an [llmcorrect.Corrector] as the second
// stage. When nil (the default) the model stage is skipped. The model runs
// on every utterance, so enable it only when the added latency is
// acceptable.
func WithModelCorrector(mc *llmcorrect.Corrector) Option {
	return func(c *Chain) {
		c.model = mc
	}
}

// WithLogger sets the logger for model-stage failures.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Chain) {
		if log != nil {
			c.log = log
		}
	}
}

// Chain is the stock [Corrector]: a phonetic stage followed by an optional
// model stage. Either stage may be absent; with neither configured Correct
// returns the input untouched.
//
// A model-stage failure does not fail the utterance. The chain logs the
// error and returns whatever the phonetic stage produced, because a speech
// input that arrives slightly garbled is worth more to the conversation
// than one that never arrives. Context cancellation is the exception and
// is always returned.
//
// Chain is safe for concurrent use.
type Chain struct {
	matcher LexiconMatcher
	model   *llmcorrect.Corrector
	log     *slog.Logger
}

var _ Corrector = (*Chain)(nil)

// NewChain builds a [Chain] from the given options.
func NewChain(opts ...Option) *Chain {
	c := &Chain{
		log: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct runs the configured stages over text.
//
// The phonetic stage slides n-gram windows over the utterance, widest
// first, so a multi-word lexicon term wins over a partial single-word
// match. The model stage then reviews the phonetically repaired line; the
// substitutions already applied are handed to the model so it does not
// undo them.
func (c *Chain) Correct(ctx context.Context, text string, lexicon []string) (*Result, error) {
	result := &Result{
		Original:    text,
		Corrected:   text,
		Corrections: []Correction{},
	}
	if len(lexicon) == 0 {
		return result, nil
	}

	working := text
	var applied []Correction

	if c.matcher != nil {
		working, applied = c.applyLexicon(text, lexicon)
		result.Corrections = append(result.Corrections, applied...)
	}

	if c.model != nil {
		fixed, modelCorrections, err := c.model.Correct(ctx, working, lexicon, asModelCorrections(applied))
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, err
		case err != nil:
			c.log.Warn("model correction pass failed, keeping lexicon result",
				"error", err)
		default:
			working = fixed
			for _, mc := range modelCorrections {
				result.Corrections = append(result.Corrections, Correction{
					Original:   mc.Original,
					Corrected:  mc.Corrected,
					Confidence: mc.Confidence,
					Method:     "llm",
				})
			}
		}
	}

	result.Corrected = working
	return result, nil
}

// applyLexicon slides windows of up to the widest term's word count over
// the utterance. At each position the widest window is tried first; a
// match emits the canonical term and advances past the consumed tokens.
func (c *Chain) applyLexicon(text string, lexicon []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	// Compile the lexicon once per utterance when the stock matcher is in
	// use; the interface path re-derives term data on every window.
	match := func(phrase string) (string, float64, bool) {
		return c.matcher.Match(phrase, lexicon)
	}
	maxWords := maxWordCount(lexicon)
	if pm, ok := c.matcher.(*phonetic.Matcher); ok {
		compiled := phonetic.CompileLexicon(lexicon)
		maxWords = compiled.MaxWords()
		match = func(phrase string) (string, float64, bool) {
			return pm.MatchLexicon(phrase, compiled)
		}
	}
	if maxWords == 0 {
		return text, nil
	}

	var out []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		width := maxWords
		if i+width > len(tokens) {
			width = len(tokens) - i
		}

		matched := false
		for n := width; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := match(window)
			if !ok {
				continue
			}
			out = append(out, strings.Fields(term)...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
				Method:     "phonetic",
			})
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}

	return strings.Join(out, " "), corrections
}

// asModelCorrections converts phonetic-stage corrections into the hint
// form the model corrector expects.
func asModelCorrections(applied []Correction) []llmcorrect.Correction {
	if len(applied) == 0 {
		return nil
	}
	hints := make([]llmcorrect.Correction, len(applied))
	for i, a := range applied {
		hints[i] = llmcorrect.Correction{
			Original:   a.Original,
			Corrected:  a.Corrected,
			Confidence: a.Confidence,
		}
	}
	return hints
}

// maxWordCount returns the word count of the widest lexicon term, at
// least 1.
func maxWordCount(lexicon []string) int {
	widest := 1
	for _, term := range lexicon {
		if n := len(strings.Fields(term)); n > widest {
			widest = n
		}
	}
	return widest
}
