// Package llmcorrect asks a language model to repair mis-heard stream
// vocabulary that the phonetic matcher could not resolve.
//
// The [Corrector] sends the transcribed line to an [llm.Provider] together
// with the canonical vocabulary list and a conservative instruction: fix
// only words that are clearly mis-heard vocabulary terms, leave everything
// else alone. The model answers with structured JSON naming the corrected
// text and each substitution it made.
//
// Models do not always follow instructions. Every reply is verified token
// by token against the input, and any edit the model did not declare in
// its corrections list is reverted before the result is returned. An
// unparseable reply degrades to the input text unchanged rather than an
// error, because a garbled utterance is still a usable one.
//
// This pass adds a model round trip to every utterance, so the engine
// only runs it when explicitly configured.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/moksori-live/moksori/pkg/provider/llm"
)

// promptTemplate carries three slots: the vocabulary list, the optional
// already-applied section and the transcript itself.
const promptTemplate = `You fix speech recognition errors in a live stream transcript.

The streamer's vocabulary with canonical spellings:
%s
Rules:
- Replace a word or phrase only when it is clearly a mis-heard vocabulary term.
- Never change ordinary words, grammar or punctuation.
- When unsure, leave the word exactly as transcribed.
- Replacements must use the canonical spelling from the vocabulary list.
%s
Transcript: %s

Respond with only a JSON object in this exact shape, no markdown:
{
  "corrected_text": "<the full corrected transcript>",
  "corrections": [
    {"original": "<as transcribed>", "corrected": "<canonical term>", "confidence": <0.0-1.0>}
  ]
}
Return an empty corrections array when nothing needs fixing.`

// Correction is one substitution reported by the model. The transcript
// chain maps these into its own correction records with the method set
// to "llm".
type Correction struct {
	// Original is the phrase as it appeared in the input.
	Original string

	// Corrected is the canonical term the model put in its place.
	Corrected string

	// Confidence is the model's own estimate for the substitution,
	// 0.0 to 1.0.
	Confidence float64
}

// reply is the JSON shape the model is instructed to answer with.
type reply struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Corrector repairs vocabulary mis-hearings through an [llm.Provider].
// Which model answers is decided by the provider's construction; the
// corrector itself is stateless and safe for concurrent use.
type Corrector struct {
	llm llm.Provider
}

// New returns a [Corrector] backed by the given provider.
func New(provider llm.Provider) *Corrector {
	return &Corrector{llm: provider}
}

// Correct asks the model to repair text against the vocabulary terms.
// applied lists substitutions an earlier stage already made, so the model
// knows not to undo them.
//
// The returned corrections contain only substitutions that were both
// declared by the model and actually present in its output text. When the
// reply cannot be parsed, Correct returns text unchanged with a nil error.
// Provider failures and context cancellation return an error.
func (c *Corrector) Correct(
	ctx context.Context,
	text string,
	terms []string,
	applied []Correction,
) (string, []Correction, error) {
	if len(terms) == 0 {
		return text, nil, nil
	}

	out, err := c.llm.Generate(ctx, buildPrompt(text, terms, applied))
	if err != nil {
		return text, nil, fmt.Errorf("llmcorrect: generate: %w", err)
	}

	corrected, corrections, parseErr := parseReply(out, text)
	if parseErr != nil {
		return text, nil, nil
	}

	corrected, corrections = verifyCorrectedText(text, corrected, corrections)
	return corrected, corrections, nil
}

// buildPrompt renders the instruction, the vocabulary list, the applied
// hints and the transcript into a single prompt.
func buildPrompt(text string, terms []string, applied []Correction) string {
	var vocab strings.Builder
	for _, t := range terms {
		vocab.WriteString("- ")
		vocab.WriteString(t)
		vocab.WriteByte('\n')
	}

	var hints string
	if len(applied) > 0 {
		var sb strings.Builder
		sb.WriteString("\nAlready repaired earlier, keep these as they are:\n")
		for _, a := range applied {
			fmt.Fprintf(&sb, "- %q was corrected to %q\n", a.Original, a.Corrected)
		}
		hints = sb.String()
	}

	return fmt.Sprintf(promptTemplate, vocab.String(), hints, text)
}

// parseReply unmarshals the model output, tolerating markdown code fences.
// A reply with an empty corrected_text counts as "nothing to fix".
// No-op and empty substitutions are dropped.
func parseReply(content, originalText string) (string, []Correction, error) {
	cleaned := stripFences(content)

	var r reply
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", nil, fmt.Errorf("llmcorrect: parse reply: %w", err)
	}

	if r.CorrectedText == "" {
		return originalText, nil, nil
	}

	corrections := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == "" || c.Original == c.Corrected {
			continue
		}
		corrections = append(corrections, Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
		})
	}

	return r.CorrectedText, corrections, nil
}

// stripFences removes a leading "```json" or "```" fence and a trailing
// "```" fence that some models wrap JSON output in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
