package llmcorrect

import "strings"

// anchor pairs a token index in the original sequence with its index in
// the corrected sequence.
type anchor struct {
	orig int
	corr int
}

// span is a contiguous run of tokens that differs between the original
// and the corrected sequence.
type span struct {
	orig []string
	corr []string
}

// spanKey identifies a change span in normalized form for lookup against
// the declared corrections.
type spanKey struct {
	orig string
	corr string
}

// lcsAnchors computes the longest common subsequence of the two token
// slices and returns the index pairs of the common tokens in order.
// Plain O(m*n) dynamic programming; utterances are short.
func lcsAnchors(a, b []string) []anchor {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	length := dp[m][n]
	if length == 0 {
		return nil
	}

	anchors := make([]anchor, length)
	i, j, k := m, n, length-1
	for i > 0 && j > 0 {
		switch {
		case a[i-1] == b[j-1]:
			anchors[k] = anchor{orig: i - 1, corr: j - 1}
			i--
			j--
			k--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return anchors
}

// diffSpans collects the token runs between consecutive anchors, plus the
// run after the last anchor. Each run is a region the model changed.
func diffSpans(orig, corr []string, anchors []anchor) []span {
	var spans []span
	oi, ci := 0, 0
	for _, a := range anchors {
		if oi < a.orig || ci < a.corr {
			spans = append(spans, span{
				orig: orig[oi:a.orig],
				corr: corr[ci:a.corr],
			})
		}
		oi, ci = a.orig+1, a.corr+1
	}
	if oi < len(orig) || ci < len(corr) {
		spans = append(spans, span{
			orig: orig[oi:],
			corr: corr[ci:],
		})
	}
	return spans
}

// normalizePhrase lowercases s and strips trailing punctuation so a span
// like "Moksori." matches a correction declared as "Moksori".
func normalizePhrase(s string) string {
	return strings.ToLower(strings.TrimRight(s, ".,;:!?\"')"))
}

// verifyCorrectedText cross-checks the model's output against its declared
// corrections. Token runs that changed without a matching declaration are
// reverted to the original wording. Returns the verified text and the
// corrections that were confirmed.
func verifyCorrectedText(original, corrected string, corrections []Correction) (string, []Correction) {
	if original == corrected {
		return original, corrections
	}

	origTokens := strings.Fields(original)
	corrTokens := strings.Fields(corrected)

	anchors := lcsAnchors(origTokens, corrTokens)
	spans := diffSpans(origTokens, corrTokens, anchors)

	declared := make(map[spanKey]Correction, len(corrections))
	for _, c := range corrections {
		declared[spanKey{normalizePhrase(c.Original), normalizePhrase(c.Corrected)}] = c
	}

	var out []string
	var verified []Correction
	next, oi, ci := 0, 0, 0

	for _, a := range anchors {
		if oi < a.orig || ci < a.corr {
			out, verified = applySpan(out, verified, spans[next], declared)
			next++
		}
		out = append(out, origTokens[a.orig])
		oi, ci = a.orig+1, a.corr+1
	}
	if oi < len(origTokens) || ci < len(corrTokens) {
		out, verified = applySpan(out, verified, spans[next], declared)
	}

	return strings.Join(out, " "), verified
}

// applySpan keeps the corrected tokens when the span matches a declared
// correction and reverts to the original tokens otherwise.
func applySpan(out []string, verified []Correction, s span, declared map[spanKey]Correction) ([]string, []Correction) {
	key := spanKey{
		orig: normalizePhrase(strings.Join(s.orig, " ")),
		corr: normalizePhrase(strings.Join(s.corr, " ")),
	}
	if c, ok := declared[key]; ok {
		return append(out, s.corr...), append(verified, c)
	}
	return append(out, s.orig...), verified
}
