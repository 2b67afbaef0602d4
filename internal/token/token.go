// Package token issues response identities.
//
// Every accepted input event is bound to exactly one [Token] for its lifetime:
// acceptance, generation, synthesis, playback. Stale work is discarded by
// comparing tokens at each hand-off boundary, so cancellation never has to
// chase in-flight I/O.
package token

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Token identifies one response from acceptance through playback completion.
//
// Seq is the authoritative ordering: a token with a higher Seq was issued
// later. Tag is a short random id carried purely for log correlation.
// The zero Token means "no current response".
type Token struct {
	Tag string
	Seq uint64
}

// IsZero reports whether t is the zero token.
func (t Token) IsZero() bool { return t.Seq == 0 && t.Tag == "" }

// Newer reports whether t was issued after other.
func (t Token) Newer(other Token) bool { return t.Seq > other.Seq }

// String returns "tag#seq" for logging.
func (t Token) String() string {
	if t.IsZero() {
		return "none"
	}
	return t.Tag + "#" + strconv.FormatUint(t.Seq, 10)
}

// Issuer hands out tokens with strictly increasing sequence numbers.
// Safe for concurrent use.
type Issuer struct {
	seq atomic.Uint64
}

// NewIssuer returns an issuer whose first token has Seq 1.
func NewIssuer() *Issuer { return &Issuer{} }

// Next issues a fresh token.
func (i *Issuer) Next() Token {
	return Token{
		Tag: uuid.NewString()[:8],
		Seq: i.seq.Add(1),
	}
}
