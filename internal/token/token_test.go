package token

import (
	"sync"
	"testing"
)

func TestIssuerSequencesStrictlyIncrease(t *testing.T) {
	t.Parallel()

	iss := NewIssuer()
	prev := iss.Next()
	for i := 0; i < 100; i++ {
		next := iss.Next()
		if next.Seq <= prev.Seq {
			t.Fatalf("want Seq > %d, got %d", prev.Seq, next.Seq)
		}
		if !next.Newer(prev) {
			t.Fatalf("want %v newer than %v", next, prev)
		}
		prev = next
	}
}

func TestIssuerConcurrentUniqueness(t *testing.T) {
	t.Parallel()

	const (
		workers = 8
		perWorker = 250
	)

	iss := NewIssuer()
	var mu sync.Mutex
	seen := make(map[uint64]bool, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tok := iss.Next()
				mu.Lock()
				if seen[tok.Seq] {
					mu.Unlock()
					t.Errorf("duplicate sequence %d", tok.Seq)
					return
				}
				seen[tok.Seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("want %d unique sequences, got %d", workers*perWorker, len(seen))
	}
}

func TestTokenTagLength(t *testing.T) {
	t.Parallel()

	tok := NewIssuer().Next()
	if len(tok.Tag) != 8 {
		t.Fatalf("want 8-char tag, got %q", tok.Tag)
	}
}

func TestZeroToken(t *testing.T) {
	t.Parallel()

	var zero Token
	if !zero.IsZero() {
		t.Fatal("zero value must report IsZero")
	}
	if zero.String() != "none" {
		t.Fatalf("want %q, got %q", "none", zero.String())
	}
	if tok := NewIssuer().Next(); tok.IsZero() {
		t.Fatal("issued token must not report IsZero")
	}
}
