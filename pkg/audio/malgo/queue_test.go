package malgo

import (
	"bytes"
	"testing"
)

func TestChunkQueueFillAcrossBoundaries(t *testing.T) {
	t.Parallel()

	q := &chunkQueue{}
	q.Push([]byte{1, 2, 3})
	q.Push([]byte{4, 5})

	out := make([]byte, 4)
	q.Fill(out)
	if !bytes.Equal(out, []byte{1, 2, 3, 4}) {
		t.Errorf("first fill: got %v", out)
	}
	if q.Len() != 1 {
		t.Errorf("Len after first fill: got %d, want 1", q.Len())
	}

	q.Fill(out)
	if !bytes.Equal(out, []byte{5, 0, 0, 0}) {
		t.Errorf("second fill: got %v", out)
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain: got %d, want 0", q.Len())
	}
}

func TestChunkQueueZeroFillsWhenEmpty(t *testing.T) {
	t.Parallel()

	q := &chunkQueue{}
	out := []byte{0xFF, 0xFF, 0xFF}
	q.Fill(out)
	if !bytes.Equal(out, []byte{0, 0, 0}) {
		t.Errorf("got %v, want silence", out)
	}
}

func TestChunkQueueReportsChunkStart(t *testing.T) {
	t.Parallel()

	var started [][]byte
	q := &chunkQueue{onChunk: func(c []byte) { started = append(started, c) }}

	a := []byte{1, 2, 3, 4}
	b := []byte{5, 6}
	q.Push(a)
	q.Push(b)

	q.Fill(make([]byte, 2))
	if len(started) != 1 || !bytes.Equal(started[0], a) {
		t.Fatalf("after partial fill: started %v", started)
	}

	// Still inside a; no new report.
	q.Fill(make([]byte, 1))
	if len(started) != 1 {
		t.Fatalf("mid-chunk fill reported again: %v", started)
	}

	q.Fill(make([]byte, 4))
	if len(started) != 2 || !bytes.Equal(started[1], b) {
		t.Fatalf("after crossing into b: started %v", started)
	}
}

func TestChunkQueueClear(t *testing.T) {
	t.Parallel()

	q := &chunkQueue{}
	q.Push([]byte{1, 2, 3})
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("Len after Clear: got %d, want 0", q.Len())
	}

	out := []byte{0xFF}
	q.Fill(out)
	if out[0] != 0 {
		t.Error("cleared queue still yields audio")
	}
}

func TestChunkQueueIgnoresEmptyPush(t *testing.T) {
	t.Parallel()

	q := &chunkQueue{}
	q.Push(nil)
	q.Push([]byte{})
	if q.Len() != 0 {
		t.Errorf("Len: got %d, want 0", q.Len())
	}
}
