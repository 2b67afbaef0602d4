package malgo

import "sync"

// chunkQueue hands PCM from the stream goroutine to the device callback while
// preserving chunk boundaries, so each chunk's loudness can be reported as it
// starts playing rather than when the producer delivered it.
type chunkQueue struct {
	// onChunk, when set, is invoked from Fill as a chunk's first byte is
	// copied toward the device. It runs on the device callback goroutine.
	onChunk func(chunk []byte)

	mu     sync.Mutex
	chunks [][]byte
	offset int // consumed bytes of chunks[0]
}

// Push appends a chunk to the tail of the queue.
func (q *chunkQueue) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	q.mu.Lock()
	q.chunks = append(q.chunks, chunk)
	q.mu.Unlock()
}

// Fill copies queued PCM into out and zero-fills any remainder. It never
// blocks; an empty queue yields silence.
func (q *chunkQueue) Fill(out []byte) {
	q.mu.Lock()
	var started [][]byte
	n := 0
	for n < len(out) && len(q.chunks) > 0 {
		head := q.chunks[0]
		if q.offset == 0 {
			started = append(started, head)
		}
		c := copy(out[n:], head[q.offset:])
		n += c
		q.offset += c
		if q.offset == len(head) {
			q.chunks = q.chunks[1:]
			q.offset = 0
		}
	}
	fn := q.onChunk
	q.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if fn != nil {
		for _, chunk := range started {
			fn(chunk)
		}
	}
}

// Len returns the number of unconsumed bytes across all queued chunks.
func (q *chunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.chunks) == 0 {
		return 0
	}
	n := -q.offset
	for _, chunk := range q.chunks {
		n += len(chunk)
	}
	return n
}

// Clear discards all queued PCM.
func (q *chunkQueue) Clear() {
	q.mu.Lock()
	q.chunks = nil
	q.offset = 0
	q.mu.Unlock()
}
