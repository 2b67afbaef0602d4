package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a chunk stream is abandoned
// mid-way, e.g. after a preempted response.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
