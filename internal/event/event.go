// Package event defines the input events that flow from the producers
// (speech recognizer, chat feed, idle timer) into the arbiter, and the clock
// abstraction those producers stamp them with.
package event

import "time"

// Source identifies which producer emitted an input event.
type Source int

const (
	// SourceSpeech is a transcribed microphone utterance.
	SourceSpeech Source = iota

	// SourceChat is a live-chat line that passed the response gate.
	SourceChat

	// SourceIdle is an idle-timer trigger carrying no speaker or text.
	SourceIdle
)

// String returns the lowercase name of the source, suitable for logging.
func (s Source) String() string {
	switch s {
	case SourceSpeech:
		return "speech"
	case SourceChat:
		return "chat"
	case SourceIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Input is a single candidate for a response, posted to the arbiter mailbox.
type Input struct {
	// Source identifies the producer.
	Source Source

	// Speaker is the display name of whoever caused the event. Empty for idle.
	Speaker string

	// Text is the utterance or chat message. Empty for idle.
	Text string

	// ReceivedAt is the producer-side receipt time. Comparisons between events
	// rely on the monotonic reading carried by time.Time values from one Clock.
	ReceivedAt time.Time

	// IsInterruption is set by the arbiter when this event preempted an active
	// response. Producers must leave it false.
	IsInterruption bool
}

// Clock supplies the current time. Producers stamp events through a Clock so
// tests can drive time deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time, including Go's monotonic reading.
func (SystemClock) Now() time.Time { return time.Now() }
