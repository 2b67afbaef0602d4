// Package avatar defines the avatar control contract.
//
// The engine drives the on-screen model from audio playback: every PCM chunk
// that reaches the speakers also reports its loudness, which becomes the
// mouth-open parameter. Controllers therefore receive SetMouthOpen at chunk
// rate and must treat it as a hot path.
package avatar

import "context"

// Controller drives the on-screen avatar.
type Controller interface {
	// SetMouthOpen sets the mouth-open parameter. v is clamped to [0, 1] by
	// the implementation. Called once per played audio chunk; it must not
	// block and failures are swallowed (a frozen mouth is better than a
	// stalled playback loop).
	SetMouthOpen(v float64)
}

// HotkeyTrigger is implemented by controllers that can fire model hotkeys
// (expression toggles, animations).
type HotkeyTrigger interface {
	// TriggerHotkey fires the hotkey with the given id or name.
	TriggerHotkey(ctx context.Context, id string) error
}
