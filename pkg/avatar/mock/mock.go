// Package mock provides test doubles for the avatar package.
package mock

import (
	"context"
	"sync"

	"github.com/moksori-live/moksori/pkg/avatar"
)

// TriggerHotkeyCall records a single call to TriggerHotkey.
type TriggerHotkeyCall struct {
	Ctx context.Context
	ID  string
}

// Controller is a mock implementation of avatar.Controller and
// avatar.HotkeyTrigger for testing.
type Controller struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TriggerHotkeyErr is returned by TriggerHotkey when set.
	TriggerHotkeyErr error

	// --- Call records (read after test) ---

	// MouthValues holds every value passed to SetMouthOpen, in order.
	MouthValues []float64

	// TriggerHotkeyCalls records each TriggerHotkey invocation.
	TriggerHotkeyCalls []TriggerHotkeyCall
}

// SetMouthOpen records the value.
func (c *Controller) SetMouthOpen(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MouthValues = append(c.MouthValues, v)
}

// TriggerHotkey records the call and returns the configured error.
func (c *Controller) TriggerHotkey(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TriggerHotkeyCalls = append(c.TriggerHotkeyCalls, TriggerHotkeyCall{Ctx: ctx, ID: id})
	return c.TriggerHotkeyErr
}

// MouthValueCount returns the number of SetMouthOpen calls so far.
func (c *Controller) MouthValueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.MouthValues)
}

// LastMouthValue returns the most recent value passed to SetMouthOpen, or 0
// if none were recorded.
func (c *Controller) LastMouthValue() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.MouthValues) == 0 {
		return 0
	}
	return c.MouthValues[len(c.MouthValues)-1]
}

// Reset clears all recorded calls.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MouthValues = nil
	c.TriggerHotkeyCalls = nil
}

// Ensure Controller implements the avatar contracts at compile time.
var (
	_ avatar.Controller    = (*Controller)(nil)
	_ avatar.HotkeyTrigger = (*Controller)(nil)
)
