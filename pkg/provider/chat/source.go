// Package chat defines the live-chat source contract used by the chat
// poller.
//
// A Source is a thin fetch adapter over one chat platform: it returns the
// most recent viewer messages on demand and does nothing else. Deduplication,
// ordering into the rolling window, and response sampling all happen in the
// poller, so implementations stay stateless where the platform allows.
//
// Implementations must be safe for concurrent use.
package chat

import (
	"context"

	"github.com/moksori-live/moksori/pkg/types"
)

// Source fetches recent viewer messages from a live-chat platform.
type Source interface {
	// FetchLatest returns up to limit chat lines, newest first. A shorter or
	// empty slice is not an error; it simply means fewer messages exist.
	FetchLatest(ctx context.Context, limit int) ([]types.ChatLine, error)
}
