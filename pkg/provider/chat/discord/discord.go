// Package discord provides a chat.Source reading recent messages from a
// Discord text channel.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/moksori-live/moksori/pkg/provider/chat"
	"github.com/moksori-live/moksori/pkg/types"
)

// maxFetch is the Discord API cap on messages per history request.
const maxFetch = 100

// Messenger is the subset of *discordgo.Session the source uses.
type Messenger interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Source implements chat.Source over one Discord text channel. Bot-authored
// and empty messages (embeds, attachments without text) are skipped so the
// engine never reacts to itself.
type Source struct {
	session   Messenger
	channelID string
}

// New creates a Source for the given channel. session is typically a
// *discordgo.Session whose token has the message-history permission.
func New(session Messenger, channelID string) (*Source, error) {
	if session == nil {
		return nil, errors.New("discord: session must not be nil")
	}
	if channelID == "" {
		return nil, errors.New("discord: channelID must not be empty")
	}
	return &Source{session: session, channelID: channelID}, nil
}

// FetchLatest returns up to limit recent messages, newest first, as the
// Discord history endpoint delivers them.
func (s *Source) FetchLatest(ctx context.Context, limit int) ([]types.ChatLine, error) {
	if limit <= 0 || limit > maxFetch {
		limit = maxFetch
	}

	msgs, err := s.session.ChannelMessages(s.channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetch channel messages: %w", err)
	}

	lines := make([]types.ChatLine, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Author == nil || m.Author.Bot || m.Content == "" {
			continue
		}
		lines = append(lines, types.ChatLine{
			User:    displayName(m.Author),
			Message: m.Content,
		})
	}
	return lines, nil
}

// displayName prefers the user's global display name over the account name.
func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// Ensure Source implements chat.Source at compile time.
var _ chat.Source = (*Source)(nil)
