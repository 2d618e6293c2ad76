// Package discord implements the notify.Notifier for a Discord channel.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/parley-io/parley/internal/notify"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts hand-off notices to a single Discord channel.
type Notifier struct {
	sess      session
	channelID string
}

// Opts holds parameters for creating a Discord Notifier.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of a real gateway session.
	Session session
}

// New creates a Discord Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}
	sess := opts.Session
	if sess == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("discord: bot token is required")
		}
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = s
	}
	return &Notifier{sess: sess, channelID: opts.ChannelID}, nil
}

// Notify posts the hand-off as one channel message. Sending uses the REST
// API, so no gateway connection is required.
func (n *Notifier) Notify(ctx context.Context, h notify.HandOff) error {
	_, err := n.sess.ChannelMessageSend(n.channelID, notify.FormatText(h),
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send to %s: %w", n.channelID, err)
	}
	return nil
}
