// Package discord provides an [audio.Source] backed by a Discord voice
// channel via the bwmarrin/discordgo library.
//
// The platform requires an active *discordgo.Session (owned by the bot layer)
// and a guild ID. Each call to [Platform.Join] joins the specified voice
// channel muted and returns a [Receiver] delivering the Opus packets of
// every member.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Platform joins voice channels of one guild. It is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New creates a Platform for the given session and guild.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{
		session: session,
		guildID: guildID,
	}
}

// Join connects to the voice channel identified by channelID and starts
// receiving. The bot joins muted since it never transmits. ctx governs the
// connection setup only; the Receiver lives until it is closed.
func (p *Platform) Join(ctx context.Context, channelID string) (*Receiver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newReceiver(vc), nil
}
