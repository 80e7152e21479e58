// Package discord owns the discordgo.Session of the recorder. It connects to
// the gateway, tracks whether the session is usable and hands out voice
// receivers for the configured guild.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	discordaudio "github.com/MrWong99/podbot/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token without the "Bot " prefix.
	Token string

	// GuildID is the guild whose voice channels are recorded.
	GuildID string
}

// intents are the gateway events the recorder needs: guild metadata and
// voice state changes.
const intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

// Bot owns the Discord gateway connection.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	guildID   string
	ready     atomic.Bool
	readyCh   chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// New creates a Bot and connects to Discord.
func New(_ context.Context, cfg Config) (*Bot, error) {
	if cfg.Token == "" || cfg.GuildID == "" {
		return nil, errors.New("discord: token and guild id are required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = intents

	b := newBot(session, cfg.GuildID)
	session.AddHandler(b.onReady)
	session.AddHandler(b.onDisconnect)
	session.AddHandler(b.onResumed)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

func newBot(session *discordgo.Session, guildID string) *Bot {
	return &Bot{
		session:  session,
		platform: discordaudio.New(session, guildID),
		guildID:  guildID,
		readyCh:  make(chan struct{}),
	}
}

// Join joins channelID of the configured guild and returns a receiver of its
// voice traffic.
func (b *Bot) Join(ctx context.Context, channelID string) (*discordaudio.Receiver, error) {
	if !b.Ready() {
		return nil, errors.New("discord: session not ready")
	}
	return b.platform.Join(ctx, channelID)
}

// WaitReady blocks until the gateway session became ready for the first
// time or ctx is done.
func (b *Bot) WaitReady(ctx context.Context) error {
	select {
	case <-b.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("discord: wait for ready: %w", ctx.Err())
	}
}

// Ready reports whether the gateway session is connected.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

// GuildID returns the target guild ID.
func (b *Bot) GuildID() string {
	return b.guildID
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Close disconnects from Discord. It is safe to call more than once.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.ready.Store(false)
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.ready.Store(true)
	b.readyOnce.Do(func() { close(b.readyCh) })
	user := ""
	if r != nil && r.User != nil {
		user = r.User.Username
	}
	slog.Info("discord session ready", "user", user, "guild", b.guildID)
}

func (b *Bot) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	b.ready.Store(true)
	slog.Info("discord session resumed")
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.ready.Store(false)
	slog.Warn("discord session disconnected")
}
