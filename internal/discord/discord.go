// Package discord wraps the discordgo session for streamping.
//
// It provides the message delivery and role resolution the relay needs, and
// hosts the text command interface guild members use to manage stream
// subscriptions.
package discord

import (
	"fmt"
	"log/slog"

	"streamping/internal/models"

	"github.com/bwmarrin/discordgo"
)

// DefaultPresence is the status text shown while the bot is online.
const DefaultPresence = "!subscribe to follow a streamer"

// SubscriberStore is the slice of the storage collaborator the command
// interface needs.
type SubscriberStore interface {
	AddSubscriber(sub models.Subscriber) error
	RemoveSubscriber(subjectID, guildID string) error
	ListSubscribersForGuild(guildID string) ([]models.Subscriber, error)
}

// Opts holds configuration options for the Discord bot.
type Opts struct {
	DefaultTemplate string
	Presence        string
	Kick            func()
}

// Option defines a configuration option for the Discord bot.
type Option func(*Opts)

// WithDefaultTemplate sets the message template new subscriptions start with.
func WithDefaultTemplate(template string) Option {
	return func(o *Opts) {
		o.DefaultTemplate = template
	}
}

// WithPresence sets the status text shown while the bot is online.
func WithPresence(presence string) Option {
	return func(o *Opts) {
		o.Presence = presence
	}
}

// WithReconcileKick sets a callback invoked after subscriber changes, so the
// reconciliation loop picks up new subjects without waiting a full period.
func WithReconcileKick(kick func()) Option {
	return func(o *Opts) {
		o.Kick = kick
	}
}

// Bot wraps a discordgo session for modular use.
type Bot struct {
	session         *discordgo.Session
	store           SubscriberStore
	users           UserLookup
	defaultTemplate string
	presence        string
	kick            func()
}

// New creates the Discord bot. Open must be called to connect.
func New(token string, store SubscriberStore, users UserLookup, opts ...Option) (*Bot, error) {
	cfg := Opts{Presence: DefaultPresence}
	for _, opt := range opts {
		opt(&cfg)
	}
	if token == "" {
		return nil, fmt.Errorf("discord bot token not set")
	}
	if cfg.DefaultTemplate == "" {
		cfg.DefaultTemplate = "$role $link just went live!"
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	b := &Bot{
		session:         session,
		store:           store,
		users:           users,
		defaultTemplate: cfg.DefaultTemplate,
		presence:        cfg.Presence,
		kick:            cfg.Kick,
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessage)
	return b, nil
}

// Open connects the session to the Discord gateway.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	return nil
}

// Close disconnects the session.
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	slog.Info("Bot.onReady: discord session connected", "user", r.User.Username, "guilds", len(r.Guilds))
	if err := s.UpdateGameStatus(0, b.presence); err != nil {
		slog.Warn("Bot.onReady: failed to set presence", "error", err)
	}
}

// SendMessage delivers a rendered notification to a channel.
func (b *Bot) SendMessage(channelID, text string) error {
	if _, err := b.session.ChannelMessageSend(channelID, text); err != nil {
		return fmt.Errorf("failed to send message to channel %s: %w", channelID, err)
	}
	return nil
}

// ResolveRoleMention returns the mention token for a guild role. The state
// cache answers most lookups; a REST call covers roles the cache has not
// seen. Returns false when the role no longer exists.
func (b *Bot) ResolveRoleMention(guildID, roleID string) (string, bool) {
	if roleID == "" {
		return "", false
	}
	if role, err := b.session.State.Role(guildID, roleID); err == nil {
		return role.Mention(), true
	}
	roles, err := b.session.GuildRoles(guildID)
	if err != nil {
		slog.Warn("Bot.ResolveRoleMention: failed to fetch guild roles", "error", err, "guild", guildID)
		return "", false
	}
	for _, role := range roles {
		if role.ID == roleID {
			return role.Mention(), true
		}
	}
	return "", false
}
