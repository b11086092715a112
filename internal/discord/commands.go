package discord

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"streamping/internal/models"
	"streamping/internal/twitch"

	"github.com/bwmarrin/discordgo"
)

// Text commands understood in guild channels.
const (
	commandPrefix      = "!"
	commandPingMe      = "pingme"
	commandPingMeNot   = "pingmenot"
	commandSubscribe   = "subscribe"
	commandUnsubscribe = "unsubscribe"

	// commandTimeout bounds the Twitch lookups a command may trigger.
	commandTimeout = 10 * time.Second
)

// UserLookup resolves a streamer login to its Twitch user record.
type UserLookup interface {
	GetUserByLogin(ctx context.Context, login string) (*twitch.User, error)
}

// parseCommand splits a message into a command name and its arguments.
// Returns ok=false for anything that is not a prefixed command.
func parseCommand(content string) (name string, args []string, ok bool) {
	if !strings.HasPrefix(content, commandPrefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, commandPrefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	name, args, ok := parseCommand(m.Content)
	if !ok {
		return
	}

	switch name {
	case commandPingMe:
		b.handlePingMe(s, m, true)
	case commandPingMeNot:
		b.handlePingMe(s, m, false)
	case commandSubscribe:
		b.handleSubscribe(s, m, args)
	case commandUnsubscribe:
		b.handleUnsubscribe(s, m, args)
	}
}

// handlePingMe adds or removes the invoker from the ping roles of every
// subscription announced in the current channel.
func (b *Bot) handlePingMe(s *discordgo.Session, m *discordgo.MessageCreate, join bool) {
	subs, err := b.store.ListSubscribersForGuild(m.GuildID)
	if err != nil {
		slog.Error("Bot.handlePingMe: failed to list subscribers", "error", err, "guild", m.GuildID)
		return
	}
	changed := 0
	for _, sub := range subs {
		if sub.ChannelID != m.ChannelID || sub.RoleID == "" {
			continue
		}
		if join {
			err = s.GuildMemberRoleAdd(m.GuildID, m.Author.ID, sub.RoleID)
		} else {
			err = s.GuildMemberRoleRemove(m.GuildID, m.Author.ID, sub.RoleID)
		}
		if err != nil {
			slog.Error("Bot.handlePingMe: role update failed", "error", err, "guild", m.GuildID, "role", sub.RoleID, "join", join)
			continue
		}
		changed++
	}
	if changed == 0 {
		b.reply(s, m.ChannelID, "No ping roles are set up in this channel.")
		return
	}
	if join {
		slog.Info("Bot.handlePingMe: roles added", "user", m.Author.ID, "count", changed)
		b.reply(s, m.ChannelID, "You will be pinged for streams announced here.")
	} else {
		slog.Info("Bot.handlePingMe: roles removed", "user", m.Author.ID, "count", changed)
		b.reply(s, m.ChannelID, "You will no longer be pinged here.")
	}
}

// handleSubscribe wires the current channel to a streamer: it resolves the
// login on Twitch, ensures a mentionable ping role, persists the subscriber
// record, and nudges the reconciliation loop so the webhook subscription is
// created promptly.
func (b *Bot) handleSubscribe(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		b.reply(s, m.ChannelID, "Usage: !subscribe <twitch login> [role]")
		return
	}
	login := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	user, err := b.users.GetUserByLogin(ctx, login)
	if err != nil {
		slog.Error("Bot.handleSubscribe: streamer lookup failed", "error", err, "login", login)
		b.reply(s, m.ChannelID, "Could not reach Twitch, try again later.")
		return
	}
	if user == nil {
		b.reply(s, m.ChannelID, "Twitch streamer "+login+" not found")
		return
	}

	roleName := user.DisplayName + " pings"
	if len(args) >= 2 {
		roleName = args[1]
	}
	role, err := b.ensureRole(s, m.GuildID, roleName)
	if err != nil {
		slog.Error("Bot.handleSubscribe: failed to ensure role", "error", err, "guild", m.GuildID, "role", roleName)
		b.reply(s, m.ChannelID, "Could not create the ping role; check the bot's permissions.")
		return
	}

	sub := models.Subscriber{
		SubjectID: user.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		RoleID:    role.ID,
		Template:  b.defaultTemplate,
	}
	if err := b.store.AddSubscriber(sub); err != nil {
		slog.Error("Bot.handleSubscribe: failed to persist subscriber", "error", err, "subject", user.ID, "guild", m.GuildID)
		b.reply(s, m.ChannelID, "Could not save the subscription, try again later.")
		return
	}

	if err := s.GuildMemberRoleAdd(m.GuildID, m.Author.ID, role.ID); err != nil {
		slog.Warn("Bot.handleSubscribe: failed to assign role to invoker", "error", err, "user", m.Author.ID)
	}

	slog.Info("Bot.handleSubscribe: subscription added", "subject", user.ID, "login", user.Login, "guild", m.GuildID, "channel", m.ChannelID)
	if b.kick != nil {
		b.kick()
	}
	b.reply(s, m.ChannelID, "This channel will announce when "+user.DisplayName+" goes live.")
}

// handleUnsubscribe removes this guild's subscription for a streamer. The
// unused webhook subscription is pruned on the next reconciliation cycle.
func (b *Bot) handleUnsubscribe(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		b.reply(s, m.ChannelID, "Usage: !unsubscribe <twitch login>")
		return
	}
	login := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	user, err := b.users.GetUserByLogin(ctx, login)
	if err != nil {
		slog.Error("Bot.handleUnsubscribe: streamer lookup failed", "error", err, "login", login)
		b.reply(s, m.ChannelID, "Could not reach Twitch, try again later.")
		return
	}
	if user == nil {
		b.reply(s, m.ChannelID, "Twitch streamer "+login+" not found")
		return
	}

	if err := b.store.RemoveSubscriber(user.ID, m.GuildID); err != nil {
		slog.Error("Bot.handleUnsubscribe: failed to remove subscriber", "error", err, "subject", user.ID, "guild", m.GuildID)
		b.reply(s, m.ChannelID, "Could not remove the subscription, try again later.")
		return
	}

	slog.Info("Bot.handleUnsubscribe: subscription removed", "subject", user.ID, "login", user.Login, "guild", m.GuildID)
	if b.kick != nil {
		b.kick()
	}
	b.reply(s, m.ChannelID, "This guild will no longer announce "+user.DisplayName+".")
}

// ensureRole finds a guild role by id or name, creating a mentionable role
// when none matches.
func (b *Bot) ensureRole(s *discordgo.Session, guildID, idOrName string) (*discordgo.Role, error) {
	roles, err := s.GuildRoles(guildID)
	if err != nil {
		return nil, err
	}
	if role := roleByIDOrName(roles, idOrName); role != nil {
		return role, nil
	}
	mentionable := true
	return s.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: idOrName, Mentionable: &mentionable})
}

// roleByIDOrName matches a role by id first, then by exact name.
func roleByIDOrName(roles []*discordgo.Role, idOrName string) *discordgo.Role {
	for _, role := range roles {
		if role.ID == idOrName {
			return role
		}
	}
	for _, role := range roles {
		if role.Name == idOrName {
			return role
		}
	}
	return nil
}

func (b *Bot) reply(s *discordgo.Session, channelID, text string) {
	if _, err := s.ChannelMessageSend(channelID, text); err != nil {
		slog.Warn("Bot.reply: failed to send reply", "error", err, "channel", channelID)
	}
}
