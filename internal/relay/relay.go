// Package relay fans a "stream went live" event out to every Discord
// channel subscribed to the streamer, rendering each subscriber's message
// template.
package relay

import (
	"context"
	"log/slog"
	"strings"

	"streamping/internal/models"
	"streamping/internal/twitch"
)

// Template placeholders understood in subscriber message templates.
const (
	PlaceholderLink = "$link"
	PlaceholderRole = "$role"
)

// profileURLBase is the canonical profile URL prefix for a streamer.
const profileURLBase = "https://twitch.tv/"

// SubscriberSource supplies the subscriber records for a subject.
type SubscriberSource interface {
	GetSubscribersFor(subjectID string) ([]models.Subscriber, error)
}

// NameResolver resolves a broadcaster id to its user record. The Twitch
// client implements it.
type NameResolver interface {
	GetUserByID(ctx context.Context, id string) (*twitch.User, error)
}

// ChatSender delivers messages to Discord and resolves role mentions. The
// Discord bot implements it.
type ChatSender interface {
	SendMessage(channelID, text string) error
	ResolveRoleMention(guildID, roleID string) (string, bool)
}

// Relay delivers live notifications to subscribers.
type Relay struct {
	store  SubscriberSource
	names  NameResolver
	chat   ChatSender
}

func New(store SubscriberSource, names NameResolver, chat ChatSender) *Relay {
	return &Relay{store: store, names: names, chat: chat}
}

// Relay sends one message per subscriber of subjectID. The streamer's name
// is resolved once and shared across all subscribers of the event. A failure
// to deliver to one channel never blocks delivery to the rest.
func (r *Relay) Relay(ctx context.Context, subjectID, streamID string) {
	subs, err := r.store.GetSubscribersFor(subjectID)
	if err != nil {
		slog.Error("Relay.Relay: failed to fetch subscribers", "error", err, "subject", subjectID)
		return
	}
	if len(subs) == 0 {
		slog.Debug("Relay.Relay: no subscribers for subject", "subject", subjectID)
		return
	}

	// One upstream lookup per event, not per subscriber.
	user, err := r.names.GetUserByID(ctx, subjectID)
	if err != nil {
		slog.Error("Relay.Relay: failed to resolve streamer", "error", err, "subject", subjectID)
		return
	}
	if user == nil {
		slog.Warn("Relay.Relay: streamer no longer exists", "subject", subjectID)
		return
	}
	link := profileURLBase + user.Login

	sent := 0
	for _, sub := range subs {
		text := r.render(sub, link)
		if err := r.chat.SendMessage(sub.ChannelID, text); err != nil {
			slog.Error("Relay.Relay: delivery failed", "error", err, "subject", subjectID, "channel", sub.ChannelID)
			continue
		}
		sent++
	}
	slog.Info("Relay.Relay: live notification relayed", "subject", subjectID, "stream", streamID, "sent", sent, "subscribers", len(subs))
}

// render substitutes the template placeholders for one subscriber. An
// unresolvable role becomes an empty string rather than failing the send.
func (r *Relay) render(sub models.Subscriber, link string) string {
	mention := ""
	if sub.RoleID != "" {
		if m, ok := r.chat.ResolveRoleMention(sub.GuildID, sub.RoleID); ok {
			mention = m
		} else {
			slog.Warn("Relay.render: role could not be resolved", "guild", sub.GuildID, "role", sub.RoleID)
		}
	}
	text := strings.ReplaceAll(sub.Template, PlaceholderLink, link)
	return strings.ReplaceAll(text, PlaceholderRole, mention)
}
