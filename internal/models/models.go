// Package models defines the core data structures for streamping.
//
// It includes the subscription lifecycle records and the subscriber rows
// shared between the webhook endpoint, the relay, and the reconciliation loop.
package models

import "errors"

// Subscription statuses reported by the Twitch EventSub API.
const (
	// StatusEnabled marks a subscription that completed the callback handshake.
	StatusEnabled = "enabled"
	// StatusVerificationPending marks a subscription whose handshake has not completed yet.
	StatusVerificationPending = "webhook_callback_verification_pending"
)

// Validation constants for subscriber records.
const (
	// MaxTemplateLength caps message templates at Discord's message size limit.
	MaxTemplateLength = 2000
)

// Error variables for better error handling and testability
var (
	ErrEmptySubject    = errors.New("subject id cannot be empty")
	ErrEmptyGuild      = errors.New("guild id cannot be empty")
	ErrEmptyChannel    = errors.New("channel id cannot be empty")
	ErrEmptyTemplate   = errors.New("message template cannot be empty")
	ErrTemplateTooLong = errors.New("message template exceeds maximum length")
)

// PendingSubscription is a webhook subscription that has been requested from
// Twitch but whose callback handshake has not completed. It lives only in
// process memory; after a restart the create call is re-issued by the next
// reconciliation cycle.
type PendingSubscription struct {
	RequestID string // subscription id assigned by Twitch on the create call
	SubjectID string // broadcaster user id the subscription watches
	Secret    string // shared secret the handshake must be signed with
}

// ActiveSubscription is a confirmed webhook subscription. At most one exists
// per subject; a new handshake for a known subject replaces the stored record.
type ActiveSubscription struct {
	SubscriptionID string `json:"subscription_id"`
	SubjectID      string `json:"subject_id"`
	Secret         string `json:"-"`
	Status         string `json:"status"`
}

// Enabled reports whether the subscription was in the enabled state on the
// Twitch side as of the last handshake or reconciliation.
func (a ActiveSubscription) Enabled() bool {
	return a.Status == StatusEnabled
}

// Subscriber ties one Discord guild/channel to a watched streamer. Many
// subscribers may reference the same subject. Template supports the $link and
// $role placeholders.
type Subscriber struct {
	SubjectID string `json:"subject_id"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	RoleID    string `json:"role_id,omitempty"`
	Template  string `json:"template"`
}

// Validate checks a subscriber record before it is persisted.
func (s *Subscriber) Validate() error {
	if s.SubjectID == "" {
		return ErrEmptySubject
	}
	if s.GuildID == "" {
		return ErrEmptyGuild
	}
	if s.ChannelID == "" {
		return ErrEmptyChannel
	}
	if s.Template == "" {
		return ErrEmptyTemplate
	}
	if len(s.Template) > MaxTemplateLength {
		return ErrTemplateTooLong
	}
	return nil
}
