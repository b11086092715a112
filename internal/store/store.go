// Package store provides storage backends for streamping.
//
// It persists subscriber records, confirmed webhook subscriptions, and the
// per-streamer dedup state, with SQLite and PostgreSQL backends plus an
// in-memory store used in tests.
package store

import (
	"strings"

	"streamping/internal/models"
)

// Store is the storage collaborator consumed by the webhook endpoint, the
// relay, and the reconciliation loop.
type Store interface {
	// GetSubscribersFor returns every subscriber record watching subjectID.
	GetSubscribersFor(subjectID string) ([]models.Subscriber, error)

	// ListSubscribersForGuild returns every subscriber record owned by a guild.
	ListSubscribersForGuild(guildID string) ([]models.Subscriber, error)

	// ListSubjectsWithSubscribers returns the distinct subject ids that have at
	// least one subscriber record.
	ListSubjectsWithSubscribers() ([]string, error)

	// AddSubscriber inserts or replaces the subscriber record for the
	// (subject, guild) pair.
	AddSubscriber(sub models.Subscriber) error

	// RemoveSubscriber deletes a guild's subscriber record for a subject.
	RemoveSubscriber(subjectID, guildID string) error

	// GetActiveSubscription returns the confirmed subscription for a subject,
	// or nil when none exists.
	GetActiveSubscription(subjectID string) (*models.ActiveSubscription, error)

	// UpsertActiveSubscription inserts the subscription, or replaces the
	// existing record when the subject already has one.
	UpsertActiveSubscription(sub models.ActiveSubscription) error

	// UpdateSubscriptionStatus mirrors a status change reported by Twitch
	// (e.g. a revocation) onto the stored subscription.
	UpdateSubscriptionStatus(subscriptionID, status string) error

	// CompareAndSwapStream records streamID as the latest seen for subjectID.
	// It returns true when the stream had not been seen before, meaning the
	// event should be relayed. The check and write are a single atomic
	// statement, so two concurrent deliveries of the same stream cannot both
	// pass.
	CompareAndSwapStream(subjectID, streamID string) (bool, error)

	// Close releases the underlying database handle.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Postgres DSNs use
// the postgres:// URL form or the key=value form; anything else is treated as
// a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
