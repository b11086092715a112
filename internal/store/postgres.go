// Package store provides storage backends for streamping.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"streamping/internal/models"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSubscribersFor(subjectID string) ([]models.Subscriber, error) {
	rows, err := s.db.Query(
		`SELECT subject_id, guild_id, channel_id, role_id, template FROM subscribers WHERE subject_id = $1`,
		subjectID,
	)
	if err != nil {
		slog.Error("PostgresStore GetSubscribersFor query failed", "error", err, "subject", subjectID)
		return nil, fmt.Errorf("failed to query subscribers for %s: %w", subjectID, err)
	}
	defer rows.Close()
	return scanSubscribers(rows)
}

func (s *PostgresStore) ListSubscribersForGuild(guildID string) ([]models.Subscriber, error) {
	rows, err := s.db.Query(
		`SELECT subject_id, guild_id, channel_id, role_id, template FROM subscribers WHERE guild_id = $1`,
		guildID,
	)
	if err != nil {
		slog.Error("PostgresStore ListSubscribersForGuild query failed", "error", err, "guild", guildID)
		return nil, fmt.Errorf("failed to query subscribers for guild %s: %w", guildID, err)
	}
	defer rows.Close()
	return scanSubscribers(rows)
}

func (s *PostgresStore) ListSubjectsWithSubscribers() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT subject_id FROM subscribers`)
	if err != nil {
		slog.Error("PostgresStore ListSubjectsWithSubscribers query failed", "error", err)
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subject row: %w", err)
		}
		subjects = append(subjects, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subject rows: %w", err)
	}
	return subjects, nil
}

func (s *PostgresStore) AddSubscriber(sub models.Subscriber) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO subscribers (subject_id, guild_id, channel_id, role_id, template) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (subject_id, guild_id) DO UPDATE SET
		   channel_id = excluded.channel_id,
		   role_id = excluded.role_id,
		   template = excluded.template`,
		sub.SubjectID, sub.GuildID, sub.ChannelID, nilIfEmpty(sub.RoleID), sub.Template,
	)
	if err != nil {
		slog.Error("PostgresStore AddSubscriber failed", "error", err, "subject", sub.SubjectID, "guild", sub.GuildID)
		return fmt.Errorf("failed to insert subscriber for %s: %w", sub.SubjectID, err)
	}
	slog.Debug("PostgresStore AddSubscriber succeeded", "subject", sub.SubjectID, "guild", sub.GuildID)
	return nil
}

func (s *PostgresStore) RemoveSubscriber(subjectID, guildID string) error {
	_, err := s.db.Exec(`DELETE FROM subscribers WHERE subject_id = $1 AND guild_id = $2`, subjectID, guildID)
	if err != nil {
		slog.Error("PostgresStore RemoveSubscriber failed", "error", err, "subject", subjectID, "guild", guildID)
		return fmt.Errorf("failed to remove subscriber for %s: %w", subjectID, err)
	}
	slog.Debug("PostgresStore RemoveSubscriber succeeded", "subject", subjectID, "guild", guildID)
	return nil
}

func (s *PostgresStore) GetActiveSubscription(subjectID string) (*models.ActiveSubscription, error) {
	var sub models.ActiveSubscription
	err := s.db.QueryRow(
		`SELECT subject_id, subscription_id, secret, status FROM active_subscriptions WHERE subject_id = $1`,
		subjectID,
	).Scan(&sub.SubjectID, &sub.SubscriptionID, &sub.Secret, &sub.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetActiveSubscription failed", "error", err, "subject", subjectID)
		return nil, fmt.Errorf("failed to query active subscription for %s: %w", subjectID, err)
	}
	return &sub, nil
}

func (s *PostgresStore) UpsertActiveSubscription(sub models.ActiveSubscription) error {
	_, err := s.db.Exec(
		`INSERT INTO active_subscriptions (subject_id, subscription_id, secret, status) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (subject_id) DO UPDATE SET
		   subscription_id = excluded.subscription_id,
		   secret = excluded.secret,
		   status = excluded.status`,
		sub.SubjectID, sub.SubscriptionID, sub.Secret, sub.Status,
	)
	if err != nil {
		slog.Error("PostgresStore UpsertActiveSubscription failed", "error", err, "subject", sub.SubjectID)
		return fmt.Errorf("failed to upsert active subscription for %s: %w", sub.SubjectID, err)
	}
	slog.Debug("PostgresStore UpsertActiveSubscription succeeded", "subject", sub.SubjectID, "status", sub.Status)
	return nil
}

func (s *PostgresStore) UpdateSubscriptionStatus(subscriptionID, status string) error {
	_, err := s.db.Exec(`UPDATE active_subscriptions SET status = $1 WHERE subscription_id = $2`, status, subscriptionID)
	if err != nil {
		slog.Error("PostgresStore UpdateSubscriptionStatus failed", "error", err, "subscription", subscriptionID)
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	return nil
}

// CompareAndSwapStream is a single upsert whose update clause only fires when
// the stored stream id differs, so the dedup check and write cannot race.
func (s *PostgresStore) CompareAndSwapStream(subjectID, streamID string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO stream_dedup (subject_id, last_stream_id) VALUES ($1, $2)
		 ON CONFLICT (subject_id) DO UPDATE SET last_stream_id = excluded.last_stream_id
		 WHERE stream_dedup.last_stream_id <> excluded.last_stream_id`,
		subjectID, streamID,
	)
	if err != nil {
		slog.Error("PostgresStore CompareAndSwapStream failed", "error", err, "subject", subjectID)
		return false, fmt.Errorf("stream dedup check failed for %s: %w", subjectID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stream dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
