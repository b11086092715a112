// Package store provides storage backends for streamping.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"streamping/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSubscribersFor(subjectID string) ([]models.Subscriber, error) {
	rows, err := s.db.Query(
		`SELECT subject_id, guild_id, channel_id, role_id, template FROM subscribers WHERE subject_id = ?`,
		subjectID,
	)
	if err != nil {
		slog.Error("SQLiteStore GetSubscribersFor query failed", "error", err, "subject", subjectID)
		return nil, fmt.Errorf("failed to query subscribers for %s: %w", subjectID, err)
	}
	defer rows.Close()
	return scanSubscribers(rows)
}

func (s *SQLiteStore) ListSubscribersForGuild(guildID string) ([]models.Subscriber, error) {
	rows, err := s.db.Query(
		`SELECT subject_id, guild_id, channel_id, role_id, template FROM subscribers WHERE guild_id = ?`,
		guildID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListSubscribersForGuild query failed", "error", err, "guild", guildID)
		return nil, fmt.Errorf("failed to query subscribers for guild %s: %w", guildID, err)
	}
	defer rows.Close()
	return scanSubscribers(rows)
}

func (s *SQLiteStore) ListSubjectsWithSubscribers() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT subject_id FROM subscribers`)
	if err != nil {
		slog.Error("SQLiteStore ListSubjectsWithSubscribers query failed", "error", err)
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

func (s *SQLiteStore) AddSubscriber(sub models.Subscriber) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO subscribers (subject_id, guild_id, channel_id, role_id, template) VALUES (?, ?, ?, ?, ?)`,
		sub.SubjectID, sub.GuildID, sub.ChannelID, nilIfEmpty(sub.RoleID), sub.Template,
	)
	if err != nil {
		slog.Error("SQLiteStore AddSubscriber failed", "error", err, "subject", sub.SubjectID, "guild", sub.GuildID)
		return fmt.Errorf("failed to insert subscriber for %s: %w", sub.SubjectID, err)
	}
	slog.Debug("SQLiteStore AddSubscriber succeeded", "subject", sub.SubjectID, "guild", sub.GuildID)
	return nil
}

func (s *SQLiteStore) RemoveSubscriber(subjectID, guildID string) error {
	_, err := s.db.Exec(`DELETE FROM subscribers WHERE subject_id = ? AND guild_id = ?`, subjectID, guildID)
	if err != nil {
		slog.Error("SQLiteStore RemoveSubscriber failed", "error", err, "subject", subjectID, "guild", guildID)
		return fmt.Errorf("failed to remove subscriber for %s: %w", subjectID, err)
	}
	slog.Debug("SQLiteStore RemoveSubscriber succeeded", "subject", subjectID, "guild", guildID)
	return nil
}

func (s *SQLiteStore) GetActiveSubscription(subjectID string) (*models.ActiveSubscription, error) {
	var sub models.ActiveSubscription
	err := s.db.QueryRow(
		`SELECT subject_id, subscription_id, secret, status FROM active_subscriptions WHERE subject_id = ?`,
		subjectID,
	).Scan(&sub.SubjectID, &sub.SubscriptionID, &sub.Secret, &sub.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetActiveSubscription failed", "error", err, "subject", subjectID)
		return nil, fmt.Errorf("failed to query active subscription for %s: %w", subjectID, err)
	}
	return &sub, nil
}

func (s *SQLiteStore) UpsertActiveSubscription(sub models.ActiveSubscription) error {
	_, err := s.db.Exec(
		`INSERT INTO active_subscriptions (subject_id, subscription_id, secret, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT (subject_id) DO UPDATE SET
		   subscription_id = excluded.subscription_id,
		   secret = excluded.secret,
		   status = excluded.status`,
		sub.SubjectID, sub.SubscriptionID, sub.Secret, sub.Status,
	)
	if err != nil {
		slog.Error("SQLiteStore UpsertActiveSubscription failed", "error", err, "subject", sub.SubjectID)
		return fmt.Errorf("failed to upsert active subscription for %s: %w", sub.SubjectID, err)
	}
	slog.Debug("SQLiteStore UpsertActiveSubscription succeeded", "subject", sub.SubjectID, "status", sub.Status)
	return nil
}

func (s *SQLiteStore) UpdateSubscriptionStatus(subscriptionID, status string) error {
	_, err := s.db.Exec(`UPDATE active_subscriptions SET status = ? WHERE subscription_id = ?`, status, subscriptionID)
	if err != nil {
		slog.Error("SQLiteStore UpdateSubscriptionStatus failed", "error", err, "subscription", subscriptionID)
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	return nil
}

// CompareAndSwapStream is a single upsert whose update clause only fires when
// the stored stream id differs, so the dedup check and write cannot race.
func (s *SQLiteStore) CompareAndSwapStream(subjectID, streamID string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO stream_dedup (subject_id, last_stream_id) VALUES (?, ?)
		 ON CONFLICT (subject_id) DO UPDATE SET last_stream_id = excluded.last_stream_id
		 WHERE stream_dedup.last_stream_id <> excluded.last_stream_id`,
		subjectID, streamID,
	)
	if err != nil {
		slog.Error("SQLiteStore CompareAndSwapStream failed", "error", err, "subject", subjectID)
		return false, fmt.Errorf("stream dedup check failed for %s: %w", subjectID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stream dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
