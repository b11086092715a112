package store

import (
	"database/sql"
	"fmt"

	"streamping/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanSubscribers drains a result set of subscriber rows.
func scanSubscribers(rows *sql.Rows) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	for rows.Next() {
		var s models.Subscriber
		var roleID sql.NullString
		if err := rows.Scan(&s.SubjectID, &s.GuildID, &s.ChannelID, &roleID, &s.Template); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber row: %w", err)
		}
		s.RoleID = roleID.String
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriber rows: %w", err)
	}
	return subs, nil
}
