package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/models"
)

// ErrInvalidIdentity is returned when a malformed identity is granted or revoked.
var ErrInvalidIdentity = errors.New("invalid user identity")

// Store persists the allow-list in the allowed_users table.
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore wraps an opened and migrated database.
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: strings.ToLower(driver)}
}

// Grant adds the identity to the allow-list, updating the note if present.
func (s *Store) Grant(ctx context.Context, id models.UserID, note string) error {
	if !ValidIdentity(id) {
		return ErrInvalidIdentity
	}
	query := `INSERT INTO allowed_users (user_id, note, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET note = excluded.note`
	if s.driver == "mysql" {
		query = `INSERT INTO allowed_users (user_id, note, created_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE note = VALUES(note)`
	}
	if _, err := s.db.ExecContext(ctx, query, string(id), strings.TrimSpace(note), time.Now().UTC()); err != nil {
		return fmt.Errorf("grant %s: %w", id, err)
	}
	return nil
}

// Revoke removes the identity. Revoking an unknown identity returns sql.ErrNoRows.
func (s *Store) Revoke(ctx context.Context, id models.UserID) error {
	if !ValidIdentity(id) {
		return ErrInvalidIdentity
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM allowed_users WHERE user_id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("revoke %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns every allow-listed identity ordered by id.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM allowed_users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list allowed users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan allowed user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadPolicy merges the configured identities with the persisted allow-list.
// A nil store yields the configured list only.
func LoadPolicy(ctx context.Context, store *Store, configured []string, allowAll, groupCommandsOpen bool) (*Policy, error) {
	ids := append([]string(nil), configured...)
	if store != nil {
		stored, err := store.List(ctx)
		if err != nil {
			return nil, err
		}
		ids = append(ids, stored...)
	}
	return NewPolicy(ids, allowAll, groupCommandsOpen), nil
}
