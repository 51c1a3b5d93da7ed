package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertProfile inserts or overwrites the snapshot for (account, key).
// The rowid of an existing row is kept, so discovery order survives updates.
func (db *DB) UpsertProfile(p *ProfileRow) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO profile_snapshots (account_id, conversation_key, profile_id, handle, name, owned_by, is_followed_by_me, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, conversation_key) DO UPDATE SET
			profile_id = excluded.profile_id,
			handle = excluded.handle,
			name = excluded.name,
			owned_by = excluded.owned_by,
			is_followed_by_me = excluded.is_followed_by_me,
			updated_at = excluded.updated_at`,
		p.AccountID, p.ConversationKey, p.ProfileID, p.Handle, p.Name, p.OwnedBy, p.IsFollowedByMe, now, now)
	return err
}

// GetProfile returns the snapshot for (account, key), or nil if absent.
func (db *DB) GetProfile(accountID, key string) (*ProfileRow, error) {
	var p ProfileRow
	err := db.QueryRow(`
		SELECT account_id, conversation_key, profile_id, handle, name, owned_by, is_followed_by_me
		FROM profile_snapshots
		WHERE account_id = ? AND conversation_key = ?`, accountID, key).
		Scan(&p.AccountID, &p.ConversationKey, &p.ProfileID, &p.Handle, &p.Name, &p.OwnedBy, &p.IsFollowedByMe)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns every snapshot of an account in discovery order.
func (db *DB) ListProfiles(accountID string) ([]ProfileRow, error) {
	rows, err := db.Query(`
		SELECT account_id, conversation_key, profile_id, handle, name, owned_by, is_followed_by_me
		FROM profile_snapshots
		WHERE account_id = ?
		ORDER BY rowid ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ProfileRow
	for rows.Next() {
		var p ProfileRow
		if err := rows.Scan(&p.AccountID, &p.ConversationKey, &p.ProfileID, &p.Handle, &p.Name, &p.OwnedBy, &p.IsFollowedByMe); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProfilesByID removes every snapshot of an account whose profile id
// matches, returning the conversation keys that were removed.
func (db *DB) DeleteProfilesByID(accountID, profileID string) ([]string, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`
		SELECT conversation_key FROM profile_snapshots
		WHERE account_id = ? AND profile_id = ?`, accountID, profileID)
	if err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			_ = rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`
		DELETE FROM profile_snapshots WHERE account_id = ? AND profile_id = ?`, accountID, profileID); err != nil {
		return nil, fmt.Errorf("delete profiles: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return keys, nil
}

// ProfileCount returns the number of snapshots stored for an account.
func (db *DB) ProfileCount(accountID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM profile_snapshots WHERE account_id = ?`, accountID).Scan(&count)
	return count, err
}
