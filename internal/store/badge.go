package store

import "time"

// SetBadge stores the unread count for a profile. Negative counts are
// rejected by the table's CHECK constraint.
func (db *DB) SetBadge(profileID string, count int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO badges (profile_id, count, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			count = excluded.count,
			updated_at = excluded.updated_at`,
		profileID, count, now)
	return err
}

// ListBadges returns every non-zero ledger entry.
func (db *DB) ListBadges() ([]BadgeRow, error) {
	rows, err := db.Query(`SELECT profile_id, count FROM badges WHERE count > 0 ORDER BY profile_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []BadgeRow
	for rows.Next() {
		var b BadgeRow
		if err := rows.Scan(&b.ProfileID, &b.Count); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ClearBadges zeroes the whole ledger.
func (db *DB) ClearBadges() error {
	_, err := db.Exec(`DELETE FROM badges`)
	return err
}
