package store

// ProfileRow is a persisted profile snapshot for one conversation key.
type ProfileRow struct {
	AccountID       string
	ConversationKey string
	ProfileID       string
	Handle          string
	Name            string
	OwnedBy         string
	IsFollowedByMe  bool
}

// BadgeRow is a persisted unread-count ledger entry.
type BadgeRow struct {
	ProfileID string
	Count     int
}
