// Package badge tracks unread counts per profile.
package badge

import (
	"fmt"
	"sync"

	"github.com/matheus3301/lensdm/internal/convkey"
	"github.com/matheus3301/lensdm/internal/store"
)

// LedgerID returns the badge id for a conversation: the counterpart's
// profile id when the conversation id names it, otherwise the key itself.
func LedgerID(key, selfProfileID string) string {
	k, err := convkey.ParseConversationKey(key)
	if err != nil {
		return key
	}
	if id, ok := convkey.Counterpart(k.ConversationID, selfProfileID); ok {
		return id
	}
	return key
}

// Ledger persists badge counts. *store.DB implements it.
type Ledger interface {
	SetBadge(profileID string, count int) error
	ListBadges() ([]store.BadgeRow, error)
}

// Tracker is the per-profile unread ledger. Counts never go below zero.
type Tracker struct {
	ledger Ledger

	mu     sync.Mutex
	counts map[string]int
}

// NewTracker creates a tracker. ledger may be nil for an in-memory tracker.
func NewTracker(ledger Ledger) *Tracker {
	return &Tracker{ledger: ledger, counts: make(map[string]int)}
}

// Load replaces the in-memory counts with the persisted ledger.
func (t *Tracker) Load() error {
	if t.ledger == nil {
		return nil
	}
	rows, err := t.ledger.ListBadges()
	if err != nil {
		return fmt.Errorf("load badges: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = make(map[string]int, len(rows))
	for _, r := range rows {
		if r.Count > 0 {
			t.counts[r.ProfileID] = r.Count
		}
	}
	return nil
}

// Increment adds one unread message for profileID.
func (t *Tracker) Increment(profileID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.counts[profileID] + 1
	if err := t.persist(profileID, next); err != nil {
		return err
	}
	t.counts[profileID] = next
	return nil
}

// Clear sets the count for profileID to zero.
func (t *Tracker) Clear(profileID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[profileID] == 0 {
		return nil
	}
	if err := t.persist(profileID, 0); err != nil {
		return err
	}
	delete(t.counts, profileID)
	return nil
}

// Total returns the unread count for profileID.
func (t *Tracker) Total(profileID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[profileID]
}

// Reset forgets every in-memory count. The ledger is reset by its owner.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.counts = make(map[string]int)
	t.mu.Unlock()
}

func (t *Tracker) persist(profileID string, count int) error {
	if t.ledger == nil {
		return nil
	}
	if err := t.ledger.SetBadge(profileID, count); err != nil {
		return fmt.Errorf("persist badge %q: %w", profileID, err)
	}
	return nil
}
