// Package profiles keeps the social-graph profile snapshot of each
// conversation, scoped to the signed-in account.
package profiles

import (
	"fmt"
	"sync"

	"github.com/matheus3301/lensdm/internal/store"
)

// Profile is a snapshot of a counterpart's social-graph profile. A profile
// with an empty ID is a placeholder for an address with no profile.
type Profile struct {
	ID             string
	Handle         string
	Name           string
	OwnedBy        string
	IsFollowedByMe bool
}

// Synced reports whether the snapshot came from the profile directory.
func (p Profile) Synced() bool {
	return p.ID != ""
}

// Entry pairs a conversation key with its snapshot.
type Entry struct {
	Key     string
	Profile Profile
}

// Backend is the persistent storage behind a Store.
type Backend interface {
	UpsertProfile(p *store.ProfileRow) error
	ListProfiles(accountID string) ([]store.ProfileRow, error)
	DeleteProfilesByID(accountID, profileID string) ([]string, error)
}

// Store is a write-through cache of one account's snapshots. It holds at
// most one snapshot per key and remembers the order keys were discovered.
type Store struct {
	backend   Backend
	accountID string

	mu      sync.RWMutex
	order   []string
	entries map[string]Profile
}

// Open loads the snapshots of accountID from backend.
func Open(backend Backend, accountID string) (*Store, error) {
	rows, err := backend.ListProfiles(accountID)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	s := &Store{
		backend:   backend,
		accountID: accountID,
		entries:   make(map[string]Profile, len(rows)),
	}
	for _, r := range rows {
		s.order = append(s.order, r.ConversationKey)
		s.entries[r.ConversationKey] = fromRow(r)
	}
	return s, nil
}

// AccountID returns the account this store is scoped to.
func (s *Store) AccountID() string {
	return s.accountID
}

// Persist writes or overwrites the snapshot for key.
func (s *Store) Persist(key string, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.UpsertProfile(toRow(s.accountID, key, p)); err != nil {
		return fmt.Errorf("persist profile %q: %w", key, err)
	}
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = p
	return nil
}

// Get returns the snapshot for key.
func (s *Store) Get(key string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entries[key]
	return p, ok
}

// Unsync removes every snapshot of profileID and returns the affected keys.
// An empty id is ignored so placeholders are never dropped wholesale.
func (s *Store) Unsync(profileID string) ([]string, error) {
	if profileID == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.backend.DeleteProfilesByID(s.accountID, profileID)
	if err != nil {
		return nil, fmt.Errorf("unsync profile %q: %w", profileID, err)
	}
	for key, p := range s.entries {
		if p.ID == profileID {
			delete(s.entries, key)
		}
	}
	kept := s.order[:0]
	for _, key := range s.order {
		if _, ok := s.entries[key]; ok {
			kept = append(kept, key)
		}
	}
	s.order = kept
	return removed, nil
}

// All returns a copy of every entry in discovery order.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, Entry{Key: key, Profile: s.entries[key]})
	}
	return out
}

// Len returns the number of snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func toRow(accountID, key string, p Profile) *store.ProfileRow {
	return &store.ProfileRow{
		AccountID:       accountID,
		ConversationKey: key,
		ProfileID:       p.ID,
		Handle:          p.Handle,
		Name:            p.Name,
		OwnedBy:         p.OwnedBy,
		IsFollowedByMe:  p.IsFollowedByMe,
	}
}

func fromRow(r store.ProfileRow) Profile {
	return Profile{
		ID:             r.ProfileID,
		Handle:         r.Handle,
		Name:           r.Name,
		OwnedBy:        r.OwnedBy,
		IsFollowedByMe: r.IsFollowedByMe,
	}
}
