// Package preview holds the in-memory map of conversation previews and the
// reconciler that turns it into the ordered list shown to the user.
package preview

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/lensdm/internal/convkey"
)

// Preview summarizes the latest activity of a conversation.
type Preview struct {
	Key         string
	SentAt      *time.Time
	Snippet     string
	UnreadCount int
}

// sentAtMillis returns the preview's timestamp, zero when it has none.
func (p Preview) sentAtMillis() int64 {
	if p.SentAt == nil {
		return 0
	}
	return p.SentAt.UnixMilli()
}

// Tuple is one thread summary received from the messaging network.
type Tuple struct {
	Key     string
	SentAt  time.Time
	Snippet string
}

// Change describes what applying a batch did to one key.
type Change struct {
	Key     string
	Created bool
	// Advanced is set when the key's timestamp moved forward.
	Advanced bool
	// Unread is set when the change counted as a new unread message.
	Unread bool
}

// ApplyResult summarizes a batch application.
type ApplyResult struct {
	Changes []Change
	// Dropped lists keys that failed to parse and were skipped.
	Dropped []string
}

const maxSnippet = 100

// Map is the preview map. The ingestion pipeline is its only writer.
type Map struct {
	mu       sync.RWMutex
	previews map[string]*Preview
	active   string
}

// NewMap creates an empty preview map.
func NewMap() *Map {
	return &Map{previews: make(map[string]*Preview)}
}

// Apply merges a batch under a single lock, so readers see all of it or
// none of it. A key's timestamp never moves backwards.
func (m *Map) Apply(batch []Tuple) ApplyResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res ApplyResult
	for _, t := range batch {
		if _, err := convkey.ParseConversationKey(t.Key); err != nil {
			res.Dropped = append(res.Dropped, t.Key)
			continue
		}
		res.Changes = append(res.Changes, m.applyLocked(t))
	}
	return res
}

func (m *Map) applyLocked(t Tuple) Change {
	snippet := truncate(t.Snippet, maxSnippet)
	existing, ok := m.previews[t.Key]
	if !ok {
		p := &Preview{Key: t.Key, Snippet: snippet}
		if !t.SentAt.IsZero() {
			sent := t.SentAt
			p.SentAt = &sent
		}
		m.previews[t.Key] = p
		return Change{Key: t.Key, Created: true, Advanced: p.SentAt != nil}
	}

	if t.SentAt.IsZero() {
		return Change{Key: t.Key}
	}
	switch {
	case existing.SentAt == nil || t.SentAt.After(*existing.SentAt):
		sent := t.SentAt
		existing.SentAt = &sent
		existing.Snippet = snippet
		c := Change{Key: t.Key, Advanced: true}
		if t.Key != m.active {
			existing.UnreadCount++
			c.Unread = true
		}
		return c
	case t.SentAt.Equal(*existing.SentAt):
		existing.Snippet = snippet
	}
	return Change{Key: t.Key}
}

// Get returns a copy of the preview for key.
func (m *Map) Get(key string) (Preview, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.previews[key]
	if !ok {
		return Preview{}, false
	}
	return *p, true
}

// Snapshot returns an immutable copy of every preview.
func (m *Map) Snapshot() map[string]Preview {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Preview, len(m.previews))
	for k, p := range m.previews {
		out[k] = *p
	}
	return out
}

// Len returns the number of previews.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.previews)
}

// SetActive marks key as the selected conversation and zeroes its unread
// count. An empty key clears the selection.
func (m *Map) SetActive(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = key
	if p, ok := m.previews[key]; ok {
		p.UnreadCount = 0
	}
}

// Active returns the selected conversation key.
func (m *Map) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Reset drops every preview. This is the only way a timestamp can regress.
func (m *Map) Reset() {
	m.mu.Lock()
	m.previews = make(map[string]*Preview)
	m.active = ""
	m.mu.Unlock()
}

// Tab is the list filter selected by the user.
type Tab string

// ErrUnknownTab is returned by ParseTab.
var ErrUnknownTab = errors.New("unknown tab")

const (
	Inbox     Tab = "INBOX"
	Following Tab = "FOLLOWING"
)

// ParseTab accepts a tab name in any case.
func ParseTab(s string) (Tab, error) {
	switch Tab(strings.ToUpper(strings.TrimSpace(s))) {
	case Inbox:
		return Inbox, nil
	case Following:
		return Following, nil
	}
	return "", fmt.Errorf("%w %q: want inbox or following", ErrUnknownTab, s)
}

// truncate cuts s to at most maxLen runes.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}
