package preview

import (
	"strings"
	"testing"
	"time"
)

const keyK = "0xabc/lens.dev/dm/0x01-0x02"

func ts(ms int64) time.Time { return time.UnixMilli(ms) }

func TestApplyCreatesPreview(t *testing.T) {
	m := NewMap()
	res := m.Apply([]Tuple{{Key: keyK, SentAt: ts(100), Snippet: "gm"}})

	if len(res.Changes) != 1 || !res.Changes[0].Created {
		t.Fatalf("changes = %+v, want one created", res.Changes)
	}
	p, ok := m.Get(keyK)
	if !ok {
		t.Fatal("preview not created")
	}
	if p.SentAt == nil || p.SentAt.UnixMilli() != 100 || p.Snippet != "gm" || p.UnreadCount != 0 {
		t.Errorf("preview = %+v", p)
	}
}

func TestOutOfOrderBatchDoesNotRegress(t *testing.T) {
	m := NewMap()
	m.Apply([]Tuple{{Key: keyK, SentAt: ts(100), Snippet: "newer"}})
	res := m.Apply([]Tuple{{Key: keyK, SentAt: ts(90), Snippet: "older"}})

	p, _ := m.Get(keyK)
	if p.SentAt.UnixMilli() != 100 {
		t.Errorf("sentAt = %d, want 100", p.SentAt.UnixMilli())
	}
	if p.Snippet != "newer" {
		t.Errorf("snippet = %q, want newer", p.Snippet)
	}
	if p.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 (older message is not new)", p.UnreadCount)
	}
	if res.Changes[0].Advanced || res.Changes[0].Unread {
		t.Errorf("change = %+v, want no advance", res.Changes[0])
	}
}

func TestSentAtSequenceNonDecreasing(t *testing.T) {
	m := NewMap()
	var last int64
	for _, ms := range []int64{50, 40, 70, 70, 10, 90, 80, 100} {
		m.Apply([]Tuple{{Key: keyK, SentAt: ts(ms)}})
		p, _ := m.Get(keyK)
		got := p.SentAt.UnixMilli()
		if got < last {
			t.Fatalf("sentAt regressed from %d to %d", last, got)
		}
		last = got
	}
	if last != 100 {
		t.Errorf("final sentAt = %d, want 100", last)
	}
}

func TestUnreadSkipsActiveConversation(t *testing.T) {
	m := NewMap()
	m.Apply([]Tuple{{Key: keyK, SentAt: ts(1)}})
	m.Apply([]Tuple{{Key: keyK, SentAt: ts(2)}})
	if p, _ := m.Get(keyK); p.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", p.UnreadCount)
	}

	m.SetActive(keyK)
	if p, _ := m.Get(keyK); p.UnreadCount != 0 {
		t.Errorf("unread after SetActive = %d, want 0", p.UnreadCount)
	}
	res := m.Apply([]Tuple{{Key: keyK, SentAt: ts(3)}})
	if p, _ := m.Get(keyK); p.UnreadCount != 0 {
		t.Errorf("unread for active conversation = %d, want 0", p.UnreadCount)
	}
	if !res.Changes[0].Advanced || res.Changes[0].Unread {
		t.Errorf("change = %+v, want advanced but not unread", res.Changes[0])
	}
}

func TestNullSentAtUntilFirstMessage(t *testing.T) {
	m := NewMap()
	m.Apply([]Tuple{{Key: keyK}})
	p, _ := m.Get(keyK)
	if p.SentAt != nil {
		t.Fatalf("sentAt = %v, want nil", p.SentAt)
	}
	m.Apply([]Tuple{{Key: keyK, SentAt: ts(5), Snippet: "first"}})
	p, _ = m.Get(keyK)
	if p.SentAt == nil || p.Snippet != "first" {
		t.Errorf("preview = %+v, want first message applied", p)
	}
}

func TestMalformedKeysDropped(t *testing.T) {
	m := NewMap()
	res := m.Apply([]Tuple{
		{Key: "garbage", SentAt: ts(1)},
		{Key: keyK, SentAt: ts(2)},
		{Key: "/missing-owner", SentAt: ts(3)},
	})
	if len(res.Dropped) != 2 {
		t.Errorf("dropped = %v, want 2", res.Dropped)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	m := NewMap()
	m.Apply([]Tuple{{Key: keyK, SentAt: ts(1), Snippet: "a"}})
	snap := m.Snapshot()
	m.Apply([]Tuple{{Key: keyK, SentAt: ts(2), Snippet: "b"}})
	if snap[keyK].Snippet != "a" {
		t.Errorf("snapshot changed under writer: %+v", snap[keyK])
	}
}

func TestSnippetTruncated(t *testing.T) {
	m := NewMap()
	long := strings.Repeat("é", 150)
	m.Apply([]Tuple{{Key: keyK, SentAt: ts(1), Snippet: long}})
	p, _ := m.Get(keyK)
	if n := len([]rune(p.Snippet)); n != maxSnippet {
		t.Errorf("snippet runes = %d, want %d", n, maxSnippet)
	}
}

func TestReset(t *testing.T) {
	m := NewMap()
	m.Apply([]Tuple{{Key: keyK, SentAt: ts(100)}})
	m.SetActive(keyK)
	m.Reset()
	if m.Len() != 0 || m.Active() != "" {
		t.Errorf("Reset left Len=%d active=%q", m.Len(), m.Active())
	}
	m.Apply([]Tuple{{Key: keyK, SentAt: ts(10)}})
	if p, _ := m.Get(keyK); p.SentAt.UnixMilli() != 10 {
		t.Errorf("after reset sentAt = %d, want 10", p.SentAt.UnixMilli())
	}
}

func TestParseTab(t *testing.T) {
	tests := []struct {
		in      string
		want    Tab
		wantErr bool
	}{
		{"inbox", Inbox, false},
		{"FOLLOWING", Following, false},
		{" Following ", Following, false},
		{"requests", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTab(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseTab(%q) = %q, %v", tt.in, got, err)
		}
	}
}
