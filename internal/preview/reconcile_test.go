package preview

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/lensdm/internal/profiles"
)

func at(ms int64) *time.Time {
	t := time.UnixMilli(ms)
	return &t
}

func keys(entries []profiles.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out
}

func TestReconcileFollowingTab(t *testing.T) {
	entries := []profiles.Entry{
		{Key: "followed", Profile: profiles.Profile{ID: "1", IsFollowedByMe: true}},
		{Key: "stranger", Profile: profiles.Profile{ID: "2"}},
	}

	got := Reconcile(entries, nil, Following)
	if diff := cmp.Diff([]string{"followed"}, keys(got)); diff != "" {
		t.Errorf("Following mismatch (-want +got):\n%s", diff)
	}
	got = Reconcile(entries, nil, Inbox)
	if diff := cmp.Diff([]string{"stranger"}, keys(got)); diff != "" {
		t.Errorf("Inbox mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileOrdersNewestFirst(t *testing.T) {
	entries := []profiles.Entry{
		{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "d"}, {Key: "e"},
	}
	previews := map[string]Preview{
		"a": {Key: "a", SentAt: at(100)},
		"b": {Key: "b", SentAt: at(300)},
		"c": {Key: "c"},
		// d has no preview at all.
		"e": {Key: "e", SentAt: at(200)},
	}

	got := Reconcile(entries, previews, Inbox)
	want := []string{"b", "e", "a", "c", "d"}
	if diff := cmp.Diff(want, keys(got)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileTiesKeepDiscoveryOrder(t *testing.T) {
	entries := []profiles.Entry{{Key: "x"}, {Key: "y"}, {Key: "z"}, {Key: "w"}}
	previews := map[string]Preview{
		"x": {SentAt: at(50)},
		"y": {SentAt: at(80)},
		"z": {SentAt: at(50)},
		"w": {SentAt: at(80)},
	}
	got := Reconcile(entries, previews, Inbox)
	if diff := cmp.Diff([]string{"y", "w", "x", "z"}, keys(got)); diff != "" {
		t.Errorf("tie order mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	entries := []profiles.Entry{{Key: "a"}, {Key: "b"}, {Key: "c"}}
	previews := map[string]Preview{"a": {SentAt: at(1)}, "c": {SentAt: at(1)}}

	first := Reconcile(entries, previews, Inbox)
	second := Reconcile(entries, previews, Inbox)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("reconcile not idempotent (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, keys(entries)); diff != "" {
		t.Errorf("input mutated: %s", diff)
	}
}

func TestReconcileDropsDuplicates(t *testing.T) {
	entries := []profiles.Entry{
		{Key: "a", Profile: profiles.Profile{ID: "first"}},
		{Key: "a", Profile: profiles.Profile{ID: "second"}},
		{Key: "b"},
	}
	got := Reconcile(entries, nil, Inbox)
	if len(got) != 2 || got[0].Profile.ID != "first" {
		t.Errorf("got %+v, want first a then b", got)
	}
}

func TestReconcileAfterUnsync(t *testing.T) {
	entries := []profiles.Entry{
		{Key: "a", Profile: profiles.Profile{ID: "0x02"}},
		{Key: "b", Profile: profiles.Profile{ID: "0x03"}},
	}
	previews := map[string]Preview{"a": {SentAt: at(10)}, "b": {SentAt: at(5)}}

	// The caller re-reads the store after Unsync; the key is gone from input.
	got := Reconcile(entries[1:], previews, Inbox)
	if diff := cmp.Diff([]string{"b"}, keys(got)); diff != "" {
		t.Errorf("unsynced key still listed (-want +got):\n%s", diff)
	}
}
