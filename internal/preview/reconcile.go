package preview

import (
	"sort"

	"github.com/matheus3301/lensdm/internal/profiles"
)

// Reconcile filters entries by tab and orders them newest first. Entries
// with no preview count as the oldest; equal timestamps keep input order.
// The first occurrence of a duplicated key wins. Inputs are not modified.
func Reconcile(entries []profiles.Entry, previews map[string]Preview, tab Tab) []profiles.Entry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]profiles.Entry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Key]; dup {
			continue
		}
		seen[e.Key] = struct{}{}
		if matchesTab(e.Profile, tab) {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return sentAt(previews, out[i].Key) > sentAt(previews, out[j].Key)
	})
	return out
}

func matchesTab(p profiles.Profile, tab Tab) bool {
	if tab == Following {
		return p.IsFollowedByMe
	}
	return !p.IsFollowedByMe
}

func sentAt(previews map[string]Preview, key string) int64 {
	p, ok := previews[key]
	if !ok {
		return 0
	}
	return p.sentAtMillis()
}
