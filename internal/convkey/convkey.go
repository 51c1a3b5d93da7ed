// Package convkey derives and parses the identifiers of two-party conversations.
package convkey

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the owner address and the conversation id inside a key.
const Separator = "/"

// idPrefix namespaces conversation ids derived from two profile ids.
const idPrefix = "lens.dev/dm/"

// ErrMalformedKey is returned when a conversation key cannot be split into
// a non-empty owner address and conversation id.
var ErrMalformedKey = errors.New("malformed conversation key")

// Key is the parsed form of a conversation key.
type Key struct {
	OwnerAddress   string
	ConversationID string
}

// String rebuilds the canonical key.
func (k Key) String() string {
	return BuildConversationKey(k.OwnerAddress, k.ConversationID)
}

// BuildConversationID returns the same id for (a, b) and (b, a).
func BuildConversationID(ownerProfileID, counterpartProfileID string) string {
	low, high := ownerProfileID, counterpartProfileID
	if high < low {
		low, high = high, low
	}
	return idPrefix + low + "-" + high
}

// BuildConversationKey lower-cases the address and joins it to the id.
// The address must satisfy ValidateOwnerAddress or the key will not parse
// back to the same pair; use NewConversationKey for unchecked input.
func BuildConversationKey(ownerAddress, conversationID string) string {
	return strings.ToLower(ownerAddress) + Separator + conversationID
}

// ValidateOwnerAddress rejects addresses that cannot head a key.
func ValidateOwnerAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty owner address", ErrMalformedKey)
	}
	if strings.Contains(addr, Separator) {
		return fmt.Errorf("%w: owner address %q contains %q", ErrMalformedKey, addr, Separator)
	}
	return nil
}

// NewConversationKey is BuildConversationKey for untrusted input.
func NewConversationKey(ownerAddress, conversationID string) (string, error) {
	if err := ValidateOwnerAddress(ownerAddress); err != nil {
		return "", err
	}
	if conversationID == "" {
		return "", fmt.Errorf("%w: empty conversation id", ErrMalformedKey)
	}
	return BuildConversationKey(ownerAddress, conversationID), nil
}

// ParseConversationKey splits key on the first separator. The conversation
// id may itself contain separators; the address never does.
func ParseConversationKey(key string) (Key, error) {
	addr, id, ok := strings.Cut(key, Separator)
	if !ok || addr == "" || id == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	return Key{OwnerAddress: addr, ConversationID: id}, nil
}

// ParseConversationID returns the two member profile ids of an id built by
// BuildConversationID. ok is false for ids from any other namespace.
func ParseConversationID(id string) (low, high string, ok bool) {
	rest, found := strings.CutPrefix(id, idPrefix)
	if !found {
		return "", "", false
	}
	low, high, found = strings.Cut(rest, "-")
	if !found || low == "" || high == "" {
		return "", "", false
	}
	return low, high, true
}

// Counterpart returns the member of the conversation that is not self.
func Counterpart(conversationID, self string) (string, bool) {
	low, high, ok := ParseConversationID(conversationID)
	if !ok {
		return "", false
	}
	switch self {
	case low:
		return high, true
	case high:
		return low, true
	}
	return "", false
}
