package session

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxNameLen bounds a session name so its directory stays readable.
const MaxNameLen = 64

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

// ValidateName checks that name is usable as a session directory name:
// lower-case letters, digits, '-' and '_', at most MaxNameLen bytes.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return fmt.Errorf("%w %q: length must be 1..%d", ErrInvalidName, name, MaxNameLen)
	}
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: use a-z, 0-9, '-' or '_'", ErrInvalidName, name)
	}
	return nil
}
