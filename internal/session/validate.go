package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.prohands/sessions, so the
// charset stays filesystem-safe.
var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects session names that cannot serve as a session
// directory: empty, too long, or containing anything outside [a-z0-9_-].
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 of [a-z0-9_-]", name)
	}
	return nil
}
