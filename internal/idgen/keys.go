package idgen

import (
	"fmt"
	"regexp"
)

var keyPattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ValidateKey checks that id is a valid caller-provided session key.
// Rules: lowercase letters, digits, and dashes; must start with a letter and
// end with a letter or digit; max 64 characters.
func ValidateKey(id string) error {
	if len(id) > 64 {
		return fmt.Errorf("session key too long (max 64 characters)")
	}
	if !keyPattern.MatchString(id) {
		return fmt.Errorf("session key %q is invalid: must match %s", id, keyPattern.String())
	}
	return nil
}
