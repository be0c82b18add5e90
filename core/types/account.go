package types

import (
	"fmt"
	"strings"
)

const (
	minAccountIDLength = 2
	maxAccountIDLength = 64
)

// AccountID names an account on the host ledger (e.g. "alice.near").
type AccountID string

func (a AccountID) String() string { return string(a) }

// Validate enforces the host naming rules: lowercase alphanumeric parts joined
// by single '-', '_' or '.' separators.
func (a AccountID) Validate() error {
	s := string(a)
	if len(s) < minAccountIDLength || len(s) > maxAccountIDLength {
		return fmt.Errorf("account id %q: length must be between %d and %d", s, minAccountIDLength, maxAccountIDLength)
	}
	lastSeparator := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			lastSeparator = false
		case c == '-' || c == '_' || c == '.':
			if lastSeparator {
				return fmt.Errorf("account id %q: separator at position %d", s, i)
			}
			lastSeparator = true
		default:
			return fmt.Errorf("account id %q: invalid character %q", s, c)
		}
	}
	if lastSeparator {
		return fmt.Errorf("account id %q: trailing separator", s)
	}
	return nil
}

// ParseAccountID trims and validates the supplied account identifier.
func ParseAccountID(raw string) (AccountID, error) {
	id := AccountID(strings.TrimSpace(raw))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}
