package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a secret from a fallback function, an environment
// variable or by prompting the operator. The value is cached after the first
// successful retrieval so repeated calls reuse the same secret.
type Source struct {
	label    string
	envVar   string
	fallback func() (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source for the secret named label. fallback is
// consulted first; an empty result moves on to envVar and then the terminal.
func NewSource(label, envVar string, fallback func() (string, error)) *Source {
	return &Source{label: strings.TrimSpace(label), envVar: strings.TrimSpace(envVar), fallback: fallback}
}

// Get returns the cached secret or resolves it if this is the first call.
// Whitespace-only secrets are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.fallback != nil {
			value, err := s.fallback()
			if err != nil {
				s.err = err
				return
			}
			if strings.TrimSpace(value) != "" {
				s.value = value
				return
			}
		}
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(os.Stderr, "Enter %s: ", s.label)
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read %s: %w", s.label, err)
			return
		}

		secret := string(bytes)
		if strings.TrimSpace(secret) == "" {
			s.err = errors.New(s.label + " cannot be empty")
			return
		}
		s.value = secret
	})

	return s.value, s.err
}
