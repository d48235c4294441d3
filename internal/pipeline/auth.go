package pipeline

import (
	"crypto/subtle"
	"errors"
)

var (
	// ErrMissingCredential is returned when a key is configured but the
	// request carries none.
	ErrMissingCredential = errors.New("missing API key")
	// ErrInvalidCredential is returned when the presented key does not match.
	ErrInvalidCredential = errors.New("invalid API key")
)

// Authenticator verifies the shared API key presented by callers.
type Authenticator struct {
	key []byte
}

// NewAuthenticator creates an Authenticator. An empty key disables
// authentication.
func NewAuthenticator(key string) *Authenticator {
	return &Authenticator{key: []byte(key)}
}

// Enabled reports whether a key is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.key) > 0
}

// Verify checks presented against the configured key. The comparison is
// exact and runs in constant time.
func (a *Authenticator) Verify(presented string) error {
	if !a.Enabled() {
		return nil
	}
	if presented == "" {
		return ErrMissingCredential
	}
	if subtle.ConstantTimeCompare([]byte(presented), a.key) != 1 {
		return ErrInvalidCredential
	}
	return nil
}
