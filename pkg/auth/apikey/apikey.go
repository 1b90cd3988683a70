// Package apikey provides an authenticator for static service keys. Keys
// are compared as SHA-256 hashes in constant time; plaintext keys are not
// kept after construction.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rhuss/todoapi/pkg/auth"
)

// KeyEntry maps a key hash to an identity.
type KeyEntry struct {
	KeyHash  [32]byte
	Identity auth.Identity
}

// Authenticator validates service keys against a static key store.
type Authenticator struct {
	keys []KeyEntry
}

// RawKeyEntry is the configuration format for service keys.
type RawKeyEntry struct {
	Key     string
	Subject string
}

// New creates an authenticator from a list of raw keys.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		a.keys = append(a.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			Identity: auth.Identity{Subject: e.Subject, Method: "apikey"},
		})
	}
	return a
}

// Authenticate validates the key carried in the Authorization header,
// either bare or with the Bearer scheme.
//
// Returns Abstain when no keys are configured, the header is missing or
// uses another scheme; Yes on a match; No otherwise.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	if len(a.keys) == 0 {
		return auth.AuthResult{Decision: auth.Abstain}
	}

	key := auth.Credential(r)
	if key == "" || strings.ContainsRune(key, ' ') {
		return auth.AuthResult{Decision: auth.Abstain}
	}

	keyHash := sha256.Sum256([]byte(key))

	for _, entry := range a.keys {
		if subtle.ConstantTimeCompare(keyHash[:], entry.KeyHash[:]) == 1 {
			// Copy identity to avoid shared state.
			id := entry.Identity
			return auth.AuthResult{Decision: auth.Yes, Identity: &id}
		}
	}

	return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
}
