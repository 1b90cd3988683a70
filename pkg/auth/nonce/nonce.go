// Package nonce issues single-use sign-in challenges.
//
// A nonce is handed out by [Issuer.Issue] and burned by the first
// [Store.ConsumeNonce] call that presents it, whether or not the sign-in
// attempt that carried it succeeds.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rhuss/todoapi/pkg/api"
)

// DefaultTTL is how long an unconsumed nonce stays valid.
const DefaultTTL = 5 * time.Minute

// ErrInvalid is returned when a nonce is unknown, already consumed or expired.
var ErrInvalid = errors.New("invalid or expired nonce")

// Nonce is a sign-in challenge.
type Nonce struct {
	Value      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Usable reports whether n can still be consumed at now.
func (n *Nonce) Usable(now time.Time) bool {
	return n.ConsumedAt == nil && now.Before(n.ExpiresAt)
}

// Store persists nonces.
type Store interface {
	// SaveNonce stores a freshly issued nonce.
	SaveNonce(ctx context.Context, n *Nonce) error

	// ConsumeNonce atomically marks the nonce consumed. It returns
	// ErrInvalid when the value is unknown, consumed or expired at now.
	// Of several concurrent calls with the same value, at most one succeeds.
	ConsumeNonce(ctx context.Context, value string, now time.Time) (*Nonce, error)

	// PurgeNonces deletes nonces that expired before the given time and
	// returns how many were removed.
	PurgeNonces(ctx context.Context, before time.Time) (int, error)
}

// Issuer generates and records nonces.
type Issuer struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewIssuer creates an Issuer. A non-positive ttl selects DefaultTTL.
func NewIssuer(store Store, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{store: store, ttl: ttl, now: time.Now}
}

// Issue creates a new unconsumed nonce and persists it.
func (i *Issuer) Issue(ctx context.Context) (*Nonce, error) {
	now := i.now().UTC()
	n := &Nonce{
		Value:     api.NewNonceValue(),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.SaveNonce(ctx, n); err != nil {
		return nil, fmt.Errorf("saving nonce: %w", err)
	}
	return n, nil
}

// Consume burns value. See Store.ConsumeNonce.
func (i *Issuer) Consume(ctx context.Context, value string) (*Nonce, error) {
	if value == "" {
		return nil, ErrInvalid
	}
	return i.store.ConsumeNonce(ctx, value, i.now().UTC())
}
