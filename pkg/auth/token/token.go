// Package token keeps the server-side record of issued access tokens.
//
// Every access token handed to a client has a record here. A token is
// valid only while its record exists and has not expired, so a bearer
// credential can be revoked by deleting the record.
package token

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the lifetime of an access token.
const DefaultTTL = time.Hour

// Token lookup errors.
var (
	ErrNotFound = errors.New("access token not found")
	ErrExpired  = errors.New("access token expired")
)

// AccessToken is the stored record of an issued token. ID is the JWT jti.
type AccessToken struct {
	ID        string
	Subject   string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is no longer valid at now.
func (t *AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Issued is what sign-in hands back: the signed token string and its record.
type Issued struct {
	Token  string
	Record *AccessToken
}

// Store persists token records.
type Store interface {
	SaveToken(ctx context.Context, t *AccessToken) error

	// LookupToken returns the record for id or ErrNotFound. It does not
	// check expiry; callers use Check.
	LookupToken(ctx context.Context, id string) (*AccessToken, error)

	// RevokeToken deletes the record. Unknown ids yield ErrNotFound.
	RevokeToken(ctx context.Context, id string) error

	// PurgeTokens deletes records that expired before the given time.
	PurgeTokens(ctx context.Context, before time.Time) (int, error)
}

// Check looks id up and verifies it is unexpired at now and belongs to subject.
func Check(ctx context.Context, store Store, id, subject string, now time.Time) (*AccessToken, error) {
	rec, err := store.LookupToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Expired(now) {
		return nil, ErrExpired
	}
	if rec.Subject != subject {
		return nil, ErrNotFound
	}
	return rec, nil
}
