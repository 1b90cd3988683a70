// Package jwt mints and verifies the HS256 access tokens handed out at
// sign-in.
//
// A token is only accepted while its jti has a live record in the token
// store, so signing out or purging a record invalidates the token even
// before its exp claim passes.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rhuss/todoapi/pkg/auth"
	"github.com/rhuss/todoapi/pkg/auth/token"
)

// DefaultIssuer is the iss claim used when none is configured.
const DefaultIssuer = "todoapi"

// MinSecretLength is the shortest HMAC secret accepted.
const MinSecretLength = 32

// Config holds the signing configuration shared by Minter and Authenticator.
type Config struct {
	// Secret is the HMAC key. Required, at least MinSecretLength bytes.
	Secret []byte

	// Issuer is the iss claim written and required. Default: "todoapi".
	Issuer string

	// TTL is the token lifetime. Default: token.DefaultTTL.
	TTL time.Duration
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.TTL <= 0 {
		c.TTL = token.DefaultTTL
	}
}

// Claims is the payload of an access token.
type Claims struct {
	jwtlib.RegisteredClaims
	Username string `json:"username"`
}

// Minter signs new access tokens.
type Minter struct {
	config Config
	now    func() time.Time
}

// NewMinter creates a Minter. It fails when the secret is too short.
func NewMinter(cfg Config) (*Minter, error) {
	cfg.applyDefaults()
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	return &Minter{config: cfg, now: time.Now}, nil
}

// Mint signs a token for the given subject and returns it with its record.
// The record is not persisted; callers save it in the token store.
func (m *Minter) Mint(subject, username string) (*token.Issued, error) {
	now := m.now().UTC().Truncate(time.Second)
	rec := &token.AccessToken{
		ID:        uuid.NewString(),
		Subject:   subject,
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.config.TTL),
	}

	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        rec.ID,
			Subject:   subject,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwtlib.NewNumericDate(rec.IssuedAt),
			NotBefore: jwtlib.NewNumericDate(rec.IssuedAt),
			ExpiresAt: jwtlib.NewNumericDate(rec.ExpiresAt),
		},
		Username: username,
	})

	signed, err := tok.SignedString(m.config.Secret)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}
	return &token.Issued{Token: signed, Record: rec}, nil
}

// Authenticator validates access tokens from the Authorization header.
type Authenticator struct {
	config Config
	store  token.Store
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator backed by the token store.
func NewAuthenticator(cfg Config, store token.Store) *Authenticator {
	cfg.applyDefaults()
	return &Authenticator{config: cfg, store: store, now: time.Now}
}

// Authenticate validates the access token and returns an identity on success.
//
// Decision outcomes:
//   - Abstain: no Authorization header, or the value is not shaped like a JWT
//   - No: token present but invalid (bad signature, wrong issuer, expired,
//     unknown or revoked jti)
//   - Yes: valid token with a live record
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	raw := auth.Credential(r)
	if raw == "" || strings.Count(raw, ".") != 2 {
		return auth.AuthResult{Decision: auth.Abstain}
	}

	claims := &Claims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (interface{}, error) {
		return a.config.Secret, nil
	}, a.parserOptions()...)
	if err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return auth.AuthResult{
			Decision: auth.No,
			Err:      fmt.Errorf("invalid access token: %w", err),
		}
	}

	if claims.Subject == "" || claims.ID == "" {
		return auth.AuthResult{
			Decision: auth.No,
			Err:      errors.New("access token missing sub or jti claim"),
		}
	}

	rec, err := token.Check(ctx, a.store, claims.ID, claims.Subject, a.now())
	if err != nil {
		if !errors.Is(err, token.ErrNotFound) && !errors.Is(err, token.ErrExpired) {
			slog.Error("token lookup failed", "error", err)
		}
		return auth.AuthResult{
			Decision: auth.No,
			Err:      fmt.Errorf("access token rejected: %w", err),
		}
	}

	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:  rec.Subject,
			Username: rec.Username,
			TokenID:  rec.ID,
			Method:   "jwt",
		},
	}
}

// parserOptions builds JWT parser options based on the configuration.
func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	return []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(a.config.Issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(a.now),
	}
}
