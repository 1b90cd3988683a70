// Package signin exchanges a username, password and nonce for an access
// token.
//
// The nonce is consumed before anything else is checked, so every attempt
// burns the nonce it carries whether or not the credentials are right.
package signin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/todoapi/pkg/api"
	"github.com/rhuss/todoapi/pkg/auth"
	"github.com/rhuss/todoapi/pkg/auth/jwt"
	"github.com/rhuss/todoapi/pkg/auth/nonce"
	"github.com/rhuss/todoapi/pkg/auth/token"
	"github.com/rhuss/todoapi/pkg/debug"
	"github.com/rhuss/todoapi/pkg/observability"
	"github.com/rhuss/todoapi/pkg/users"
)

// ErrUnauthorized is returned for any rejected sign-in: unknown user,
// wrong password, or an invalid nonce.
var ErrUnauthorized = errors.New("invalid username, password or nonce")

// Service runs the sign-in flow.
type Service struct {
	users   users.Directory
	nonces  *nonce.Issuer
	store   nonce.Store
	tokens  token.Store
	minter  *jwt.Minter
	limiter auth.RateLimiter
	now     func() time.Time

	// dummyHash is compared against when the user does not exist so
	// unknown and known usernames take the same time to reject.
	dummyHash string
}

// Option configures a Service.
type Option func(*Service)

// WithNonceTTL sets how long issued nonces stay valid.
func WithNonceTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.nonces = nonce.NewIssuer(s.store, ttl)
	}
}

// WithLimiter rate limits sign-in attempts per username.
func WithLimiter(l auth.RateLimiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// NewService creates a sign-in service.
func NewService(dir users.Directory, nonces nonce.Store, tokens token.Store, minter *jwt.Minter, opts ...Option) (*Service, error) {
	dummy, err := users.HashPassword(api.NewNonceValue())
	if err != nil {
		return nil, err
	}

	s := &Service{
		users:     dir,
		store:     nonces,
		nonces:    nonce.NewIssuer(nonces, nonce.DefaultTTL),
		tokens:    tokens,
		minter:    minter,
		now:       time.Now,
		dummyHash: dummy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueNonce hands out a fresh sign-in nonce.
func (s *Service) IssueNonce(ctx context.Context) (*nonce.Nonce, error) {
	n, err := s.nonces.Issue(ctx)
	if err != nil {
		return nil, err
	}
	observability.NoncesIssuedTotal.Inc()
	debug.Log("auth", "nonce issued", "nonce", debug.Truncate(n.Value, 8), "expires_at", n.ExpiresAt)
	return n, nil
}

// SignIn validates the credentials and nonce and returns a new access token.
// Rejections wrap ErrUnauthorized; throttled attempts wrap
// auth.ErrTooManyRequests.
func (s *Service) SignIn(ctx context.Context, username, password, nonceValue string) (*token.Issued, error) {
	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, "signin:"+username); err != nil {
			observability.RateLimitRejectedTotal.WithLabelValues("signin").Inc()
			observability.SignInsTotal.WithLabelValues("rate_limited").Inc()
			return nil, err
		}
	}

	if _, err := s.nonces.Consume(ctx, nonceValue); err != nil {
		if errors.Is(err, nonce.ErrInvalid) {
			debug.Log("auth", "sign-in nonce rejected", "nonce", debug.Truncate(nonceValue, 8))
			observability.SignInsTotal.WithLabelValues("invalid_nonce").Inc()
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		observability.SignInsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("consuming nonce: %w", err)
	}

	u, err := s.users.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		observability.SignInsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	hash := s.dummyHash
	if u != nil {
		hash = u.PasswordHash
	}
	passwordOK := users.CheckPassword(hash, password)

	if u == nil {
		debug.Log("auth", "sign-in for unknown user", "username", username)
		observability.SignInsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, users.ErrNotFound)
	}
	if !passwordOK {
		observability.SignInsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, fmt.Errorf("%w: wrong password for %q", ErrUnauthorized, username)
	}

	issued, err := s.minter.Mint(u.ID, u.Username)
	if err != nil {
		observability.SignInsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := s.tokens.SaveToken(ctx, issued.Record); err != nil {
		observability.SignInsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("saving access token: %w", err)
	}

	debug.Trace("auth", "access token minted",
		"token_id", issued.Record.ID,
		"subject", issued.Record.Subject,
		"expires_at", issued.Record.ExpiresAt,
	)
	observability.SignInsTotal.WithLabelValues("success").Inc()
	slog.Info("user signed in", "username", u.Username, "token_id", issued.Record.ID)
	return issued, nil
}

// SignOut revokes the access token with the given record ID.
// Revoking an already removed token is not an error.
func (s *Service) SignOut(ctx context.Context, tokenID string) error {
	debug.Log("auth", "revoking access token", "token_id", tokenID)
	err := s.tokens.RevokeToken(ctx, tokenID)
	if err != nil && !errors.Is(err, token.ErrNotFound) {
		return fmt.Errorf("revoking access token: %w", err)
	}
	return nil
}

// sweeper is implemented by limiters that can drop stale counters.
type sweeper interface {
	Sweep() int
}

// Purge removes nonces and token records that expired before now.
func (s *Service) Purge(ctx context.Context) error {
	now := s.now().UTC()

	n, err := s.store.PurgeNonces(ctx, now)
	if err != nil {
		return fmt.Errorf("purging nonces: %w", err)
	}
	observability.PurgedTotal.WithLabelValues("nonce").Add(float64(n))

	t, err := s.tokens.PurgeTokens(ctx, now)
	if err != nil {
		return fmt.Errorf("purging tokens: %w", err)
	}
	observability.PurgedTotal.WithLabelValues("token").Add(float64(t))

	if sw, ok := s.limiter.(sweeper); ok {
		sw.Sweep()
	}

	if n > 0 || t > 0 {
		slog.Debug("purged expired records", "nonces", n, "tokens", t)
	}
	return nil
}

// RunJanitor calls Purge every interval until ctx is cancelled.
// Purge failures are logged and retried on the next tick.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Purge(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("janitor purge failed", "error", err)
			}
		}
	}
}
