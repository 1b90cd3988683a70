package jwt

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/todoapi/pkg/auth"
	"github.com/rhuss/todoapi/pkg/auth/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// memTokens is a minimal token.Store for tests.
type memTokens struct {
	mu   sync.Mutex
	recs map[string]*token.AccessToken
	err  error
}

func newMemTokens() *memTokens {
	return &memTokens{recs: make(map[string]*token.AccessToken)}
}

func (s *memTokens) SaveToken(_ context.Context, t *token.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[t.ID] = t
	return nil
}

func (s *memTokens) LookupToken(_ context.Context, id string) (*token.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	t, ok := s.recs[id]
	if !ok {
		return nil, token.ErrNotFound
	}
	return t, nil
}

func (s *memTokens) RevokeToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *memTokens) PurgeTokens(_ context.Context, _ time.Time) (int, error) { return 0, nil }

// newTestPair creates a Minter and an Authenticator sharing a token store.
func newTestPair(t *testing.T) (*Minter, *Authenticator, *memTokens) {
	t.Helper()
	cfg := Config{Secret: testSecret, TTL: time.Hour}
	m, err := NewMinter(cfg)
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}
	store := newMemTokens()
	return m, NewAuthenticator(cfg, store), store
}

// mintAndSave mints a token and records it like sign-in does.
func mintAndSave(t *testing.T, m *Minter, store *memTokens) *token.Issued {
	t.Helper()
	issued, err := m.Mint("user-123", "alice")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	store.SaveToken(context.Background(), issued.Record)
	return issued
}

func authenticate(a *Authenticator, header string) auth.AuthResult {
	r := httptest.NewRequest("GET", "/api/v1/todos/", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return a.Authenticate(context.Background(), r)
}

func TestNewMinter_ShortSecret(t *testing.T) {
	if _, err := NewMinter(Config{Secret: []byte("short")}); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestMint(t *testing.T) {
	m, _, _ := newTestPair(t)
	issued, err := m.Mint("user-123", "alice")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if strings.Count(issued.Token, ".") != 2 {
		t.Errorf("token %q is not a compact JWT", issued.Token)
	}
	rec := issued.Record
	if rec.ID == "" || rec.Subject != "user-123" || rec.Username != "alice" {
		t.Errorf("record = %+v", rec)
	}
	if got := rec.ExpiresAt.Sub(rec.IssuedAt); got != time.Hour {
		t.Errorf("lifetime = %v, want 1h", got)
	}

	claims := &Claims{}
	if _, err := jwtlib.ParseWithClaims(issued.Token, claims, func(*jwtlib.Token) (interface{}, error) {
		return testSecret, nil
	}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.ID != rec.ID || claims.Issuer != DefaultIssuer || claims.Username != "alice" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestJWT_ValidToken(t *testing.T) {
	m, a, store := newTestPair(t)
	issued := mintAndSave(t, m, store)

	for _, header := range []string{issued.Token, "Bearer " + issued.Token} {
		result := authenticate(a, header)
		if result.Decision != auth.Yes {
			t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
		}
		id := result.Identity
		if id.Subject != "user-123" || id.Username != "alice" || id.TokenID != issued.Record.ID || id.Method != "jwt" {
			t.Errorf("identity = %+v", id)
		}
	}
}

func TestJWT_Abstains(t *testing.T) {
	_, a, _ := newTestPair(t)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"opaque key", "Bearer sk-static-key"},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := authenticate(a, tt.header); result.Decision != auth.Abstain {
				t.Errorf("Decision = %d, want Abstain", result.Decision)
			}
		})
	}
}

func TestJWT_Rejects(t *testing.T) {
	m, a, store := newTestPair(t)
	valid := mintAndSave(t, m, store)

	otherSecret, _ := NewMinter(Config{Secret: []byte("ffffffffffffffffffffffffffffffff")})
	forged, _ := otherSecret.Mint("user-123", "alice")
	store.SaveToken(context.Background(), forged.Record)

	wrongIssuer, _ := NewMinter(Config{Secret: testSecret, Issuer: "someone-else"})
	foreign, _ := wrongIssuer.Mint("user-123", "alice")
	store.SaveToken(context.Background(), foreign.Record)

	unsaved, _ := m.Mint("user-123", "alice")

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{
		ID: valid.Record.ID, Subject: "user-123", Issuer: DefaultIssuer,
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noneToken, _ := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name   string
		header string
	}{
		{"bad signature", forged.Token},
		{"wrong issuer", foreign.Token},
		{"unknown jti", unsaved.Token},
		{"alg none", noneToken},
		{"garbage", "aaa.bbb.ccc"},
		{"spliced payload", splice(valid.Token, unsaved.Token)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := authenticate(a, tt.header); result.Decision != auth.No {
				t.Errorf("Decision = %d, want No", result.Decision)
			}
		})
	}
}

func TestJWT_ExpiredToken(t *testing.T) {
	m, a, store := newTestPair(t)
	issued := mintAndSave(t, m, store)

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	result := authenticate(a, issued.Token)
	if result.Decision != auth.No {
		t.Fatalf("Decision = %d, want No", result.Decision)
	}
}

func TestJWT_RecordExpiredBeforeClaim(t *testing.T) {
	m, a, store := newTestPair(t)
	issued := mintAndSave(t, m, store)

	// The record is authoritative even when the claim is still valid.
	issued.Record.ExpiresAt = time.Now().Add(-time.Minute)

	result := authenticate(a, issued.Token)
	if result.Decision != auth.No || !errors.Is(result.Err, token.ErrExpired) {
		t.Errorf("result = %+v, want No with ErrExpired", result)
	}
}

func TestJWT_RevokedToken(t *testing.T) {
	m, a, store := newTestPair(t)
	issued := mintAndSave(t, m, store)

	store.RevokeToken(context.Background(), issued.Record.ID)

	result := authenticate(a, issued.Token)
	if result.Decision != auth.No || !errors.Is(result.Err, token.ErrNotFound) {
		t.Errorf("result = %+v, want No with ErrNotFound", result)
	}
}

func TestJWT_StoreFailureRejects(t *testing.T) {
	m, a, store := newTestPair(t)
	issued := mintAndSave(t, m, store)
	store.err = errors.New("connection refused")

	if result := authenticate(a, issued.Token); result.Decision != auth.No {
		t.Errorf("Decision = %d, want No", result.Decision)
	}
}

// splice combines the header and signature of a with the payload of b.
func splice(a, b string) string {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	return pa[0] + "." + pb[1] + "." + pa[2]
}
