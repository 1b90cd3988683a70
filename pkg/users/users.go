// Package users holds the user directory consulted during sign-in.
//
// Users are created out of band (CLI or config seeding) and are read-only
// from the request path. Usernames match exactly; no case folding or
// trimming is applied.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rhuss/todoapi/pkg/storage"
)

// ErrNotFound is returned when no user has the requested username.
var ErrNotFound = errors.New("User not found!")

// User is a registered account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Directory looks up and creates users.
type Directory interface {
	// FindByUsername returns the user with exactly this username,
	// or ErrNotFound.
	FindByUsername(ctx context.Context, username string) (*User, error)

	// CreateUser stores a new user. A duplicate username yields
	// storage.ErrConflict.
	CreateUser(ctx context.Context, u *User) error
}

// Credentials is a username/password pair used for seeding.
type Credentials struct {
	Username string
	Password string
}

// New builds a user with a fresh ID and a bcrypt hash of password.
func New(username, password string) (*User, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// HashPassword returns the bcrypt hash of plain.
func HashPassword(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plain matches the bcrypt hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Seed creates every user in creds that does not exist yet.
// Existing users are left untouched, including their passwords.
func Seed(ctx context.Context, dir Directory, creds []Credentials) error {
	for _, c := range creds {
		_, err := dir.FindByUsername(ctx, c.Username)
		if err == nil {
			slog.Debug("seed user already exists", "username", c.Username)
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("looking up %q: %w", c.Username, err)
		}

		u, err := New(c.Username, c.Password)
		if err != nil {
			return fmt.Errorf("seeding %q: %w", c.Username, err)
		}
		if err := dir.CreateUser(ctx, u); err != nil && !errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("seeding %q: %w", c.Username, err)
		}
		slog.Info("seeded user", "username", c.Username)
	}
	return nil
}
