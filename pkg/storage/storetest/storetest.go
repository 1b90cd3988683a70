// Package storetest holds the behavior tests every storage adapter must
// pass. Adapter packages call Run from their own _test.go files.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/todoapi/pkg/api"
	"github.com/rhuss/todoapi/pkg/auth/nonce"
	"github.com/rhuss/todoapi/pkg/auth/token"
	"github.com/rhuss/todoapi/pkg/storage"
	"github.com/rhuss/todoapi/pkg/transport"
	"github.com/rhuss/todoapi/pkg/users"
)

// Store is the full set of interfaces an adapter implements.
type Store interface {
	transport.TodoStore
	users.Directory
	nonce.Store
	token.Store
}

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) Store

// Run exercises every store operation against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("TodoCRUD", func(t *testing.T) { testTodoCRUD(t, newStore(t)) })
	t.Run("TodoNotFound", func(t *testing.T) { testTodoNotFound(t, newStore(t)) })
	t.Run("TodoDuplicate", func(t *testing.T) { testTodoDuplicate(t, newStore(t)) })
	t.Run("TodoOwner", func(t *testing.T) { testTodoOwner(t, newStore(t)) })
	t.Run("ListOrderAndPaging", func(t *testing.T) { testListOrderAndPaging(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("NonceConsume", func(t *testing.T) { testNonceConsume(t, newStore(t)) })
	t.Run("NonceConcurrentConsume", func(t *testing.T) { testNonceConcurrentConsume(t, newStore(t)) })
	t.Run("NoncePurge", func(t *testing.T) { testNoncePurge(t, newStore(t)) })
	t.Run("Tokens", func(t *testing.T) { testTokens(t, newStore(t)) })
	t.Run("HealthCheck", func(t *testing.T) {
		if err := newStore(t).HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck: %v", err)
		}
	})
}

// NewTodo builds a todo created at the given instant.
func NewTodo(title string, createdAt time.Time) *api.Todo {
	ts := api.NewTimestamp(createdAt)
	return &api.Todo{
		ID:          api.NewTodoID(),
		Title:       title,
		Description: "description of " + title,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

func testTodoCRUD(t *testing.T, s Store) {
	ctx := context.Background()
	due := api.NewTimestamp(time.Date(2030, 1, 2, 3, 4, 5, 678_000_000, time.UTC))

	todo := NewTodo("Test Todo", time.Now())
	todo.DueDate = &due
	if err := s.CreateTodo(ctx, todo); err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}

	got, err := s.GetTodo(ctx, todo.ID)
	if err != nil {
		t.Fatalf("GetTodo: %v", err)
	}
	if got.Title != todo.Title || got.Description != todo.Description || got.Completed {
		t.Errorf("GetTodo = %+v, want %+v", got, todo)
	}
	if got.DueDate == nil || got.DueDate.String() != "2030-01-02T03:04:05.678Z" {
		t.Errorf("DueDate = %v, want 2030-01-02T03:04:05.678Z", got.DueDate)
	}
	if !got.CreatedAt.Equal(todo.CreatedAt.Time) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, todo.CreatedAt)
	}

	updated := *got
	updated.Title = "Updated Todo"
	updated.Description = ""
	updated.Completed = true
	updated.DueDate = nil
	updated.UpdatedAt = api.NewTimestamp(time.Now().Add(time.Second))
	if err := s.UpdateTodo(ctx, &updated); err != nil {
		t.Fatalf("UpdateTodo: %v", err)
	}

	got, err = s.GetTodo(ctx, todo.ID)
	if err != nil {
		t.Fatalf("GetTodo after update: %v", err)
	}
	if got.Title != "Updated Todo" || got.Description != "" || !got.Completed || got.DueDate != nil {
		t.Errorf("after update = %+v", got)
	}
	if !got.CreatedAt.Equal(todo.CreatedAt.Time) {
		t.Errorf("update changed CreatedAt to %v", got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(updated.UpdatedAt.Time) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, updated.UpdatedAt)
	}

	if err := s.DeleteTodo(ctx, todo.ID); err != nil {
		t.Fatalf("DeleteTodo: %v", err)
	}
	if _, err := s.GetTodo(ctx, todo.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetTodo after delete = %v, want ErrNotFound", err)
	}
}

func testTodoNotFound(t *testing.T, s Store) {
	ctx := context.Background()
	missing := NewTodo("ghost", time.Now())

	for _, id := range []string{missing.ID, "not-a-uuid"} {
		if _, err := s.GetTodo(ctx, id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetTodo(%q) = %v, want ErrNotFound", id, err)
		}
		if err := s.DeleteTodo(ctx, id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("DeleteTodo(%q) = %v, want ErrNotFound", id, err)
		}
	}
	if err := s.UpdateTodo(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateTodo(missing) = %v, want ErrNotFound", err)
	}
}

func testTodoDuplicate(t *testing.T, s Store) {
	ctx := context.Background()
	todo := NewTodo("dup", time.Now())
	if err := s.CreateTodo(ctx, todo); err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}
	if err := s.CreateTodo(ctx, todo); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("second CreateTodo = %v, want ErrConflict", err)
	}
}

func testTodoOwner(t *testing.T, s Store) {
	ctx := storage.SetOwner(context.Background(), "user-42")
	todo := NewTodo("owned", time.Now())
	if err := s.CreateTodo(ctx, todo); err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}

	// Todos are shared: another caller sees the record and its author.
	other := storage.SetOwner(context.Background(), "user-7")
	got, err := s.GetTodo(other, todo.ID)
	if err != nil {
		t.Fatalf("GetTodo: %v", err)
	}
	if got.CreatedBy != "user-42" {
		t.Errorf("CreatedBy = %q, want %q", got.CreatedBy, "user-42")
	}
}

func testListOrderAndPaging(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	var ids []string
	// Insert out of order; listing must sort by created_at.
	for _, offset := range []int{2, 0, 1} {
		todo := NewTodo("todo", base.Add(time.Duration(offset)*time.Minute))
		if err := s.CreateTodo(ctx, todo); err != nil {
			t.Fatalf("CreateTodo: %v", err)
		}
		ids = append(ids, todo.ID)
	}
	want := []string{ids[1], ids[2], ids[0]}

	all, err := s.ListTodos(ctx, transport.ListOptions{})
	if err != nil {
		t.Fatalf("ListTodos: %v", err)
	}
	if all.Total != 3 || len(all.Todos) != 3 {
		t.Fatalf("ListTodos = %d todos (total %d), want 3", len(all.Todos), all.Total)
	}
	for i, todo := range all.Todos {
		if todo.ID != want[i] {
			t.Errorf("Todos[%d] = %s, want %s", i, todo.ID, want[i])
		}
	}

	tests := []struct {
		name    string
		opts    transport.ListOptions
		wantIDs []string
	}{
		{"first page", transport.ListOptions{Limit: 1}, want[:1]},
		{"second page", transport.ListOptions{Limit: 2, Offset: 1}, want[1:]},
		{"offset only", transport.ListOptions{Offset: 2}, want[2:]},
		{"past the end", transport.ListOptions{Limit: 10, Offset: 5}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.ListTodos(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListTodos: %v", err)
			}
			if page.Total != 3 {
				t.Errorf("Total = %d, want 3", page.Total)
			}
			if page.Todos == nil {
				t.Error("Todos is nil, want empty slice")
			}
			if len(page.Todos) != len(tt.wantIDs) {
				t.Fatalf("len(Todos) = %d, want %d", len(page.Todos), len(tt.wantIDs))
			}
			for i, todo := range page.Todos {
				if todo.ID != tt.wantIDs[i] {
					t.Errorf("Todos[%d] = %s, want %s", i, todo.ID, tt.wantIDs[i])
				}
			}
		})
	}
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()

	u, err := users.New("Alice", "s3cret")
	if err != nil {
		t.Fatalf("users.New: %v", err)
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := s.FindByUsername(ctx, "Alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if got.ID != u.ID || !users.CheckPassword(got.PasswordHash, "s3cret") {
		t.Errorf("FindByUsername = %+v", got)
	}

	// Exact match only.
	for _, name := range []string{"alice", "Alice ", "Bob"} {
		if _, err := s.FindByUsername(ctx, name); !errors.Is(err, users.ErrNotFound) {
			t.Errorf("FindByUsername(%q) = %v, want ErrNotFound", name, err)
		}
	}

	dup, _ := users.New("Alice", "other")
	if err := s.CreateUser(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate CreateUser = %v, want ErrConflict", err)
	}
}

func newNonce(value string, issued time.Time, ttl time.Duration) *nonce.Nonce {
	return &nonce.Nonce{Value: value, IssuedAt: issued, ExpiresAt: issued.Add(ttl)}
}

func testNonceConsume(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := newNonce(api.NewNonceValue(), now, time.Minute)
	expired := newNonce(api.NewNonceValue(), now.Add(-time.Hour), time.Minute)
	for _, n := range []*nonce.Nonce{fresh, expired} {
		if err := s.SaveNonce(ctx, n); err != nil {
			t.Fatalf("SaveNonce: %v", err)
		}
	}

	got, err := s.ConsumeNonce(ctx, fresh.Value, now)
	if err != nil {
		t.Fatalf("ConsumeNonce: %v", err)
	}
	if got.Value != fresh.Value || got.ConsumedAt == nil {
		t.Errorf("ConsumeNonce = %+v", got)
	}

	if _, err := s.ConsumeNonce(ctx, fresh.Value, now); !errors.Is(err, nonce.ErrInvalid) {
		t.Errorf("reused nonce = %v, want ErrInvalid", err)
	}
	if _, err := s.ConsumeNonce(ctx, expired.Value, now); !errors.Is(err, nonce.ErrInvalid) {
		t.Errorf("expired nonce = %v, want ErrInvalid", err)
	}
	if _, err := s.ConsumeNonce(ctx, "unknown", now); !errors.Is(err, nonce.ErrInvalid) {
		t.Errorf("unknown nonce = %v, want ErrInvalid", err)
	}
}

func testNonceConcurrentConsume(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	n := newNonce(api.NewNonceValue(), now, time.Minute)
	if err := s.SaveNonce(ctx, n); err != nil {
		t.Fatalf("SaveNonce: %v", err)
	}

	var wins, failures atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeNonce(ctx, n.Value, now)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, nonce.ErrInvalid):
				failures.Add(1)
			default:
				t.Errorf("ConsumeNonce: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("successful consumes = %d, want exactly 1", wins.Load())
	}
	if failures.Load() != 9 {
		t.Errorf("rejected consumes = %d, want 9", failures.Load())
	}
}

func testNoncePurge(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	live := newNonce(api.NewNonceValue(), now, time.Hour)
	stale := newNonce(api.NewNonceValue(), now.Add(-2*time.Hour), time.Hour)
	for _, n := range []*nonce.Nonce{live, stale} {
		if err := s.SaveNonce(ctx, n); err != nil {
			t.Fatalf("SaveNonce: %v", err)
		}
	}

	removed, err := s.PurgeNonces(ctx, now)
	if err != nil {
		t.Fatalf("PurgeNonces: %v", err)
	}
	if removed != 1 {
		t.Errorf("PurgeNonces removed %d, want 1", removed)
	}
	if _, err := s.ConsumeNonce(ctx, live.Value, now); err != nil {
		t.Errorf("live nonce was purged: %v", err)
	}
}

func testTokens(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	live := &token.AccessToken{
		ID: api.NewTodoID(), Subject: "user-1", Username: "alice",
		IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	stale := &token.AccessToken{
		ID: api.NewTodoID(), Subject: "user-1", Username: "alice",
		IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	for _, tok := range []*token.AccessToken{live, stale} {
		if err := s.SaveToken(ctx, tok); err != nil {
			t.Fatalf("SaveToken: %v", err)
		}
	}

	got, err := s.LookupToken(ctx, live.ID)
	if err != nil {
		t.Fatalf("LookupToken: %v", err)
	}
	if got.Subject != "user-1" || got.Username != "alice" || !got.ExpiresAt.Equal(live.ExpiresAt) {
		t.Errorf("LookupToken = %+v, want %+v", got, live)
	}

	if _, err := token.Check(ctx, s, stale.ID, "user-1", now); !errors.Is(err, token.ErrExpired) {
		t.Errorf("Check(stale) = %v, want ErrExpired", err)
	}

	removed, err := s.PurgeTokens(ctx, now)
	if err != nil {
		t.Fatalf("PurgeTokens: %v", err)
	}
	if removed != 1 {
		t.Errorf("PurgeTokens removed %d, want 1", removed)
	}

	if err := s.RevokeToken(ctx, live.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := s.LookupToken(ctx, live.ID); !errors.Is(err, token.ErrNotFound) {
		t.Errorf("LookupToken after revoke = %v, want ErrNotFound", err)
	}
	if err := s.RevokeToken(ctx, live.ID); !errors.Is(err, token.ErrNotFound) {
		t.Errorf("second RevokeToken = %v, want ErrNotFound", err)
	}

	// IDs that are not UUIDs are unknown, not a storage failure.
	for _, id := range []string{"not-a-uuid", ""} {
		if _, err := s.LookupToken(ctx, id); !errors.Is(err, token.ErrNotFound) {
			t.Errorf("LookupToken(%q) = %v, want ErrNotFound", id, err)
		}
		if err := s.RevokeToken(ctx, id); !errors.Is(err, token.ErrNotFound) {
			t.Errorf("RevokeToken(%q) = %v, want ErrNotFound", id, err)
		}
	}
}
