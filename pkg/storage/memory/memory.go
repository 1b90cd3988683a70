// Package memory provides an in-memory implementation of every store the
// service needs: transport.TodoStore, users.Directory, nonce.Store and
// token.Store. Data is lost when the process restarts. Outstanding nonces
// are capped: expired ones are dropped first, then the oldest issued
// (FIFO), so the unauthenticated nonce endpoint cannot grow memory without
// bound.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/todoapi/pkg/api"
	"github.com/rhuss/todoapi/pkg/auth/nonce"
	"github.com/rhuss/todoapi/pkg/auth/token"
	"github.com/rhuss/todoapi/pkg/storage"
	"github.com/rhuss/todoapi/pkg/transport"
	"github.com/rhuss/todoapi/pkg/users"
)

// DefaultMaxNonces bounds the number of outstanding nonces.
const DefaultMaxNonces = 10000

// nonceEntry holds a stored nonce and its position in issue order.
type nonceEntry struct {
	nonce     nonce.Nonce
	queueElem *list.Element
}

// Store is an in-memory store.
type Store struct {
	mu     sync.RWMutex
	todos  map[string]*api.Todo
	users  map[string]*users.User // keyed by username
	tokens map[string]*token.AccessToken

	nonces     map[string]*nonceEntry
	nonceQueue *list.List // issue order: front = newest, back = oldest
	maxNonces  int        // 0 = unlimited
}

// Compile-time interface checks.
var (
	_ transport.TodoStore = (*Store)(nil)
	_ users.Directory     = (*Store)(nil)
	_ nonce.Store         = (*Store)(nil)
	_ token.Store         = (*Store)(nil)
)

// New creates a new in-memory store. If maxNonces is 0, outstanding nonces
// are unbounded; otherwise, at the limit, expired nonces are dropped and,
// if none expired, the oldest issued one is evicted.
func New(maxNonces int) *Store {
	return &Store{
		todos:      make(map[string]*api.Todo),
		users:      make(map[string]*users.User),
		tokens:     make(map[string]*token.AccessToken),
		nonces:     make(map[string]*nonceEntry),
		nonceQueue: list.New(),
		maxNonces:  maxNonces,
	}
}

// cloneTodo returns a deep copy so callers never share stored state.
func cloneTodo(t *api.Todo) *api.Todo {
	c := *t
	if t.DueDate != nil {
		due := *t.DueDate
		c.DueDate = &due
	}
	return &c
}

// CreateTodo persists a todo in memory.
func (s *Store) CreateTodo(ctx context.Context, todo *api.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.todos[todo.ID]; exists {
		return storage.ErrConflict
	}

	stored := cloneTodo(todo)
	if stored.CreatedBy == "" {
		stored.CreatedBy = storage.GetOwner(ctx)
	}
	todo.CreatedBy = stored.CreatedBy
	s.todos[todo.ID] = stored
	return nil
}

// GetTodo retrieves a todo by ID.
func (s *Store) GetTodo(_ context.Context, id string) (*api.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.todos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneTodo(t), nil
}

// ListTodos returns todos ordered by creation time, then ID.
func (s *Store) ListTodos(_ context.Context, opts transport.ListOptions) (*transport.TodoList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*api.Todo, 0, len(s.todos))
	for _, t := range s.todos {
		all = append(all, t)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt.Time) {
			return all[i].CreatedAt.Before(all[j].CreatedAt.Time)
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := total
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	page := make([]*api.Todo, 0, end-start)
	for _, t := range all[start:end] {
		page = append(page, cloneTodo(t))
	}

	return &transport.TodoList{Todos: page, Total: total}, nil
}

// UpdateTodo replaces the writable fields of an existing todo.
func (s *Store) UpdateTodo(_ context.Context, todo *api.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.todos[todo.ID]
	if !ok {
		return storage.ErrNotFound
	}

	updated := cloneTodo(todo)
	updated.CreatedAt = existing.CreatedAt
	updated.CreatedBy = existing.CreatedBy
	s.todos[todo.ID] = updated
	return nil
}

// DeleteTodo removes a todo.
func (s *Store) DeleteTodo(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.todos[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.todos, id)
	return nil
}

// FindByUsername returns the user with exactly this username.
func (s *Store) FindByUsername(_ context.Context, username string) (*users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, users.ErrNotFound
	}
	c := *u
	return &c, nil
}

// CreateUser stores a new user.
func (s *Store) CreateUser(_ context.Context, u *users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.Username]; exists {
		return storage.ErrConflict
	}
	c := *u
	s.users[u.Username] = &c
	return nil
}

// SaveNonce stores a freshly issued nonce. At capacity it first drops
// nonces that expired by n.IssuedAt and only then evicts the oldest issued
// nonce that is still valid.
func (s *Store) SaveNonce(_ context.Context, n *nonce.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nonces[n.Value]; exists {
		return storage.ErrConflict
	}

	if s.maxNonces > 0 && len(s.nonces) >= s.maxNonces {
		if s.dropExpiredNonces(n.IssuedAt) == 0 {
			s.evictOldestNonce()
		}
	}

	elem := s.nonceQueue.PushFront(n.Value)
	s.nonces[n.Value] = &nonceEntry{nonce: *n, queueElem: elem}
	return nil
}

// ConsumeNonce marks the nonce consumed under the write lock, so at most
// one caller can succeed. Consumed nonces are removed immediately.
func (s *Store) ConsumeNonce(_ context.Context, value string, now time.Time) (*nonce.Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.nonces[value]
	if !ok || !e.nonce.Usable(now) {
		return nil, nonce.ErrInvalid
	}

	n := e.nonce
	n.ConsumedAt = &now
	s.nonceQueue.Remove(e.queueElem)
	delete(s.nonces, value)
	return &n, nil
}

// PurgeNonces removes nonces that expired before the given time.
func (s *Store) PurgeNonces(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for value, e := range s.nonces {
		if e.nonce.ExpiresAt.Before(before) {
			s.nonceQueue.Remove(e.queueElem)
			delete(s.nonces, value)
			removed++
		}
	}
	return removed, nil
}

// SaveToken stores an access token record.
func (s *Store) SaveToken(_ context.Context, t *token.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.ID]; exists {
		return storage.ErrConflict
	}
	c := *t
	s.tokens[t.ID] = &c
	return nil
}

// LookupToken returns the record for id.
func (s *Store) LookupToken(_ context.Context, id string) (*token.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[id]
	if !ok {
		return nil, token.ErrNotFound
	}
	c := *t
	return &c, nil
}

// RevokeToken deletes the record for id.
func (s *Store) RevokeToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[id]; !ok {
		return token.ErrNotFound
	}
	delete(s.tokens, id)
	return nil
}

// PurgeTokens deletes records that expired before the given time.
func (s *Store) PurgeTokens(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// dropExpiredNonces removes expired nonces from the oldest end of the
// queue, stopping at the first one still valid at now. Nonces share one
// TTL, so issue order is expiry order. Must be called with s.mu held.
func (s *Store) dropExpiredNonces(now time.Time) int {
	removed := 0
	for elem := s.nonceQueue.Back(); elem != nil; elem = s.nonceQueue.Back() {
		value := elem.Value.(string)
		if e := s.nonces[value]; e != nil && e.nonce.Usable(now) {
			break
		}
		s.nonceQueue.Remove(elem)
		delete(s.nonces, value)
		removed++
	}
	return removed
}

// evictOldestNonce removes the oldest issued nonce (FIFO).
// Must be called with s.mu held.
func (s *Store) evictOldestNonce() {
	back := s.nonceQueue.Back()
	if back == nil {
		return
	}

	value := back.Value.(string)
	s.nonceQueue.Remove(back)
	delete(s.nonces, value)
}
