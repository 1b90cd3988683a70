package transport

import (
	"context"

	"github.com/rhuss/todoapi/pkg/api"
	"github.com/rhuss/todoapi/pkg/auth/nonce"
	"github.com/rhuss/todoapi/pkg/auth/token"
)

// MaxListLimit is the largest page size a client may request.
const MaxListLimit = 100

// ListOptions controls pagination for ListTodos. A zero Limit returns
// every todo starting at Offset.
type ListOptions struct {
	Limit  int
	Offset int
}

// TodoList is one page of todos plus the total number stored.
type TodoList struct {
	Todos []*api.Todo
	Total int
}

// TodoStore handles persistence of todos.
type TodoStore interface {
	// CreateTodo persists a new todo. The ID and timestamps are already set.
	CreateTodo(ctx context.Context, todo *api.Todo) error

	// GetTodo retrieves a todo by ID or returns storage.ErrNotFound.
	GetTodo(ctx context.Context, id string) (*api.Todo, error)

	// ListTodos returns todos ordered by created_at ascending, then ID.
	ListTodos(ctx context.Context, opts ListOptions) (*TodoList, error)

	// UpdateTodo replaces the writable fields and updated_at of an
	// existing todo. Returns storage.ErrNotFound for unknown IDs.
	UpdateTodo(ctx context.Context, todo *api.Todo) error

	// DeleteTodo removes a todo. Returns storage.ErrNotFound for unknown IDs.
	DeleteTodo(ctx context.Context, id string) error

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases database connections and resources.
	Close() error
}

// AuthService runs the nonce and sign-in flow.
type AuthService interface {
	IssueNonce(ctx context.Context) (*nonce.Nonce, error)
	SignIn(ctx context.Context, username, password, nonceValue string) (*token.Issued, error)
	SignOut(ctx context.Context, tokenID string) error
}
