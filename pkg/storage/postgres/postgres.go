// Package postgres provides a PostgreSQL implementation of the todo, user,
// nonce and token stores. It uses pgx/v5 for connection pooling and goose
// for schema migrations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/todoapi/pkg/api"
	"github.com/rhuss/todoapi/pkg/auth/nonce"
	"github.com/rhuss/todoapi/pkg/auth/token"
	"github.com/rhuss/todoapi/pkg/debug"
	"github.com/rhuss/todoapi/pkg/storage"
	"github.com/rhuss/todoapi/pkg/transport"
	"github.com/rhuss/todoapi/pkg/users"
)

// Store is a PostgreSQL-backed store.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time interface checks.
var (
	_ transport.TodoStore = (*Store)(nil)
	_ users.Directory     = (*Store)(nil)
	_ nonce.Store         = (*Store)(nil)
	_ token.Store         = (*Store)(nil)
)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	debug.Log("storage", "postgres pool ready", "max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

const todoColumns = `id, title, description, completed, due_date, created_by, created_at, updated_at`

// CreateTodo inserts a new todo.
func (s *Store) CreateTodo(ctx context.Context, todo *api.Todo) error {
	if todo.CreatedBy == "" {
		todo.CreatedBy = storage.GetOwner(ctx)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO todos (`+todoColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		todo.ID, todo.Title, todo.Description, todo.Completed,
		dueTime(todo.DueDate), todo.CreatedBy, todo.CreatedAt.Time, todo.UpdatedAt.Time,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting todo: %w", err)
	}
	return nil
}

// GetTodo retrieves a todo by ID.
func (s *Store) GetTodo(ctx context.Context, id string) (*api.Todo, error) {
	if !api.ValidateTodoID(id) {
		return nil, storage.ErrNotFound
	}

	row := s.pool.QueryRow(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = $1`, id)
	todo, err := scanTodo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying todo: %w", err)
	}
	return todo, nil
}

// ListTodos returns todos ordered by creation time, then ID.
func (s *Store) ListTodos(ctx context.Context, opts transport.ListOptions) (*transport.TodoList, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM todos`).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting todos: %w", err)
	}

	query := `SELECT ` + todoColumns + ` FROM todos ORDER BY created_at ASC, id ASC OFFSET $1`
	args := []any{opts.Offset}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing todos: %w", err)
	}
	defer rows.Close()

	todos := []*api.Todo{}
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning todo: %w", err)
		}
		todos = append(todos, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing todos: %w", err)
	}

	return &transport.TodoList{Todos: todos, Total: total}, nil
}

// UpdateTodo replaces the writable fields of an existing todo.
func (s *Store) UpdateTodo(ctx context.Context, todo *api.Todo) error {
	if !api.ValidateTodoID(todo.ID) {
		return storage.ErrNotFound
	}

	result, err := s.pool.Exec(ctx, `
		UPDATE todos
		SET title = $2, description = $3, completed = $4, due_date = $5, updated_at = $6
		WHERE id = $1
	`,
		todo.ID, todo.Title, todo.Description, todo.Completed,
		dueTime(todo.DueDate), todo.UpdatedAt.Time,
	)
	if err != nil {
		return fmt.Errorf("updating todo: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteTodo removes a todo.
func (s *Store) DeleteTodo(ctx context.Context, id string) error {
	if !api.ValidateTodoID(id) {
		return storage.ErrNotFound
	}

	result, err := s.pool.Exec(ctx, `DELETE FROM todos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting todo: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// FindByUsername returns the user with exactly this username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*users.User, error) {
	var u users.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, users.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, u *users.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, created_at) VALUES ($1, $2, $3, $4)
	`, u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// SaveNonce inserts a freshly issued nonce.
func (s *Store) SaveNonce(ctx context.Context, n *nonce.Nonce) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO nonces (value, issued_at, expires_at) VALUES ($1, $2, $3)
	`, n.Value, n.IssuedAt, n.ExpiresAt)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting nonce: %w", err)
	}
	return nil
}

// ConsumeNonce marks the nonce consumed in a single conditional UPDATE, so
// concurrent callers race on the row lock and only one sees a row returned.
func (s *Store) ConsumeNonce(ctx context.Context, value string, now time.Time) (*nonce.Nonce, error) {
	n := nonce.Nonce{Value: value}
	var consumedAt time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE nonces SET consumed_at = $2
		WHERE value = $1 AND consumed_at IS NULL AND expires_at > $2
		RETURNING issued_at, expires_at, consumed_at
	`, value, now).Scan(&n.IssuedAt, &n.ExpiresAt, &consumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		debug.Log("storage", "nonce not consumable", "nonce", debug.Truncate(value, 8))
		return nil, nonce.ErrInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("consuming nonce: %w", err)
	}
	n.ConsumedAt = &consumedAt
	return &n, nil
}

// PurgeNonces deletes consumed nonces and those that expired before the
// given time.
func (s *Store) PurgeNonces(ctx context.Context, before time.Time) (int, error) {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM nonces WHERE expires_at < $1 OR consumed_at IS NOT NULL
	`, before)
	if err != nil {
		return 0, fmt.Errorf("purging nonces: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// SaveToken inserts an access token record.
func (s *Store) SaveToken(ctx context.Context, t *token.AccessToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO access_tokens (id, subject, username, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.Subject, t.Username, t.IssuedAt, t.ExpiresAt)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting access token: %w", err)
	}
	return nil
}

// LookupToken returns the record for id.
func (s *Store) LookupToken(ctx context.Context, id string) (*token.AccessToken, error) {
	if !api.IsUUID(id) {
		return nil, token.ErrNotFound
	}

	t := token.AccessToken{ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT subject, username, issued_at, expires_at FROM access_tokens WHERE id = $1
	`, id).Scan(&t.Subject, &t.Username, &t.IssuedAt, &t.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying access token: %w", err)
	}
	return &t, nil
}

// RevokeToken deletes the record for id.
func (s *Store) RevokeToken(ctx context.Context, id string) error {
	if !api.IsUUID(id) {
		return token.ErrNotFound
	}

	result, err := s.pool.Exec(ctx, `DELETE FROM access_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoking access token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return token.ErrNotFound
	}
	return nil
}

// PurgeTokens deletes records that expired before the given time.
func (s *Store) PurgeTokens(ctx context.Context, before time.Time) (int, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM access_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purging access tokens: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// scanTodo reads one todo row in todoColumns order.
func scanTodo(row pgx.Row) (*api.Todo, error) {
	var (
		todo             api.Todo
		due              *time.Time
		created, updated time.Time
	)
	if err := row.Scan(
		&todo.ID, &todo.Title, &todo.Description, &todo.Completed,
		&due, &todo.CreatedBy, &created, &updated,
	); err != nil {
		return nil, err
	}
	if due != nil {
		ts := api.NewTimestamp(*due)
		todo.DueDate = &ts
	}
	todo.CreatedAt = api.NewTimestamp(created)
	todo.UpdatedAt = api.NewTimestamp(updated)
	return &todo, nil
}

// dueTime converts a nullable due date to a nullable column value.
func dueTime(ts *api.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
