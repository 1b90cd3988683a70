// Package sqlite provides a single-file SQLite implementation of the todo,
// user, nonce and token stores, built on bun. Tables are created on open.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/rhuss/todoapi/pkg/api"
	"github.com/rhuss/todoapi/pkg/auth/nonce"
	"github.com/rhuss/todoapi/pkg/auth/token"
	"github.com/rhuss/todoapi/pkg/debug"
	"github.com/rhuss/todoapi/pkg/storage"
	"github.com/rhuss/todoapi/pkg/transport"
	"github.com/rhuss/todoapi/pkg/users"
)

// Store is a SQLite-backed store.
type Store struct {
	db *bun.DB
}

// Compile-time interface checks.
var (
	_ transport.TodoStore = (*Store)(nil)
	_ users.Directory     = (*Store)(nil)
	_ nonce.Store         = (*Store)(nil)
	_ token.Store         = (*Store)(nil)
)

// New opens the database at cfg.Path and creates missing tables.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection turns
	// concurrent writers into a queue instead of "database is locked".
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	debug.Log("storage", "sqlite database ready", "path", cfg.Path)
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	for _, model := range models {
		_, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}
	_, err := s.db.NewCreateIndex().
		Model((*todoRow)(nil)).
		Index("todos_created_at_id_idx").
		Column("created_at", "id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creating index: %w", err)
	}
	return nil
}

// CreateTodo inserts a new todo.
func (s *Store) CreateTodo(ctx context.Context, todo *api.Todo) error {
	if todo.CreatedBy == "" {
		todo.CreatedBy = storage.GetOwner(ctx)
	}

	row, err := toTodoRow(todo)
	if err != nil {
		return fmt.Errorf("mapping todo: %w", err)
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting todo: %w", err)
	}
	return nil
}

// GetTodo retrieves a todo by ID.
func (s *Store) GetTodo(ctx context.Context, id string) (*api.Todo, error) {
	row := new(todoRow)
	err := s.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying todo: %w", err)
	}
	return fromTodoRow(row)
}

// ListTodos returns todos ordered by creation time, then ID.
func (s *Store) ListTodos(ctx context.Context, opts transport.ListOptions) (*transport.TodoList, error) {
	total, err := s.db.NewSelect().Model((*todoRow)(nil)).Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting todos: %w", err)
	}

	// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	var rows []todoRow
	err = s.db.NewSelect().
		Model(&rows).
		Order("created_at ASC", "id ASC").
		Limit(limit).
		Offset(opts.Offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing todos: %w", err)
	}

	todos := make([]*api.Todo, 0, len(rows))
	for i := range rows {
		todo, err := fromTodoRow(&rows[i])
		if err != nil {
			return nil, fmt.Errorf("mapping todo: %w", err)
		}
		todos = append(todos, todo)
	}
	return &transport.TodoList{Todos: todos, Total: total}, nil
}

// UpdateTodo replaces the writable fields of an existing todo.
func (s *Store) UpdateTodo(ctx context.Context, todo *api.Todo) error {
	row, err := toTodoRow(todo)
	if err != nil {
		return fmt.Errorf("mapping todo: %w", err)
	}

	result, err := s.db.NewUpdate().
		Model(row).
		Column("title", "description", "completed", "due_date", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating todo: %w", err)
	}
	return notFoundUnlessAffected(result, storage.ErrNotFound)
}

// DeleteTodo removes a todo.
func (s *Store) DeleteTodo(ctx context.Context, id string) error {
	result, err := s.db.NewDelete().
		Model((*todoRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deleting todo: %w", err)
	}
	return notFoundUnlessAffected(result, storage.ErrNotFound)
}

// FindByUsername returns the user with exactly this username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*users.User, error) {
	row := new(userRow)
	err := s.db.NewSelect().
		Model(row).
		Where("username = ?", username).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, users.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u := new(users.User)
	copier.Copy(u, row)
	return u, nil
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, u *users.User) error {
	row := new(userRow)
	copier.Copy(row, u)
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// SaveNonce inserts a freshly issued nonce.
func (s *Store) SaveNonce(ctx context.Context, n *nonce.Nonce) error {
	row := new(nonceRow)
	copier.Copy(row, n)
	row.IssuedAt = row.IssuedAt.UTC()
	row.ExpiresAt = row.ExpiresAt.UTC()
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting nonce: %w", err)
	}
	return nil
}

// ConsumeNonce marks the nonce consumed with a conditional UPDATE inside a
// transaction. Only the caller whose UPDATE touched the row succeeds.
func (s *Store) ConsumeNonce(ctx context.Context, value string, now time.Time) (*nonce.Nonce, error) {
	now = now.UTC()
	row := new(nonceRow)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewUpdate().
			Model((*nonceRow)(nil)).
			Set("consumed_at = ?", now).
			Where("value = ?", value).
			Where("consumed_at IS NULL").
			Where("expires_at > ?", now).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("consuming nonce: %w", err)
		}
		n, err := rowsAffected(result)
		if err != nil {
			return fmt.Errorf("consuming nonce: %w", err)
		}
		if n != 1 {
			debug.Log("storage", "nonce not consumable", "nonce", debug.Truncate(value, 8))
			return nonce.ErrInvalid
		}
		return tx.NewSelect().
			Model(row).
			Where("value = ?", value).
			Scan(ctx)
	})
	if err != nil {
		return nil, err
	}

	n := new(nonce.Nonce)
	copier.Copy(n, row)
	return n, nil
}

// PurgeNonces deletes consumed nonces and those that expired before the
// given time.
func (s *Store) PurgeNonces(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.NewDelete().
		Model((*nonceRow)(nil)).
		Where("expires_at < ?", before.UTC()).
		WhereOr("consumed_at IS NOT NULL").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("purging nonces: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// SaveToken inserts an access token record.
func (s *Store) SaveToken(ctx context.Context, t *token.AccessToken) error {
	row := new(tokenRow)
	copier.Copy(row, t)
	row.IssuedAt = row.IssuedAt.UTC()
	row.ExpiresAt = row.ExpiresAt.UTC()
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting access token: %w", err)
	}
	return nil
}

// LookupToken returns the record for id.
func (s *Store) LookupToken(ctx context.Context, id string) (*token.AccessToken, error) {
	row := new(tokenRow)
	err := s.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying access token: %w", err)
	}

	t := new(token.AccessToken)
	copier.Copy(t, row)
	return t, nil
}

// RevokeToken deletes the record for id.
func (s *Store) RevokeToken(ctx context.Context, id string) error {
	result, err := s.db.NewDelete().
		Model((*tokenRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoking access token: %w", err)
	}
	return notFoundUnlessAffected(result, token.ErrNotFound)
}

// PurgeTokens deletes records that expired before the given time.
func (s *Store) PurgeTokens(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.NewDelete().
		Model((*tokenRow)(nil)).
		Where("expires_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("purging access tokens: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rowsAffected is a seam over sql.Result.RowsAffected so tests can
// simulate a driver failure.
var rowsAffected = func(result sql.Result) (int64, error) {
	return result.RowsAffected()
}

func notFoundUnlessAffected(result sql.Result, notFound error) error {
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// isUniqueViolation reports a primary key or UNIQUE constraint failure.
// The message is shared by the cgo and pure-Go drivers sqliteshim picks
// between.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
