package integration

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhuss/todoapi/pkg/api"
	"github.com/rhuss/todoapi/pkg/storage/sqlite"
)

func TestTodoAPI(t *testing.T) {
	runTodoFlow(t, testEnv)
}

func TestTodoAPI_SQLite(t *testing.T) {
	store, err := sqlite.New(context.Background(), sqlite.Config{Path: filepath.Join(t.TempDir(), "todo.db")})
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	env, err := newEnvironment(store)
	if err != nil {
		t.Fatalf("setting up environment: %v", err)
	}
	defer env.Teardown()

	runTodoFlow(t, env)
}

// runTodoFlow walks a todo through its lifecycle, checking at each step
// that the same request without a token is rejected.
func runTodoFlow(t *testing.T, env *TestEnvironment) {
	token := env.SignIn(t)
	base := env.BaseURL() + "/api/v1/todos/"
	due := time.Now().UTC().Truncate(time.Millisecond)

	input := api.TodoRequest{Data: &api.TodoInput{
		Title:       "Test Todo",
		Description: "This is a test todo",
		Completed:   false,
		DueDate:     ptr(api.NewTimestamp(due)),
	}}
	var createdID string

	t.Run("create without token", func(t *testing.T) {
		resp := send(t, http.MethodPost, base, "", input)
		decodeEnvelope(t, resp, http.StatusUnauthorized, nil)
	})

	t.Run("create", func(t *testing.T) {
		var todo api.Todo
		resp := send(t, http.MethodPost, base, token, input)
		env := decodeEnvelope(t, resp, http.StatusCreated, &todo)

		if !env.Status || env.Message != "Todo successfully created" {
			t.Errorf("envelope = %+v", env)
		}
		if todo.Title != input.Data.Title || todo.Description != input.Data.Description || todo.Completed {
			t.Errorf("todo = %+v", todo)
		}
		if todo.DueDate == nil || todo.DueDate.String() != due.Format(api.TimestampLayout) {
			t.Errorf("due_date = %v, want %s", todo.DueDate, due.Format(api.TimestampLayout))
		}
		if todo.CreatedBy == "" {
			t.Error("created_by should name the signed-in user")
		}
		createdID = todo.ID
	})
	if createdID == "" {
		t.Fatal("create failed, cannot continue")
	}
	item := base + createdID

	t.Run("list without token", func(t *testing.T) {
		decodeEnvelope(t, send(t, http.MethodGet, base, "", nil), http.StatusUnauthorized, nil)
	})

	t.Run("list", func(t *testing.T) {
		var page api.TodoPage
		env := decodeEnvelope(t, send(t, http.MethodGet, base, token, nil), http.StatusOK, &page)
		if !env.Status || env.Message != "Todo successfully retrieved" {
			t.Errorf("envelope = %+v", env)
		}
		if page.Todos == nil {
			t.Error("todos should be an array")
		}
	})

	t.Run("page without token", func(t *testing.T) {
		decodeEnvelope(t, send(t, http.MethodGet, base+"?limit=1&offset=0", "", nil), http.StatusUnauthorized, nil)
	})

	t.Run("page", func(t *testing.T) {
		var page api.TodoPage
		env := decodeEnvelope(t, send(t, http.MethodGet, base+"?limit=1&offset=0", token, nil), http.StatusOK, &page)
		if !env.Status || env.Message != "Todo successfully retrieved" {
			t.Errorf("envelope = %+v", env)
		}
		if len(page.Todos) != 1 {
			t.Errorf("todos = %d, want 1", len(page.Todos))
		}
		if page.Limit == nil || *page.Limit != 1 || page.Offset == nil || *page.Offset != 0 {
			t.Errorf("limit/offset = %v/%v", page.Limit, page.Offset)
		}
	})

	t.Run("get without token", func(t *testing.T) {
		decodeEnvelope(t, send(t, http.MethodGet, item, "", nil), http.StatusUnauthorized, nil)
	})

	t.Run("get", func(t *testing.T) {
		var todo api.Todo
		env := decodeEnvelope(t, send(t, http.MethodGet, item, token, nil), http.StatusOK, &todo)
		if !env.Status || env.Message != "Todo successfully retrieved" {
			t.Errorf("envelope = %+v", env)
		}
		if todo.ID != createdID {
			t.Errorf("id = %q, want %q", todo.ID, createdID)
		}
	})

	update := api.TodoRequest{Data: &api.TodoInput{
		Title:       "Updated Todo",
		Description: "This is an updated todo",
		Completed:   true,
		DueDate:     ptr(api.NewTimestamp(due.Add(24 * time.Hour))),
	}}

	t.Run("update without token", func(t *testing.T) {
		decodeEnvelope(t, send(t, http.MethodPut, item, "", update), http.StatusUnauthorized, nil)
	})

	t.Run("update", func(t *testing.T) {
		var todo api.Todo
		env := decodeEnvelope(t, send(t, http.MethodPut, item, token, update), http.StatusOK, &todo)
		if !env.Status || env.Message != "Todo successfully updated" {
			t.Errorf("envelope = %+v", env)
		}
		if todo.ID != createdID || todo.Title != "Updated Todo" || todo.Description != "This is an updated todo" || !todo.Completed {
			t.Errorf("todo = %+v", todo)
		}
	})

	t.Run("delete without token", func(t *testing.T) {
		decodeEnvelope(t, send(t, http.MethodDelete, item, "", update), http.StatusUnauthorized, nil)
	})

	t.Run("delete", func(t *testing.T) {
		env := decodeEnvelope(t, send(t, http.MethodDelete, item, token, nil), http.StatusOK, nil)
		if !env.Status || env.Message != "Todo successfully deleted" {
			t.Errorf("envelope = %+v", env)
		}
	})

	t.Run("get after delete", func(t *testing.T) {
		env := decodeEnvelope(t, send(t, http.MethodGet, item, token, nil), http.StatusNotFound, nil)
		if env.Status || env.Error == nil || env.Error.Type != api.ErrorTypeNotFound {
			t.Errorf("envelope = %+v", env)
		}
	})
}

func ptr[T any](v T) *T { return &v }
