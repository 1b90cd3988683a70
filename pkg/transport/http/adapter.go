package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/todoapi/pkg/api"
	"github.com/rhuss/todoapi/pkg/auth"
	"github.com/rhuss/todoapi/pkg/auth/signin"
	"github.com/rhuss/todoapi/pkg/debug"
	"github.com/rhuss/todoapi/pkg/observability"
	"github.com/rhuss/todoapi/pkg/storage"
	"github.com/rhuss/todoapi/pkg/transport"
)

// Adapter serves the todo API over HTTP.
// It routes requests to the appropriate handler and writes the response
// envelope.
type Adapter struct {
	todos  transport.TodoStore
	auth   transport.AuthService
	mux    *http.ServeMux
	config Config
	chain  transport.Middleware
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// MetricsPath serves the Prometheus registry. Empty disables it.
	MetricsPath string

	// ReadyTimeout bounds the store health check behind /readyz.
	ReadyTimeout time.Duration

	Validation api.ValidationConfig
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize:  1 << 20, // 1 MiB
		MetricsPath:  "/metrics",
		ReadyTimeout: 2 * time.Second,
		Validation:   api.DefaultValidationConfig(),
	}
}

// NewAdapter creates an HTTP adapter over the given store and sign-in
// service. Middleware wraps the whole mux in the given order.
func NewAdapter(todos transport.TodoStore, authSvc transport.AuthService, cfg Config, middlewares ...transport.Middleware) *Adapter {
	a := &Adapter{
		todos:  todos,
		auth:   authSvc,
		mux:    http.NewServeMux(),
		config: cfg,
		chain:  transport.Chain(middlewares...),
	}

	a.mux.HandleFunc("POST "+auth.NoncePath, a.handleIssueNonce)
	a.mux.HandleFunc("POST "+auth.SignInPath, a.handleSignIn)
	a.mux.HandleFunc("POST /api/v1/auth/signout", a.handleSignOut)

	// The collection accepts both /api/v1/todos and /api/v1/todos/.
	for _, p := range []string{"/api/v1/todos", "/api/v1/todos/{$}"} {
		a.mux.HandleFunc("POST "+p, a.handleCreateTodo)
		a.mux.HandleFunc("GET "+p, a.handleListTodos)
	}
	a.mux.HandleFunc("GET /api/v1/todos/{id}", a.handleGetTodo)
	a.mux.HandleFunc("PUT /api/v1/todos/{id}", a.handleUpdateTodo)
	a.mux.HandleFunc("DELETE /api/v1/todos/{id}", a.handleDeleteTodo)

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	if cfg.MetricsPath != "" {
		a.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	return a
}

// Handler returns the http.Handler for this adapter with its middleware
// applied. Use this to integrate with an http.Server or test with httptest.
func (a *Adapter) Handler() http.Handler {
	return a.chain(a.mux)
}

// handleIssueNonce handles POST /api/v1/auth/nonces.
func (a *Adapter) handleIssueNonce(w http.ResponseWriter, r *http.Request) {
	n, err := a.auth.IssueNonce(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusCreated, api.Success("Nonce successfully issued", api.NonceData{
		Nonce:     n.Value,
		ExpiresAt: api.NewTimestamp(n.ExpiresAt),
	}))
}

// handleSignIn handles POST /api/v1/auth/signin.
func (a *Adapter) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req api.SignInRequest
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateSignInRequest(&req); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	issued, err := a.auth.SignIn(r.Context(), req.Username, req.Password, req.Nonce)
	if err != nil {
		if errors.Is(err, signin.ErrUnauthorized) {
			slog.Warn("sign-in rejected",
				"request_id", transport.RequestIDFromContext(r.Context()),
				"error", err,
			)
			transport.WriteAPIError(w, api.NewUnauthorizedError("Invalid username, password or nonce"))
			return
		}
		a.writeError(w, r, err)
		return
	}

	transport.WriteJSON(w, http.StatusOK, api.Success("Successfully signed in", api.SignInData{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresAt:   api.NewTimestamp(issued.Record.ExpiresAt),
	}))
}

// handleSignOut handles POST /api/v1/auth/signout. Identities that did
// not come from an access token have nothing to revoke.
func (a *Adapter) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if id := auth.IdentityFromContext(r.Context()); id != nil && id.TokenID != "" {
		if err := a.auth.SignOut(r.Context(), id.TokenID); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	transport.WriteJSON(w, http.StatusOK, api.Success("Successfully signed out", nil))
}

// handleCreateTodo handles POST /api/v1/todos.
func (a *Adapter) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	var req api.TodoRequest
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateTodoRequest(&req, a.config.Validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	now := api.Now()
	todo := &api.Todo{ID: api.NewTodoID(), CreatedAt: now, UpdatedAt: now}
	todo.Apply(req.Data)

	err := a.todos.CreateTodo(r.Context(), todo)
	observability.TodoOperationsTotal.WithLabelValues("create", observability.Outcome(err)).Inc()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusCreated, api.Success("Todo successfully created", todo))
}

// handleListTodos handles GET /api/v1/todos.
func (a *Adapter) handleListTodos(w http.ResponseWriter, r *http.Request) {
	opts, paginated, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	list, err := a.todos.ListTodos(r.Context(), opts)
	observability.TodoOperationsTotal.WithLabelValues("list", observability.Outcome(err)).Inc()
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	page := api.TodoPage{Todos: list.Todos}
	if page.Todos == nil {
		page.Todos = []*api.Todo{}
	}
	if paginated {
		page.Total = &list.Total
		page.Limit = &opts.Limit
		page.Offset = &opts.Offset
	}
	transport.WriteJSON(w, http.StatusOK, api.Success("Todo successfully retrieved", page))
}

// handleGetTodo handles GET /api/v1/todos/{id}.
func (a *Adapter) handleGetTodo(w http.ResponseWriter, r *http.Request) {
	todo, err := a.todos.GetTodo(r.Context(), r.PathValue("id"))
	observability.TodoOperationsTotal.WithLabelValues("get", observability.Outcome(err)).Inc()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, api.Success("Todo successfully retrieved", todo))
}

// handleUpdateTodo handles PUT /api/v1/todos/{id}. The body replaces every
// writable field.
func (a *Adapter) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	var req api.TodoRequest
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateTodoRequest(&req, a.config.Validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	todo, err := a.todos.GetTodo(r.Context(), r.PathValue("id"))
	if err == nil {
		todo.Apply(req.Data)
		todo.UpdatedAt = api.Now()
		err = a.todos.UpdateTodo(r.Context(), todo)
	}
	observability.TodoOperationsTotal.WithLabelValues("update", observability.Outcome(err)).Inc()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, api.Success("Todo successfully updated", todo))
}

// handleDeleteTodo handles DELETE /api/v1/todos/{id}.
func (a *Adapter) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	err := a.todos.DeleteTodo(r.Context(), r.PathValue("id"))
	observability.TodoOperationsTotal.WithLabelValues("delete", observability.Outcome(err)).Inc()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, api.Success("Todo successfully deleted", nil))
}

// handleHealthz reports liveness.
func (a *Adapter) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleReadyz reports readiness based on the todo store.
func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.config.ReadyTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := a.todos.HealthCheck(ctx); err != nil {
		slog.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// decode reads a JSON body into v. On failure it writes the error response
// and returns false.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return false
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		debug.Log("transport", "request body rejected", "path", r.URL.Path, "error", err)
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// writeError maps a store or service error to a response.
func (a *Adapter) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, storage.ErrNotFound):
		apiErr = api.NewNotFoundError("Todo not found")
	case errors.Is(err, auth.ErrTooManyRequests):
		apiErr = api.NewTooManyRequestsError("Too many sign-in attempts, try again later")
	default:
		slog.Error("request failed",
			"request_id", transport.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		apiErr = api.NewServerError("internal server error")
	}
	transport.WriteAPIError(w, apiErr)
}

// parseListOptions extracts pagination parameters from the query string.
// paginated reports whether the client asked for a page at all.
func parseListOptions(r *http.Request) (opts transport.ListOptions, paginated bool, apiErr *api.APIError) {
	q := r.URL.Query()

	if q.Has("limit") {
		paginated = true
		limit, err := strconv.Atoi(q.Get("limit"))
		if err != nil || limit < 1 || limit > transport.MaxListLimit {
			return opts, false, api.NewInvalidRequestError("limit",
				fmt.Sprintf("limit must be an integer between 1 and %d", transport.MaxListLimit))
		}
		opts.Limit = limit
	}

	if q.Has("offset") {
		paginated = true
		offset, err := strconv.Atoi(q.Get("offset"))
		if err != nil || offset < 0 {
			return opts, false, api.NewInvalidRequestError("offset", "offset must be a non-negative integer")
		}
		opts.Offset = offset
	}

	if paginated && opts.Limit == 0 {
		opts.Limit = transport.MaxListLimit
	}
	return opts, paginated, nil
}
