// Package transport defines the storage and sign-in contracts consumed by
// the HTTP layer, plus the HTTP middleware shared by every route.
//
// # Handler Interfaces
//
//   - TodoStore persists todos. Adapters live under pkg/storage.
//   - AuthService issues nonces, signs users in and revokes tokens.
//
// Both are injected into the HTTP adapter at startup; nothing in this
// package holds global state.
//
// # Middleware
//
// Middleware is plain func(http.Handler) http.Handler. Built-in middleware
// provides panic recovery, request ID assignment (X-Request-ID) and
// structured access logging via log/slog.
//
// # Errors
//
// Every failure is written as the response envelope with status false and
// an api.APIError describing the problem; see WriteAPIError.
package transport
