// Package storage provides utilities shared across storage adapter
// implementations, including sentinel errors and owner context helpers.
//
// Adapters (memory, postgres, sqlite) implement transport.TodoStore,
// users.Directory, nonce.Store and token.Store. This package holds only
// the shared pieces, not the interfaces.
package storage
