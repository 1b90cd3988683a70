// Package api defines the wire types of the todo service.
//
// Every response body uses the same envelope:
//
//	{"status": true, "message": "Todo successfully created", "data": {...}}
//
// Failures set status to false, carry a null data field and describe the
// problem in an [APIError].
//
// Core types:
//   - [Todo]: the CRUD resource
//   - [TodoInput]: client-supplied todo fields, wrapped in {"data": ...}
//   - [Envelope]: the response wrapper
//   - [Timestamp]: ISO-8601 time that round-trips JavaScript Date.toISOString()
//   - [APIError]: structured error with type, param, and message
//
// The package performs no I/O.
package api
