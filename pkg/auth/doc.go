// Package auth gates the todo API behind issued access tokens.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain.
//
// Auth is implemented as HTTP middleware, keeping it decoupled from the
// route handlers. The middleware also records the authenticated subject as
// the storage owner so that created todos carry their author.
//
// Subpackages provide the pieces of the sign-in flow: nonce (challenges),
// token (issued token records), jwt (minting and verification), apikey
// (static service keys) and signin (the exchange itself).
package auth
