// Package api exposes the claim ledger over HTTP: synchronous claim calls,
// asynchronous transaction submission, read-only queries, and a websocket
// event feed. Mutating routes require an authenticated caller.
package api
