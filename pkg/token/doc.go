// Package token turns a session's durable state into an opaque string the
// client carries between exchanges, and back.
//
// Two resolvers are provided. JWT packs the state into a self-contained
// HMAC-signed token; nothing is kept on the server. StoreResolver keeps the
// state in a snapshot.Store and hands out a signed reference to it, which
// keeps tokens small for large states.
//
// Both fail with ErrInvalidToken for anything they did not issue or that has
// expired. Callers treat that as "start from empty state".
package token
