// Package snapshot stores serialized durable state server-side.
//
// A Store maps an opaque id to bytes with an expiry. The store-backed state
// resolver in package token keeps each session's durable state here and only
// hands the client a signed reference to it.
//
// Backends:
//
//   - Memory: process-local, for single instance deployments and tests.
//   - Redis: shared across instances through a narrow client interface
//     compatible with go-redis.
//   - Badger: embedded on-disk key-value store with native TTLs.
//   - S3: object storage, expiry kept in object metadata.
//
// Load returns (nil, nil) for ids that are missing or expired. All backends
// are safe for concurrent use.
package snapshot
