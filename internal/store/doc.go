// ABOUTME: Package store holds the encrypted record store types and backends
// ABOUTME: RemoteStore is the HTTP client; SQLiteStore the server-side persistence

// Package store defines the encrypted record store: the wire types shared by
// client and server, the MigrationStore interface the coordinator consumes,
// an HTTP client implementation, and a SQLite-backed server implementation
// whose execute phase is atomic.
package store
