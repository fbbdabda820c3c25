// Package stores persists the operation history of a mu project.
// It uses SQLite (modernc.org/sqlite, no cgo) in WAL mode with schema
// migrations embedded and applied by golang-migrate.
package stores
