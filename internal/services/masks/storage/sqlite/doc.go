// Package sqlite provides the SQLite-backed key-value store.
//
// It is the default on-disk store used by the masquerade command: one table of
// keys, each value replaced whole inside an immediate transaction.
package sqlite
