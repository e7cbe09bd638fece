// Package storage defines the key-value transaction contract the mask state is
// persisted through.
//
// The broker reads a whole document, mutates it and writes it back inside one
// Update call. Backends only have to provide atomic multi-key transactions;
// memory, SQLite and bbolt implementations live in subpackages.
package storage
