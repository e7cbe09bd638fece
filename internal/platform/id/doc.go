// Package id generates opaque identifiers used as cross-window nonces.
package id
