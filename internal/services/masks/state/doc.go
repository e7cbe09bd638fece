// Package state holds the persisted origin, mask, link and session records and
// the rules that keep them consistent.
//
// Operations here are pure transformations over a loaded State document. They
// never touch storage; the Repository moves whole documents in and out of a
// storage transaction, so a failed operation simply discards its copy.
package state
