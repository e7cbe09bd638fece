// Package service is the single source of truth for masks, links and
// sessions.
//
// Every entry point runs through one single-writer queue. A call holds the
// queue for its whole duration, including the time spent waiting on the
// holder to answer a confirmation prompt, so no two operations ever
// interleave against the persisted state document.
//
// A declined prompt is a normal negative result (false, or Approved=false on
// signatures) and never an error.
package service
