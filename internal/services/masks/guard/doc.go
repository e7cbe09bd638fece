// Package guard reviews signing requests before a mask key is used.
//
// Calls that move value (ICRC-1 transfers and ICRC-2 approvals) against a
// known ledger are decoded and rendered into a human readable summary so the
// holder can confirm exactly what is being signed. Everything else passes
// through to the session checks in the service layer.
package guard
