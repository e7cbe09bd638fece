package guard

import (
	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
)

// CallKind distinguishes update calls from read-only queries.
type CallKind string

const (
	// CallKindCall is a state-changing update call.
	CallKindCall CallKind = "call"
	// CallKindQuery is a read-only query.
	CallKindQuery CallKind = "query"
)

// CallContent describes the canister call a challenge commits to.
type CallContent struct {
	Kind       CallKind `json:"kind"`
	CanisterID string   `json:"canisterId"`
	Method     string   `json:"method"`
	Arg        []byte   `json:"arg,omitempty"`
}

// SignRequest is one request to sign Challenge with the session's mask.
type SignRequest struct {
	Challenge []byte       `json:"challenge"`
	Salt      []byte       `json:"salt,omitempty"`
	Target    string       `json:"target,omitempty"`
	Call      *CallContent `json:"call,omitempty"`
}

// Validate checks the request shape.
func (r SignRequest) Validate() error {
	if len(r.Challenge) == 0 {
		return apperrors.New(apperrors.CodeInvalidInput, "challenge is required")
	}
	if r.Call == nil {
		return nil
	}
	switch r.Call.Kind {
	case CallKindCall, CallKindQuery:
	default:
		return apperrors.WithMetadata(apperrors.CodeInvalidInput, "unknown call kind", map[string]string{"kind": string(r.Call.Kind)})
	}
	if r.Call.CanisterID == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "call canister is required")
	}
	if r.Call.Method == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "call method is required")
	}
	return nil
}

// SignResult carries the signature. Approved is false when the holder
// declined the transfer prompt; nothing is signed in that case.
type SignResult struct {
	Signature []byte `json:"signature,omitempty"`
	PublicKey []byte `json:"publicKey,omitempty"`
	Approved  bool   `json:"approved"`
}
