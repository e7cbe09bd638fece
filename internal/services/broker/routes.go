package broker

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
	"github.com/louisbranch/masquerade/internal/services/masks/state"
)

// Route names a flow.
type Route string

const (
	RouteLogin    Route = "login"
	RouteTransfer Route = "transfer"
	RouteRequest  Route = "request"
)

// RouteSpec binds a route to its payload schema and default result.
type RouteSpec struct {
	Route Route
	// Validate checks a request payload.
	Validate func(payload json.RawMessage) error
	// Default is the negative result used when a flow is abandoned.
	Default func() any
}

var routeSpecs = map[Route]RouteSpec{
	RouteLogin: {
		Route:    RouteLogin,
		Validate: validateInto[LoginPayload],
		Default:  func() any { return LoginResult{} },
	},
	RouteTransfer: {
		Route:    RouteTransfer,
		Validate: validateInto[TransferPayload],
		Default:  func() any { return TransferResult{Status: TransferCancelled} },
	},
	RouteRequest: {
		Route:    RouteRequest,
		Validate: validateInto[RequestPayload],
		Default:  func() any { return RequestResult{} },
	},
}

// Lookup returns the schema and default bound to route.
func Lookup(route Route) (RouteSpec, error) {
	spec, ok := routeSpecs[route]
	if !ok {
		return RouteSpec{}, apperrors.WithMetadata(apperrors.CodeUnknownRoute, "unknown route", map[string]string{"route": string(route)})
	}
	return spec, nil
}

// DefaultResult returns the encoded default result of route.
func DefaultResult(route Route) (json.RawMessage, error) {
	spec, err := Lookup(route)
	if err != nil {
		return nil, err
	}
	return json.Marshal(spec.Default())
}

type validator interface {
	validate() error
}

// DecodePayload strictly decodes raw into T and validates it.
func DecodePayload[T any, P interface {
	*T
	validator
}](raw json.RawMessage) (T, error) {
	var out T
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&out); err != nil {
		return out, apperrors.Wrap(apperrors.CodeInvalidInput, "decode payload", err)
	}
	if err := P(&out).validate(); err != nil {
		return out, err
	}
	return out, nil
}

func validateInto[T any, P interface {
	*T
	validator
}](raw json.RawMessage) error {
	_, err := DecodePayload[T, P](raw)
	return err
}

func invalid(message string) error {
	return apperrors.New(apperrors.CodeInvalidInput, message)
}

// LoginPayload asks the popup to log the opener in.
type LoginPayload struct {
	MaskIndex        *uint32 `json:"maskIndex,omitempty"`
	DerivationOrigin string  `json:"derivationOrigin,omitempty"`
}

func (p *LoginPayload) validate() error {
	if p.DerivationOrigin == "" {
		return nil
	}
	if _, err := state.NormalizeOrigin(p.DerivationOrigin); err != nil {
		return err
	}
	return nil
}

// LoginResult answers a login flow.
type LoginResult struct {
	Result    bool   `json:"result"`
	Principal string `json:"principal,omitempty"`
	Assertion string `json:"assertion,omitempty"`
}

// TransferAccount is the destination of a transfer, in text form.
type TransferAccount struct {
	Owner string `json:"owner"`
	// Subaccount is hex encoded.
	Subaccount string `json:"subaccount,omitempty"`
}

// TransferPayload asks the popup to sign a ledger transfer.
type TransferPayload struct {
	// Asset is a ledger canister id or a registered symbol.
	Asset  string          `json:"asset"`
	To     TransferAccount `json:"to"`
	Amount uint64          `json:"amount"`
	// Memo is hex encoded.
	Memo string  `json:"memo,omitempty"`
	Fee  *uint64 `json:"fee,omitempty"`
}

// MaxMemoSize bounds transfer memos in bytes.
const MaxMemoSize = 32

func (p *TransferPayload) validate() error {
	if strings.TrimSpace(p.Asset) == "" {
		return invalid("asset is required")
	}
	if _, err := identity.ParsePrincipal(p.To.Owner); err != nil {
		return err
	}
	if p.To.Subaccount != "" {
		sub, err := hex.DecodeString(p.To.Subaccount)
		if err != nil || len(sub) != 32 {
			return invalid("subaccount must be 32 hex encoded bytes")
		}
	}
	if p.Amount == 0 {
		return invalid("amount must be positive")
	}
	if p.Memo != "" {
		memo, err := hex.DecodeString(p.Memo)
		if err != nil || len(memo) > MaxMemoSize {
			return invalid(fmt.Sprintf("memo must be at most %d hex encoded bytes", MaxMemoSize))
		}
	}
	return nil
}

// TransferStatus is the outcome of a transfer flow.
type TransferStatus string

const (
	TransferAccepted  TransferStatus = "accepted"
	TransferRejected  TransferStatus = "rejected"
	TransferCancelled TransferStatus = "cancelled"
)

// TransferResult answers a transfer flow.
type TransferResult struct {
	Status    TransferStatus `json:"status"`
	Signature []byte         `json:"signature,omitempty"`
	Principal string         `json:"principal,omitempty"`
}

// Generic request methods.
const (
	MethodLink   = "link"
	MethodUnlink = "unlink"
	MethodLogout = "logout"
)

// RequestPayload carries a generic method call.
type RequestPayload struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// LinkParams names the origin a link or unlink is about.
type LinkParams struct {
	Origin string `json:"origin"`
}

func (p *RequestPayload) validate() error {
	switch p.Method {
	case MethodLink, MethodUnlink:
		var params LinkParams
		if len(p.Params) == 0 {
			return invalid("params are required")
		}
		if err := json.Unmarshal(p.Params, &params); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "decode params", err)
		}
		if _, err := state.NormalizeOrigin(params.Origin); err != nil {
			return err
		}
		return nil
	case MethodLogout:
		return nil
	default:
		return apperrors.WithMetadata(apperrors.CodeInvalidInput, "unknown method", map[string]string{"method": p.Method})
	}
}

// RequestResult answers a generic request.
type RequestResult struct {
	Result bool `json:"result"`
}
