package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/broker"
	"github.com/louisbranch/masquerade/internal/services/broker/window"
	"github.com/louisbranch/masquerade/internal/services/masks/guard"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
	"github.com/louisbranch/masquerade/internal/services/masks/service"
)

// DefaultAssertionTTL bounds how long a login assertion is accepted.
const DefaultAssertionTTL = 5 * time.Minute

// callChallengeDomain separates call challenges from other signed payloads.
const callChallengeDomain = "masquerade/call/v1"

// Config tunes the popup host.
type Config struct {
	AssertionTTL time.Duration
	// Openers restricts which sites may open the popup. Empty accepts any.
	Openers []string
}

// Host answers one broker flow per popup window.
type Host struct {
	svc          *service.Service
	assertionTTL time.Duration
	filter       broker.OriginFilter
	clock        func() time.Time
}

// NewHost builds a host over svc.
func NewHost(svc *service.Service, cfg Config) (*Host, error) {
	if svc == nil {
		return nil, errors.New("mask service is required")
	}
	ttl := cfg.AssertionTTL
	if ttl <= 0 {
		ttl = DefaultAssertionTTL
	}
	filter := broker.AllowAny
	if len(cfg.Openers) > 0 {
		filter = broker.AllowOrigins(cfg.Openers...)
	}
	return &Host{svc: svc, assertionTTL: ttl, filter: filter, clock: time.Now}, nil
}

// Serve handles the single request an opener sends through win. Failures
// leave the request unanswered, so closing the connection delivers the route
// default to the opener.
func (h *Host) Serve(ctx context.Context, win window.Window) error {
	conn := broker.Establish(ctx, win, h.filter)
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, window.ErrClosed) {
			log.Printf("popup: close: %v", err)
		}
	}()

	req, err := conn.Next(ctx, broker.RouteLogin, broker.RouteTransfer, broker.RouteRequest)
	if err != nil {
		if req != nil {
			log.Printf("popup: reject %s request from %s: %v", req.Route, req.Origin, err)
		}
		return err
	}

	result, err := h.dispatch(ctx, req)
	if err != nil {
		if apperrors.CodeOf(err).Fatal() {
			log.Printf("popup: %s request from %s: %v", req.Route, req.Origin, err)
		}
		return err
	}
	return req.Respond(result)
}

func (h *Host) dispatch(ctx context.Context, req *broker.Request) (any, error) {
	switch req.Route {
	case broker.RouteLogin:
		payload, err := broker.DecodePayload[broker.LoginPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		return h.login(ctx, req, payload)
	case broker.RouteTransfer:
		payload, err := broker.DecodePayload[broker.TransferPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		return h.transfer(ctx, payload)
	case broker.RouteRequest:
		payload, err := broker.DecodePayload[broker.RequestPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		return h.request(ctx, req.Origin, payload)
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownRoute, "unknown route", map[string]string{"route": string(req.Route)})
	}
}

func (h *Host) login(ctx context.Context, req *broker.Request, payload broker.LoginPayload) (broker.LoginResult, error) {
	var index uint32
	if payload.MaskIndex != nil {
		index = *payload.MaskIndex
	}
	approved, err := h.svc.Login(ctx, req.Origin, index, payload.DerivationOrigin)
	if err != nil {
		return broker.LoginResult{}, err
	}
	if !approved {
		return broker.LoginResult{}, nil
	}

	der, err := h.svc.GetPublicKey(ctx, req.Origin, nil)
	if err != nil {
		return broker.LoginResult{}, err
	}
	pub, err := identity.ParseDERPublicKey(der)
	if err != nil {
		return broker.LoginResult{}, err
	}
	assertion, err := issueAssertion(ctx, h.svc.Sign, req.Origin, pub, req.Nonce, h.clock(), h.assertionTTL)
	if err != nil {
		return broker.LoginResult{}, err
	}
	return broker.LoginResult{
		Result:    true,
		Principal: identity.PrincipalFromPublicKey(pub).String(),
		Assertion: assertion,
	}, nil
}

// transfer builds the ledger call and signs it with the broker's own session,
// which is where value-moving calls are reviewed.
func (h *Host) transfer(ctx context.Context, payload broker.TransferPayload) (broker.TransferResult, error) {
	asset, err := h.resolveAsset(payload.Asset)
	if err != nil {
		return broker.TransferResult{}, err
	}
	call, err := h.transferCall(asset, payload)
	if err != nil {
		return broker.TransferResult{}, err
	}

	result, err := h.svc.Sign(ctx, h.svc.TrustedOrigin(), guard.SignRequest{
		Challenge: CallChallenge(call),
		Call:      &call,
	})
	if err != nil {
		return broker.TransferResult{}, err
	}
	if !result.Approved {
		return broker.TransferResult{Status: broker.TransferRejected}, nil
	}
	pub, err := identity.ParseDERPublicKey(result.PublicKey)
	if err != nil {
		return broker.TransferResult{}, err
	}
	return broker.TransferResult{
		Status:    broker.TransferAccepted,
		Signature: result.Signature,
		Principal: identity.PrincipalFromPublicKey(pub).String(),
	}, nil
}

func (h *Host) resolveAsset(ref string) (guard.Asset, error) {
	registry := h.svc.Guard().Registry()
	if asset, ok := registry.BySymbol(ref); ok {
		return asset, nil
	}
	return registry.Lookup(ref)
}

func (h *Host) transferCall(asset guard.Asset, payload broker.TransferPayload) (guard.CallContent, error) {
	owner, err := identity.ParsePrincipal(payload.To.Owner)
	if err != nil {
		return guard.CallContent{}, err
	}
	to := guard.Account{Owner: owner}
	if payload.To.Subaccount != "" {
		if to.Subaccount, err = hex.DecodeString(payload.To.Subaccount); err != nil {
			return guard.CallContent{}, apperrors.Wrap(apperrors.CodeInvalidInput, "decode subaccount", err)
		}
	}
	var memo []byte
	if payload.Memo != "" {
		if memo, err = hex.DecodeString(payload.Memo); err != nil {
			return guard.CallContent{}, apperrors.Wrap(apperrors.CodeInvalidInput, "decode memo", err)
		}
	}
	fee := asset.Fee
	if payload.Fee != nil {
		fee = *payload.Fee
	}
	createdAt := uint64(h.clock().UnixNano())

	arg, err := guard.EncodeTransfer(guard.TransferArg{
		To:            to,
		Amount:        payload.Amount,
		Fee:           &fee,
		Memo:          memo,
		CreatedAtTime: &createdAt,
	})
	if err != nil {
		return guard.CallContent{}, err
	}
	return guard.CallContent{
		Kind:       guard.CallKindCall,
		CanisterID: asset.CanisterID,
		Method:     guard.MethodTransfer,
		Arg:        arg,
	}, nil
}

// CallChallenge is the digest a signature over call commits to.
func CallChallenge(call guard.CallContent) []byte {
	sum := sha256.Sum256(identity.EncodeFields(
		[]byte(callChallengeDomain),
		[]byte(call.Kind),
		[]byte(call.CanisterID),
		[]byte(call.Method),
		call.Arg,
	))
	return sum[:]
}

func (h *Host) request(ctx context.Context, origin string, payload broker.RequestPayload) (broker.RequestResult, error) {
	var (
		ok  bool
		err error
	)
	switch payload.Method {
	case broker.MethodLink, broker.MethodUnlink:
		var params broker.LinkParams
		if err := json.Unmarshal(payload.Params, &params); err != nil {
			return broker.RequestResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, "decode params", err)
		}
		if payload.Method == broker.MethodLink {
			ok, err = h.svc.RequestLink(ctx, origin, params.Origin)
		} else {
			ok, err = h.svc.RequestUnlink(ctx, origin, params.Origin)
		}
	case broker.MethodLogout:
		ok, err = h.svc.RequestLogout(ctx, origin)
	default:
		return broker.RequestResult{}, fmt.Errorf("unsupported method %q", payload.Method)
	}
	if err != nil {
		return broker.RequestResult{}, err
	}
	return broker.RequestResult{Result: ok}, nil
}
