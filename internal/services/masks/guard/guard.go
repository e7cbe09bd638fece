package guard

import (
	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
)

// Review is the outcome of inspecting one request.
type Review struct {
	// Required is true when the holder must confirm Summary before signing.
	Required bool
	Asset    Asset
	Movement Movement
	Summary  string
}

// Guard decides which signing requests need a transfer confirmation.
type Guard struct {
	registry      *Registry
	trustedOrigin string
	summary       Summary
}

// New builds a guard whose summaries are written in locale. Only requests
// from trustedOrigin are treated as value transfers; other origins never
// reach ledger methods through this path.
func New(registry *Registry, trustedOrigin, locale string) *Guard {
	return &Guard{
		registry:      registry,
		trustedOrigin: trustedOrigin,
		summary:       NewSummary(locale),
	}
}

// TrustedOrigin returns the broker's own origin.
func (g *Guard) TrustedOrigin() string {
	return g.trustedOrigin
}

// Registry returns the asset registry.
func (g *Guard) Registry() *Registry {
	return g.registry
}

// Review inspects req on behalf of origin. Errors are InvalidInput and are
// returned before any prompt is shown.
func (g *Guard) Review(origin string, req SignRequest) (Review, error) {
	if err := req.Validate(); err != nil {
		return Review{}, err
	}
	call := req.Call
	if call == nil || call.Kind != CallKindCall || origin != g.trustedOrigin {
		return Review{}, nil
	}
	asset, err := g.registry.Lookup(call.CanisterID)
	if err != nil {
		return Review{}, err
	}
	if !Allowed(call.Method) {
		return Review{}, apperrors.WithMetadata(apperrors.CodeInvalidInput, "method is not allowed", map[string]string{"method": call.Method})
	}
	movement, err := DecodeMovement(call.Method, call.Arg)
	if err != nil {
		return Review{}, err
	}
	return Review{
		Required: true,
		Asset:    asset,
		Movement: movement,
		Summary:  g.summary.Render(asset, movement),
	}, nil
}
