package service

import (
	"context"

	"github.com/louisbranch/masquerade/internal/services/masks/guard"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
	"github.com/louisbranch/masquerade/internal/services/masks/state"
)

// Sign signs req.Challenge with the session mask of origin.
//
// Without a target the key is the session mask itself (salted by req.Salt).
// With a target the key lives in the target namespace so a signature made for
// one counterparty is useless against another.
func (s *Service) Sign(ctx context.Context, origin string, req guard.SignRequest) (guard.SignResult, error) {
	origin, err := state.NormalizeOrigin(origin)
	if err != nil {
		return guard.SignResult{}, err
	}
	var result guard.SignResult
	err = s.run(ctx, "Sign", origin, func(ctx context.Context) error {
		return s.mutate(ctx, func(doc *state.State) (bool, error) {
			data, ok := doc.Origin(origin)
			if !ok || data.CurrentSession == nil {
				return false, unauthorized("no active session", origin)
			}
			review, err := s.guard.Review(origin, req)
			if err != nil {
				return false, err
			}

			commit, err := s.checkFreshness(ctx, doc, data)
			if err != nil {
				return commit, err
			}

			if review.Required {
				// The guard already rendered the summary in the configured locale.
				accepted, err := s.confirm(ctx, "%s", review.Summary)
				if err != nil {
					return false, err
				}
				if !accepted {
					doc.Stats.TransfersRejected++
					return true, nil
				}
				doc.Stats.TransfersConfirmed++
			}

			keys, err := s.signingKey(*data.CurrentSession, req)
			if err != nil {
				return false, err
			}
			result = guard.SignResult{
				Signature: keys.Sign(req.Challenge),
				PublicKey: identity.DERPublicKey(keys.Public),
				Approved:  true,
			}
			doc.Stats.Signatures++
			return true, nil
		})
	})
	if err != nil {
		return guard.SignResult{}, err
	}
	return result, nil
}

func (s *Service) signingKey(session state.Session, req guard.SignRequest) (identity.KeyPair, error) {
	if req.Target == "" {
		return s.root.DeriveIdentity(identity.NamespaceOrigin, session.DerivationOrigin, session.MaskIndex, req.Salt)
	}
	extra := identity.EncodeFields([]byte(session.DerivationOrigin), req.Salt)
	return s.root.DeriveIdentity(identity.NamespaceTarget, req.Target, session.MaskIndex, extra)
}
