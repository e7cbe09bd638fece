package service

import (
	"context"
	"strings"
	"unicode/utf8"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
	"github.com/louisbranch/masquerade/internal/services/masks/state"
)

// AddMask creates the next mask for toOrigin after confirmation. ok is false
// when the holder declined.
func (s *Service) AddMask(ctx context.Context, toOrigin string) (mask state.Mask, ok bool, err error) {
	toOrigin, err = state.NormalizeOrigin(toOrigin)
	if err != nil {
		return state.Mask{}, false, err
	}
	err = s.run(ctx, "AddMask", toOrigin, func(ctx context.Context) error {
		return s.mutate(ctx, func(doc *state.State) (bool, error) {
			accepted, err := s.confirm(ctx, "Create a new mask for %s?", toOrigin)
			if err != nil || !accepted {
				return false, err
			}
			mask, err = doc.AddMask(toOrigin, s.newMask)
			if err != nil {
				return false, err
			}
			ok = true
			return true, nil
		})
	})
	if err != nil {
		return state.Mask{}, false, err
	}
	return mask, ok, nil
}

// EditPseudonym renames one of origin's masks.
func (s *Service) EditPseudonym(ctx context.Context, origin string, maskIndex uint32, pseudonym string) error {
	origin, err := state.NormalizeOrigin(origin)
	if err != nil {
		return err
	}
	pseudonym = strings.TrimSpace(pseudonym)
	if pseudonym == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "pseudonym is required")
	}
	if utf8.RuneCountInString(pseudonym) > MaxPseudonymLength {
		return apperrors.New(apperrors.CodeInvalidInput, "pseudonym is too long")
	}
	return s.run(ctx, "EditPseudonym", origin, func(ctx context.Context) error {
		return s.mutate(ctx, func(doc *state.State) (bool, error) {
			data, err := doc.Touch(origin, s.newMask)
			if err != nil {
				return false, err
			}
			if int(maskIndex) >= len(data.Masks) {
				return false, unknownMask(origin, maskIndex)
			}
			data.Masks[maskIndex].Pseudonym = pseudonym
			return true, nil
		})
	})
}

// GetPublicKey returns the DER public key of the session's mask, with salt
// folded into the derivation.
func (s *Service) GetPublicKey(ctx context.Context, origin string, salt []byte) ([]byte, error) {
	origin, err := state.NormalizeOrigin(origin)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.run(ctx, "GetPublicKey", origin, func(ctx context.Context) error {
		return s.read(ctx, func(doc *state.State) error {
			session, err := requireSession(doc, origin)
			if err != nil {
				return err
			}
			keys, err := s.root.DeriveIdentity(identity.NamespaceOrigin, session.DerivationOrigin, session.MaskIndex, salt)
			if err != nil {
				return err
			}
			out = identity.DERPublicKey(keys.Public)
			return nil
		})
	})
	return out, err
}

// GetEntropy returns 32 bytes bound to the session's mask and salt. The
// output never equals any signing seed.
func (s *Service) GetEntropy(ctx context.Context, origin string, salt []byte) ([]byte, error) {
	origin, err := state.NormalizeOrigin(origin)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.run(ctx, "GetEntropy", origin, func(ctx context.Context) error {
		return s.read(ctx, func(doc *state.State) error {
			session, err := requireSession(doc, origin)
			if err != nil {
				return err
			}
			out, err = s.root.MaskEntropy(session.DerivationOrigin, session.MaskIndex, salt)
			return err
		})
	})
	return out, err
}

// Statistics returns the usage counters.
func (s *Service) Statistics(ctx context.Context) (state.Statistics, error) {
	var stats state.Statistics
	err := s.run(ctx, "Statistics", "", func(ctx context.Context) error {
		return s.read(ctx, func(doc *state.State) error {
			stats = doc.Stats
			return nil
		})
	})
	return stats, err
}

func requireSession(doc *state.State, origin string) (state.Session, error) {
	data, ok := doc.Origin(origin)
	if !ok || data.CurrentSession == nil {
		return state.Session{}, unauthorized("no active session", origin)
	}
	return *data.CurrentSession, nil
}
