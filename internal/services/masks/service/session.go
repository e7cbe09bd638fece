package service

import (
	"context"

	"github.com/louisbranch/masquerade/internal/services/masks/state"
)

// SessionExists reports whether origin has an active session.
func (s *Service) SessionExists(ctx context.Context, origin string) (bool, error) {
	origin, err := state.NormalizeOrigin(origin)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.run(ctx, "SessionExists", origin, func(ctx context.Context) error {
		return s.read(ctx, func(doc *state.State) error {
			data, ok := doc.Origin(origin)
			exists = ok && data.CurrentSession != nil
			return nil
		})
	})
	return exists, err
}

// Session returns the active session on origin, if any.
func (s *Service) Session(ctx context.Context, origin string) (state.Session, bool, error) {
	origin, err := state.NormalizeOrigin(origin)
	if err != nil {
		return state.Session{}, false, err
	}
	var (
		session state.Session
		found   bool
	)
	err = s.run(ctx, "Session", origin, func(ctx context.Context) error {
		return s.read(ctx, func(doc *state.State) error {
			if data, ok := doc.Origin(origin); ok && data.CurrentSession != nil {
				session, found = *data.CurrentSession, true
			}
			return nil
		})
	})
	return session, found, err
}

// Login opens a session on target with mask maskIndex from derivation's
// mask-space. An empty derivation means target itself. Borrowing another
// origin's masks requires a direct link derivation→target; chains of links do
// not authorize.
func (s *Service) Login(ctx context.Context, target string, maskIndex uint32, derivation string) (bool, error) {
	if derivation == "" {
		derivation = target
	}
	target, derivation, err := normalizePair(target, derivation)
	if err != nil {
		return false, err
	}
	var approved bool
	err = s.run(ctx, "Login", target, func(ctx context.Context) error {
		return s.mutate(ctx, func(doc *state.State) (bool, error) {
			if derivation != target {
				linked, err := doc.Linked(derivation, target)
				if err != nil {
					return false, err
				}
				if !linked {
					return false, unauthorized("origin is not linked", target)
				}
			}
			source, err := doc.GetOriginData(derivation, s.newMask)
			if err != nil {
				return false, err
			}
			mask, ok := source.Mask(maskIndex)
			if !ok {
				return false, unknownMask(derivation, maskIndex)
			}

			var accepted bool
			if derivation == target {
				accepted, err = s.confirm(ctx, "Log in to %s as %s?", target, mask.Pseudonym)
			} else {
				accepted, err = s.confirm(ctx, "Log in to %s as %s from %s?", target, mask.Pseudonym, derivation)
			}
			if err != nil || !accepted {
				return false, err
			}

			data, err := doc.Touch(target, s.newMask)
			if err != nil {
				return false, err
			}
			session := state.NewSession(maskIndex, derivation, s.now())
			data.CurrentSession = &session
			doc.Stats.Logins++
			approved = true
			return true, nil
		})
	})
	return approved, err
}

// RequestLogout ends the session on origin after confirmation. Without a
// session it succeeds immediately.
func (s *Service) RequestLogout(ctx context.Context, origin string) (bool, error) {
	origin, err := state.NormalizeOrigin(origin)
	if err != nil {
		return false, err
	}
	approved := false
	err = s.run(ctx, "RequestLogout", origin, func(ctx context.Context) error {
		return s.mutate(ctx, func(doc *state.State) (bool, error) {
			data, ok := doc.Origin(origin)
			if !ok || data.CurrentSession == nil {
				approved = true
				return false, nil
			}
			ok, err := s.confirm(ctx, "Log out of %s?", origin)
			if err != nil || !ok {
				return false, err
			}
			data.CurrentSession = nil
			doc.Stats.Logouts++
			approved = true
			return true, nil
		})
	})
	return approved, err
}

// checkFreshness applies the freshness policy to the session on data. It
// returns an Unauthorized error after committing the session's removal when
// the holder declines.
func (s *Service) checkFreshness(ctx context.Context, doc *state.State, data *state.OriginData) (commit bool, err error) {
	if data.Origin == s.trusted {
		return false, nil
	}
	now := s.now()
	if data.CurrentSession.Age(now) <= s.freshness {
		return false, nil
	}
	ok, err := s.confirm(ctx, "Your session on %s has been open for more than %s. Keep signing?", data.Origin, s.freshness)
	if err != nil {
		return false, err
	}
	if !ok {
		data.CurrentSession = nil
		doc.Stats.SessionsExpired++
		return true, unauthorized("session expired", data.Origin)
	}
	data.CurrentSession.CreatedAtMs = uint64(now.UnixMilli())
	return true, nil
}
