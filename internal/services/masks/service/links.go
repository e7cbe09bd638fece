package service

import (
	"context"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/masks/state"
)

// Links lists the edges touching one origin.
type Links struct {
	// LinksTo are origins allowed to log in with this origin's masks.
	LinksTo []string `json:"linksTo"`
	// LinksFrom are origins whose masks this origin may borrow.
	LinksFrom []string `json:"linksFrom"`
}

// LoginOption groups the masks one origin can offer at login.
type LoginOption struct {
	Origin string       `json:"origin"`
	Masks  []state.Mask `json:"masks"`
}

// RequestLink lets withOrigin log in using origin's masks, after
// confirmation. An existing link succeeds without a prompt.
func (s *Service) RequestLink(ctx context.Context, origin, withOrigin string) (bool, error) {
	origin, withOrigin, err := normalizePair(origin, withOrigin)
	if err != nil {
		return false, err
	}
	if origin == withOrigin {
		return false, apperrors.WithMetadata(apperrors.CodeInvalidInput, "origin cannot link to itself", map[string]string{"origin": origin})
	}
	approved := false
	err = s.run(ctx, "RequestLink", origin, func(ctx context.Context) error {
		return s.mutate(ctx, func(doc *state.State) (bool, error) {
			linked, err := doc.Linked(origin, withOrigin)
			if err != nil {
				return false, err
			}
			if linked {
				approved = true
				return false, nil
			}
			ok, err := s.confirm(ctx, "Allow %s to log in with your %s masks?", withOrigin, origin)
			if err != nil || !ok {
				return false, err
			}
			if _, err := doc.Link(origin, withOrigin, s.newMask); err != nil {
				return false, err
			}
			approved = true
			return true, nil
		})
	})
	return approved, err
}

// RequestUnlink revokes withOrigin's right to use origin's masks, after
// confirmation. A session on withOrigin that borrowed from origin ends with
// it. A missing link succeeds without a prompt.
func (s *Service) RequestUnlink(ctx context.Context, origin, withOrigin string) (bool, error) {
	origin, withOrigin, err := normalizePair(origin, withOrigin)
	if err != nil {
		return false, err
	}
	approved := false
	err = s.run(ctx, "RequestUnlink", origin, func(ctx context.Context) error {
		return s.mutate(ctx, func(doc *state.State) (bool, error) {
			linked, err := doc.Linked(origin, withOrigin)
			if err != nil {
				return false, err
			}
			if !linked {
				approved = true
				return false, nil
			}
			ok, err := s.confirm(ctx, "Stop %s from logging in with your %s masks?", withOrigin, origin)
			if err != nil || !ok {
				return false, err
			}
			if _, err := doc.Unlink(origin, withOrigin); err != nil {
				return false, err
			}
			approved = true
			return true, nil
		})
	})
	return approved, err
}

// UnlinkAll revokes every link granted by origin after one confirmation and
// returns the revoked origins, sorted.
func (s *Service) UnlinkAll(ctx context.Context, origin string) ([]string, bool, error) {
	origin, err := state.NormalizeOrigin(origin)
	if err != nil {
		return nil, false, err
	}
	var (
		removed  []string
		approved bool
	)
	err = s.run(ctx, "UnlinkAll", origin, func(ctx context.Context) error {
		return s.mutate(ctx, func(doc *state.State) (bool, error) {
			data, ok := doc.Origin(origin)
			if !ok || len(data.LinksTo) == 0 {
				approved = true
				return false, nil
			}
			ok, err := s.confirm(ctx, "Stop %d sites from logging in with your %s masks?", len(data.LinksTo), origin)
			if err != nil || !ok {
				return false, err
			}
			removed, err = doc.UnlinkAll(origin)
			if err != nil {
				return false, err
			}
			approved = true
			return true, nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return removed, approved, nil
}

// GetLinks returns origin's edges in both directions.
func (s *Service) GetLinks(ctx context.Context, origin string) (Links, error) {
	origin, err := state.NormalizeOrigin(origin)
	if err != nil {
		return Links{}, err
	}
	links := Links{LinksTo: []string{}, LinksFrom: []string{}}
	err = s.run(ctx, "GetLinks", origin, func(ctx context.Context) error {
		return s.read(ctx, func(doc *state.State) error {
			data, ok := doc.Origin(origin)
			if !ok {
				return nil
			}
			links.LinksTo = data.LinksTo.Sorted()
			links.LinksFrom = data.LinksFrom.Sorted()
			return nil
		})
	})
	return links, err
}

// GetLoginOptions lists the masks usable at forOrigin: its own first, then
// those of every origin that linked to it, sorted by origin.
func (s *Service) GetLoginOptions(ctx context.Context, forOrigin string) ([]LoginOption, error) {
	forOrigin, err := state.NormalizeOrigin(forOrigin)
	if err != nil {
		return nil, err
	}
	var options []LoginOption
	err = s.run(ctx, "GetLoginOptions", forOrigin, func(ctx context.Context) error {
		return s.read(ctx, func(doc *state.State) error {
			for _, origin := range append([]string{forOrigin}, doc.LinkedFrom(forOrigin)...) {
				data, err := doc.GetOriginData(origin, s.newMask)
				if err != nil {
					return err
				}
				options = append(options, LoginOption{Origin: origin, Masks: data.Masks})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return options, nil
}
