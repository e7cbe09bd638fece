package state

import (
	"fmt"
	"sort"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
)

// Origin returns the stored record for origin without creating it.
func (s *State) Origin(origin string) (*OriginData, bool) {
	data, ok := s.Origins[origin]
	return data, ok
}

// GetOriginData returns a copy of the stored record, or a fresh default record
// with one mask. The default is not added to the document.
func (s *State) GetOriginData(origin string, newMask MaskFactory) (OriginData, error) {
	if data, ok := s.Origins[origin]; ok {
		return data.Copy(), nil
	}
	data, err := defaultOriginData(origin, newMask)
	if err != nil {
		return OriginData{}, err
	}
	return *data, nil
}

// Touch returns the stored record for origin, creating the default record
// when it does not exist yet.
func (s *State) Touch(origin string, newMask MaskFactory) (*OriginData, error) {
	if data, ok := s.Origins[origin]; ok {
		return data, nil
	}
	data, err := defaultOriginData(origin, newMask)
	if err != nil {
		return nil, err
	}
	if s.Origins == nil {
		s.Origins = map[string]*OriginData{}
	}
	s.Origins[origin] = data
	return data, nil
}

func defaultOriginData(origin string, newMask MaskFactory) (*OriginData, error) {
	if origin == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "origin is required")
	}
	if newMask == nil {
		return nil, fmt.Errorf("mask factory is required")
	}
	mask, err := newMask(origin, 0)
	if err != nil {
		return nil, fmt.Errorf("build default mask: %w", err)
	}
	mask.Index = 0
	return &OriginData{
		Origin:    origin,
		Masks:     []Mask{mask},
		LinksTo:   OriginSet{},
		LinksFrom: OriginSet{},
	}, nil
}

// AddMask appends the next mask to origin. Indices are len(masks) at the
// time of the call and are never reused. An origin with no stored record only
// has its virtual default mask, so the first call materialises that mask as
// index 0.
func (s *State) AddMask(origin string, newMask MaskFactory) (Mask, error) {
	if _, ok := s.Origins[origin]; !ok {
		data, err := s.Touch(origin, newMask)
		if err != nil {
			return Mask{}, err
		}
		s.Stats.MasksAdded++
		return data.Masks[0], nil
	}
	data := s.Origins[origin]
	if newMask == nil {
		return Mask{}, fmt.Errorf("mask factory is required")
	}
	index := uint32(len(data.Masks))
	for _, existing := range data.Masks {
		if existing.Index >= index {
			return Mask{}, invariantViolation("duplicate mask index", origin, fmt.Sprint(existing.Index))
		}
	}
	mask, err := newMask(origin, index)
	if err != nil {
		return Mask{}, fmt.Errorf("build mask %d: %w", index, err)
	}
	mask.Index = index
	data.Masks = append(data.Masks, mask)
	s.Stats.MasksAdded++
	return mask, nil
}

// Linked reports whether the edge a→b exists. A half edge is an invariant
// violation.
func (s *State) Linked(a, b string) (bool, error) {
	from, hasFrom := s.Origins[a]
	to, hasTo := s.Origins[b]
	forward := hasFrom && from.LinksTo.Has(b)
	backward := hasTo && to.LinksFrom.Has(a)
	if forward != backward {
		return false, invariantViolation("link edge is not mirrored", a, b)
	}
	return forward, nil
}

// Link grants b the right to authenticate with a's masks. Linking an existing
// edge is a successful no-op and reports created=false.
func (s *State) Link(a, b string, newMask MaskFactory) (created bool, err error) {
	if a == b {
		return false, apperrors.WithMetadata(apperrors.CodeInvalidInput, "origin cannot link to itself", map[string]string{"origin": a})
	}
	linked, err := s.Linked(a, b)
	if err != nil {
		return false, err
	}
	if linked {
		return false, nil
	}
	from, err := s.Touch(a, newMask)
	if err != nil {
		return false, err
	}
	to, err := s.Touch(b, newMask)
	if err != nil {
		return false, err
	}
	from.LinksTo[b] = struct{}{}
	to.LinksFrom[a] = struct{}{}
	s.Stats.LinksCreated++
	return true, nil
}

// Unlink removes the edge a→b. When b's session borrows a's mask-space the
// session is cleared in the same step.
func (s *State) Unlink(a, b string) (removed bool, err error) {
	linked, err := s.Linked(a, b)
	if err != nil {
		return false, err
	}
	if !linked {
		return false, nil
	}
	from := s.Origins[a]
	to := s.Origins[b]
	delete(from.LinksTo, b)
	delete(to.LinksFrom, a)
	if to.CurrentSession != nil && to.CurrentSession.DerivationOrigin == a {
		to.CurrentSession = nil
	}
	s.Stats.LinksRemoved++
	return true, nil
}

// UnlinkAll removes every edge a→x, applying the Unlink cascade for each x,
// and returns the removed origins in lexical order. Any asymmetric edge aborts
// the whole call before anything is removed.
func (s *State) UnlinkAll(a string) ([]string, error) {
	from, ok := s.Origins[a]
	if !ok {
		return nil, nil
	}
	targets := from.LinksTo.Sorted()
	for _, b := range targets {
		if _, err := s.Linked(a, b); err != nil {
			return nil, err
		}
	}
	for _, b := range targets {
		if _, err := s.Unlink(a, b); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

// LinkedFrom returns every origin that granted origin the right to borrow its
// masks, sorted.
func (s *State) LinkedFrom(origin string) []string {
	data, ok := s.Origins[origin]
	if !ok {
		return nil
	}
	return data.LinksFrom.Sorted()
}

// CheckInvariants verifies mirrored edges and mask indices for the whole
// document.
func (s *State) CheckInvariants() error {
	if s.Version != DocumentVersion {
		return invariantViolation("unsupported state version", fmt.Sprint(s.Version), "")
	}
	origins := make([]string, 0, len(s.Origins))
	for origin := range s.Origins {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	for _, origin := range origins {
		data := s.Origins[origin]
		if data == nil || data.Origin != origin {
			return invariantViolation("origin record key mismatch", origin, "")
		}
		for i, mask := range data.Masks {
			if mask.Index != uint32(i) {
				return invariantViolation("mask index out of sequence", origin, fmt.Sprint(mask.Index))
			}
		}
		for to := range data.LinksTo {
			peer, ok := s.Origins[to]
			if !ok || !peer.LinksFrom.Has(origin) {
				return invariantViolation("link edge is not mirrored", origin, to)
			}
		}
		for from := range data.LinksFrom {
			peer, ok := s.Origins[from]
			if !ok || !peer.LinksTo.Has(origin) {
				return invariantViolation("link edge is not mirrored", from, origin)
			}
		}
	}
	return nil
}

func invariantViolation(message, subject, detail string) error {
	metadata := map[string]string{"subject": subject}
	if detail != "" {
		metadata["detail"] = detail
	}
	return apperrors.WithMetadata(apperrors.CodeInvariantViolation, message, metadata)
}
