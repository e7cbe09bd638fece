package state

import (
	"encoding/json"
	"sort"
	"time"
)

// DocumentVersion is the only state document layout this build understands.
const DocumentVersion = 1

// Mask is one identity scoped to an origin.
type Mask struct {
	Index     uint32 `json:"index"`
	Pseudonym string `json:"pseudonym"`
	PublicID  string `json:"publicId"`
}

// Session names which mask, and which origin's mask-space, authorizes the
// origin it is stored on.
type Session struct {
	MaskIndex        uint32 `json:"maskIndex"`
	DerivationOrigin string `json:"derivationOrigin"`
	CreatedAtMs      uint64 `json:"createdAtMs"`
}

// CreatedAt returns the creation time in UTC.
func (s Session) CreatedAt() time.Time {
	return time.UnixMilli(int64(s.CreatedAtMs)).UTC()
}

// Age reports how old the session is at now.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt())
}

// NewSession stamps a session with now in milliseconds.
func NewSession(maskIndex uint32, derivationOrigin string, now time.Time) Session {
	return Session{
		MaskIndex:        maskIndex,
		DerivationOrigin: derivationOrigin,
		CreatedAtMs:      uint64(now.UTC().UnixMilli()),
	}
}

// OriginSet is a set of origins serialised as a sorted list.
type OriginSet map[string]struct{}

// Has reports membership.
func (s OriginSet) Has(origin string) bool {
	_, ok := s[origin]
	return ok
}

// Sorted returns the members in lexical order.
func (s OriginSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for origin := range s {
		out = append(out, origin)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s OriginSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array into the set.
func (s *OriginSet) UnmarshalJSON(in []byte) error {
	var list []string
	if err := json.Unmarshal(in, &list); err != nil {
		return err
	}
	set := make(OriginSet, len(list))
	for _, origin := range list {
		set[origin] = struct{}{}
	}
	*s = set
	return nil
}

// OriginData is the persisted record of one origin.
type OriginData struct {
	Origin         string    `json:"origin"`
	Masks          []Mask    `json:"masks"`
	LinksTo        OriginSet `json:"linksTo"`
	LinksFrom      OriginSet `json:"linksFrom"`
	CurrentSession *Session  `json:"currentSession,omitempty"`
}

// Mask returns the mask with index, if any.
func (o *OriginData) Mask(index uint32) (Mask, bool) {
	if o == nil || int(index) >= len(o.Masks) {
		return Mask{}, false
	}
	return o.Masks[index], true
}

// Copy returns a deep copy safe to hand to readers.
func (o *OriginData) Copy() OriginData {
	out := OriginData{
		Origin:    o.Origin,
		Masks:     append([]Mask(nil), o.Masks...),
		LinksTo:   make(OriginSet, len(o.LinksTo)),
		LinksFrom: make(OriginSet, len(o.LinksFrom)),
	}
	for origin := range o.LinksTo {
		out.LinksTo[origin] = struct{}{}
	}
	for origin := range o.LinksFrom {
		out.LinksFrom[origin] = struct{}{}
	}
	if o.CurrentSession != nil {
		session := *o.CurrentSession
		out.CurrentSession = &session
	}
	return out
}

// Statistics are plain usage counters. They are updated alongside the
// operation that caused them and carry no invariants.
type Statistics struct {
	Logins             uint64 `json:"logins"`
	Logouts            uint64 `json:"logouts"`
	MasksAdded         uint64 `json:"masksAdded"`
	LinksCreated       uint64 `json:"linksCreated"`
	LinksRemoved       uint64 `json:"linksRemoved"`
	Signatures         uint64 `json:"signatures"`
	TransfersConfirmed uint64 `json:"transfersConfirmed"`
	TransfersRejected  uint64 `json:"transfersRejected"`
	SessionsExpired    uint64 `json:"sessionsExpired"`
}

// State is the whole persisted document.
type State struct {
	Version int                    `json:"version"`
	Origins map[string]*OriginData `json:"origins"`
	Stats   Statistics             `json:"stats"`
}

// New returns an empty document.
func New() *State {
	return &State{
		Version: DocumentVersion,
		Origins: map[string]*OriginData{},
	}
}

// MaskFactory builds the mask stored at index for origin. It is how the
// state layer obtains derived public identifiers without holding key material.
type MaskFactory func(origin string, index uint32) (Mask, error)
