package state

import (
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/masks/storage"
)

// DocumentKey is the storage key of the state document.
const DocumentKey = "state"

// Repository reads and writes the state document inside a storage transaction.
type Repository struct {
	Key string
}

// NewRepository returns a repository bound to DocumentKey.
func NewRepository() Repository {
	return Repository{Key: DocumentKey}
}

func (r Repository) key() string {
	if r.Key == "" {
		return DocumentKey
	}
	return r.Key
}

// Load returns the stored document, or an empty one when nothing has been
// saved yet.
func (r Repository) Load(tx storage.Tx) (*State, error) {
	if tx == nil {
		return nil, fmt.Errorf("storage transaction is required")
	}
	raw, err := tx.Get(r.key())
	if errors.Is(err, storage.ErrNotFound) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvariantViolation, "decode state header", err)
	}
	if header.Version != DocumentVersion {
		return nil, invariantViolation("unsupported state version", fmt.Sprint(header.Version), "")
	}

	doc := New()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvariantViolation, "decode state", err)
	}
	normalize(doc)
	return doc, nil
}

// Save checks every invariant and writes the document. A violation leaves
// the stored document untouched.
func (r Repository) Save(tx storage.Tx, doc *State) error {
	if tx == nil {
		return fmt.Errorf("storage transaction is required")
	}
	if doc == nil {
		return fmt.Errorf("state document is required")
	}
	if err := doc.CheckInvariants(); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := tx.Put(r.key(), raw); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func normalize(doc *State) {
	if doc.Origins == nil {
		doc.Origins = map[string]*OriginData{}
	}
	for _, data := range doc.Origins {
		if data == nil {
			continue
		}
		if data.LinksTo == nil {
			data.LinksTo = OriginSet{}
		}
		if data.LinksFrom == nil {
			data.LinksFrom = OriginSet{}
		}
	}
}
