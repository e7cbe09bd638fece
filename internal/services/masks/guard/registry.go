package guard

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
)

// DefaultLedgerID is the ICP ledger canister.
const DefaultLedgerID = "ryjl3-tyaaa-aaaaa-aaaba-cai"

// DefaultDecimals is used for assets configured without explicit decimals.
const DefaultDecimals = 8

// Asset is a ledger the guard knows how to summarise.
type Asset struct {
	CanisterID string
	Symbol     string
	Fee        uint64
	Decimals   uint8
}

// DefaultAsset returns the ICP ledger entry.
func DefaultAsset() Asset {
	return Asset{
		CanisterID: DefaultLedgerID,
		Symbol:     "ICP",
		Fee:        10_000,
		Decimals:   DefaultDecimals,
	}
}

// Registry maps canonical canister ids to assets.
type Registry struct {
	assets map[string]Asset
}

// NewRegistry returns a registry holding the default ledger plus assets.
// Later entries replace earlier ones with the same canister.
func NewRegistry(assets ...Asset) (*Registry, error) {
	r := &Registry{assets: map[string]Asset{}}
	for _, asset := range append([]Asset{DefaultAsset()}, assets...) {
		if err := r.add(asset); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(asset Asset) error {
	principal, err := identity.ParsePrincipal(asset.CanisterID)
	if err != nil {
		return fmt.Errorf("asset %q: %w", asset.CanisterID, err)
	}
	symbol := strings.TrimSpace(asset.Symbol)
	if symbol == "" {
		return fmt.Errorf("asset %q: symbol is required", asset.CanisterID)
	}
	if asset.Decimals > maxDecimals {
		return fmt.Errorf("asset %q: decimals must be at most %d", asset.CanisterID, maxDecimals)
	}
	asset.CanisterID = principal.String()
	asset.Symbol = symbol
	r.assets[asset.CanisterID] = asset
	return nil
}

// Lookup returns the asset for canisterID. Unknown or malformed ids fail
// with InvalidInput.
func (r *Registry) Lookup(canisterID string) (Asset, error) {
	if r != nil {
		if principal, err := identity.ParsePrincipal(canisterID); err == nil {
			if asset, ok := r.assets[principal.String()]; ok {
				return asset, nil
			}
		}
	}
	return Asset{}, apperrors.WithMetadata(apperrors.CodeInvalidInput, "unknown asset", map[string]string{"canister": canisterID})
}

// Assets returns every registered asset sorted by symbol.
func (r *Registry) Assets() []Asset {
	out := make([]Asset, 0, len(r.assets))
	for _, asset := range r.assets {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol == out[j].Symbol {
			return out[i].CanisterID < out[j].CanisterID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// BySymbol finds an asset by case-insensitive symbol.
func (r *Registry) BySymbol(symbol string) (Asset, bool) {
	for _, asset := range r.Assets() {
		if strings.EqualFold(asset.Symbol, strings.TrimSpace(symbol)) {
			return asset, true
		}
	}
	return Asset{}, false
}

// ParseAssets reads entries of the form canister:symbol:fee[:decimals].
func ParseAssets(entries []string) ([]Asset, error) {
	var out []Asset
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("asset %q: expected canister:symbol:fee[:decimals]", entry)
		}
		fee, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("asset %q: parse fee: %w", entry, err)
		}
		decimals := uint64(DefaultDecimals)
		if len(parts) == 4 {
			decimals, err = strconv.ParseUint(strings.TrimSpace(parts[3]), 10, 8)
			if err != nil {
				return nil, fmt.Errorf("asset %q: parse decimals: %w", entry, err)
			}
			if decimals > maxDecimals {
				return nil, fmt.Errorf("asset %q: decimals must be at most %d", entry, maxDecimals)
			}
		}
		out = append(out, Asset{
			CanisterID: strings.TrimSpace(parts[0]),
			Symbol:     strings.TrimSpace(parts[1]),
			Fee:        fee,
			Decimals:   uint8(decimals),
		})
	}
	return out, nil
}
