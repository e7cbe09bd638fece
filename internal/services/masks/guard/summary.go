package guard

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/message"

	"github.com/louisbranch/masquerade/internal/platform/i18n/catalog"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
)

// maxDecimals is the largest scale a uint64 amount can carry.
const maxDecimals = 19

// Summary renders movements for confirmation prompts.
type Summary struct {
	printer *message.Printer
	point   string
}

// NewSummary returns a renderer translating through the prompt catalog.
// Unknown locales fall back to the catalog base.
func NewSummary(locale string) Summary {
	if strings.TrimSpace(locale) == "" {
		locale = catalog.BaseLocale
	}
	printer := catalog.Default().Printer(locale)
	point := strings.Trim(printer.Sprintf("%.1f", 0.5), "05")
	if point == "" {
		point = "."
	}
	return Summary{printer: printer, point: point}
}

// Render describes movement in asset units, one fact per line.
func (s Summary) Render(asset Asset, movement Movement) string {
	if s.printer == nil {
		s = NewSummary(catalog.BaseLocale)
	}
	counterparty := identity.Principal(movement.Counterparty.Owner).String()
	amount := s.FormatAmount(movement.Amount, asset.Decimals)

	var lines []string
	switch movement.Method {
	case MethodApprove:
		lines = append(lines, s.printer.Sprintf("Allow %s to spend up to %s %s", counterparty, amount, asset.Symbol))
	default:
		lines = append(lines, s.printer.Sprintf("Send %s %s to %s", amount, asset.Symbol, counterparty))
	}
	if len(movement.Counterparty.Subaccount) > 0 {
		lines = append(lines, s.printer.Sprintf("Subaccount: %s", hex.EncodeToString(movement.Counterparty.Subaccount)))
	}
	if len(movement.Memo) > 0 {
		lines = append(lines, s.printer.Sprintf("Memo: %s", hex.EncodeToString(movement.Memo)))
	}
	fee := asset.Fee
	if movement.Fee != nil {
		fee = *movement.Fee
	}
	lines = append(lines, s.printer.Sprintf("Fee: %s %s", s.FormatAmount(fee, asset.Decimals), asset.Symbol))
	return strings.Join(lines, "\n")
}

// FormatAmount renders base units as a grouped decimal with trailing zeros
// trimmed, for example 123456789 with 8 decimals is "1.23456789" in English.
// Decimals above 19 are clamped; registries never hold such assets.
func (s Summary) FormatAmount(units uint64, decimals uint8) string {
	if s.printer == nil {
		s = NewSummary(catalog.BaseLocale)
	}
	decimals = min(decimals, maxDecimals)
	scale := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		scale *= 10
	}
	out := s.printer.Sprintf("%d", units/scale)
	frac := units % scale
	if frac == 0 {
		return out
	}
	digits := strings.TrimRight(fmt.Sprintf("%0*d", int(decimals), frac), "0")
	return out + s.point + digits
}
