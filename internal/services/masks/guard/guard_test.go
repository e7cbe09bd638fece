package guard

import (
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
)

const (
	trusted   = "https://masquerade.local"
	ckBTC     = "mxzaz-hqaaa-aaaar-qaada-cai"
	anonymous = "2vxsx-fae"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	registry, err := NewRegistry(Asset{CanisterID: ckBTC, Symbol: "ckBTC", Fee: 10, Decimals: 8})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return New(registry, trusted, "")
}

func anonymousOwner(t *testing.T) []byte {
	t.Helper()
	owner, err := identity.ParsePrincipal(anonymous)
	if err != nil {
		t.Fatalf("parse principal: %v", err)
	}
	return owner
}

func transferRequest(t *testing.T, canister string, arg TransferArg) SignRequest {
	t.Helper()
	raw, err := EncodeTransfer(arg)
	if err != nil {
		t.Fatalf("encode transfer: %v", err)
	}
	return SignRequest{
		Challenge: []byte("challenge"),
		Call: &CallContent{
			Kind:       CallKindCall,
			CanisterID: canister,
			Method:     MethodTransfer,
			Arg:        raw,
		},
	}
}

func TestReviewTransfer(t *testing.T) {
	g := newTestGuard(t)
	req := transferRequest(t, DefaultLedgerID, TransferArg{
		To:     Account{Owner: anonymousOwner(t)},
		Amount: 150_000_000,
		Memo:   []byte{0xca, 0xfe},
	})

	review, err := g.Review(trusted, req)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if !review.Required {
		t.Fatal("expected confirmation to be required")
	}
	want := "Send 1.5 ICP to 2vxsx-fae\nMemo: cafe\nFee: 0.0001 ICP"
	if review.Summary != want {
		t.Fatalf("expected summary %q, got %q", want, review.Summary)
	}
	if review.Asset.Symbol != "ICP" || review.Movement.Amount != 150_000_000 {
		t.Fatalf("unexpected review %+v", review)
	}
}

func TestReviewTransferFollowsLocale(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	g := New(registry, trusted, "pt-BR")
	req := transferRequest(t, DefaultLedgerID, TransferArg{
		To:     Account{Owner: anonymousOwner(t)},
		Amount: 150_000_000_000,
		Memo:   []byte{0xca, 0xfe},
	})

	review, err := g.Review(trusted, req)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	want := "Enviar 1.500 ICP para 2vxsx-fae\nMemo: cafe\nTaxa: 0,0001 ICP"
	if review.Summary != want {
		t.Fatalf("expected summary %q, got %q", want, review.Summary)
	}
}

func TestReviewApprove(t *testing.T) {
	g := newTestGuard(t)
	fee := uint64(20)
	raw, err := EncodeApprove(ApproveArg{
		Spender: Account{Owner: anonymousOwner(t), Subaccount: make([]byte, SubaccountSize)},
		Amount:  2_500_000_000,
		Fee:     &fee,
	})
	if err != nil {
		t.Fatalf("encode approve: %v", err)
	}
	review, err := g.Review(trusted, SignRequest{
		Challenge: []byte("challenge"),
		Call:      &CallContent{Kind: CallKindCall, CanisterID: ckBTC, Method: MethodApprove, Arg: raw},
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if !strings.HasPrefix(review.Summary, "Allow 2vxsx-fae to spend up to 25 ckBTC") {
		t.Fatalf("unexpected summary %q", review.Summary)
	}
	if !strings.Contains(review.Summary, "Subaccount: "+strings.Repeat("00", SubaccountSize)) {
		t.Fatalf("expected subaccount in summary %q", review.Summary)
	}
	if !strings.HasSuffix(review.Summary, "Fee: 0.0000002 ckBTC") {
		t.Fatalf("expected explicit fee in summary %q", review.Summary)
	}
}

func TestReviewSkipsNonTransferContexts(t *testing.T) {
	g := newTestGuard(t)
	tests := []struct {
		name   string
		origin string
		req    SignRequest
	}{
		{name: "no call", origin: trusted, req: SignRequest{Challenge: []byte("c")}},
		{name: "query", origin: trusted, req: SignRequest{Challenge: []byte("c"), Call: &CallContent{
			Kind: CallKindQuery, CanisterID: "aaaaa-aa", Method: "icrc1_balance_of",
		}}},
		{name: "other origin", origin: "https://a.example", req: SignRequest{Challenge: []byte("c"), Call: &CallContent{
			Kind: CallKindCall, CanisterID: "aaaaa-aa", Method: "anything",
		}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			review, err := g.Review(tc.origin, tc.req)
			if err != nil {
				t.Fatalf("review: %v", err)
			}
			if review.Required {
				t.Fatal("expected no confirmation")
			}
		})
	}
}

func TestReviewRejects(t *testing.T) {
	g := newTestGuard(t)
	valid := transferRequest(t, DefaultLedgerID, TransferArg{To: Account{Owner: anonymousOwner(t)}, Amount: 1})

	unknownField, err := cbor.Marshal(map[string]any{
		"to":     map[string]any{"owner": anonymousOwner(t)},
		"amount": uint64(1),
		"extra":  true,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*SignRequest)
		message string
	}{
		{name: "unknown asset", mutate: func(r *SignRequest) { r.Call.CanisterID = "aaaaa-aa" }, message: "unknown asset"},
		{name: "malformed canister", mutate: func(r *SignRequest) { r.Call.CanisterID = "not a principal" }, message: "unknown asset"},
		{name: "method not allowed", mutate: func(r *SignRequest) { r.Call.Method = "icrc2_transfer_from" }, message: "method is not allowed"},
		{name: "garbage argument", mutate: func(r *SignRequest) { r.Call.Arg = []byte{0xff, 0x00} }, message: "decode transfer argument"},
		{name: "unknown field", mutate: func(r *SignRequest) { r.Call.Arg = unknownField }, message: "decode transfer argument"},
		{name: "empty challenge", mutate: func(r *SignRequest) { r.Challenge = nil }, message: "challenge is required"},
		{name: "unknown kind", mutate: func(r *SignRequest) { r.Call.Kind = "mutate" }, message: "unknown call kind"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			call := *valid.Call
			req := SignRequest{Challenge: valid.Challenge, Call: &call}
			tc.mutate(&req)
			_, err := g.Review(trusted, req)
			if !apperrors.HasCode(err, apperrors.CodeInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected %q in %q", tc.message, err.Error())
			}
		})
	}
}

func TestEncodeTransferValidatesAccount(t *testing.T) {
	if _, err := EncodeTransfer(TransferArg{Amount: 1}); !apperrors.HasCode(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for missing owner, got %v", err)
	}
	_, err := EncodeTransfer(TransferArg{To: Account{Owner: []byte{4}, Subaccount: []byte{1, 2}}, Amount: 1})
	if !apperrors.HasCode(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for short subaccount, got %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	summary := NewSummary("en-US")
	tests := []struct {
		units    uint64
		decimals uint8
		want     string
	}{
		{units: 123_456_789, decimals: 8, want: "1.23456789"},
		{units: 100_000_000_000, decimals: 8, want: "1,000"},
		{units: 10_000, decimals: 8, want: "0.0001"},
		{units: 123_450_000, decimals: 8, want: "1.2345"},
		{units: 1_500, decimals: 0, want: "1,500"},
		{units: 0, decimals: 8, want: "0"},
		{units: 1_234_567_890_123_456_789, decimals: 19, want: "0.1234567890123456789"},
	}
	for _, tc := range tests {
		if got := summary.FormatAmount(tc.units, tc.decimals); got != tc.want {
			t.Fatalf("format %d/%d: expected %q, got %q", tc.units, tc.decimals, tc.want, got)
		}
	}
}

func TestRegistry(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	asset, err := registry.Lookup(DefaultLedgerID)
	if err != nil || asset.Symbol != "ICP" {
		t.Fatalf("expected default ledger, got %+v %v", asset, err)
	}
	if _, ok := registry.BySymbol("icp"); !ok {
		t.Fatal("expected lookup by symbol")
	}
	if _, err := NewRegistry(Asset{CanisterID: "bad", Symbol: "X"}); err == nil {
		t.Fatal("expected error for malformed canister")
	}
	if _, err := NewRegistry(Asset{CanisterID: ckBTC}); err == nil {
		t.Fatal("expected error for missing symbol")
	}
	if _, err := NewRegistry(Asset{CanisterID: ckBTC, Symbol: "WIDE", Decimals: 20}); err == nil {
		t.Fatal("expected error for decimals beyond a uint64 scale")
	}
}

func TestParseAssets(t *testing.T) {
	assets, err := ParseAssets([]string{ckBTC + ":ckBTC:10", "", " " + ckBTC + ":ckSAT:1:0 "})
	if err != nil {
		t.Fatalf("parse assets: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if assets[0].Fee != 10 || assets[0].Decimals != DefaultDecimals {
		t.Fatalf("unexpected first asset %+v", assets[0])
	}
	if assets[1].Symbol != "ckSAT" || assets[1].Decimals != 0 {
		t.Fatalf("unexpected second asset %+v", assets[1])
	}
	if assets, err := ParseAssets([]string{ckBTC + ":WIDE:1:19"}); err != nil || assets[0].Decimals != 19 {
		t.Fatalf("expected 19 decimals to be accepted, got %+v %v", assets, err)
	}
	for _, bad := range []string{"a:b", "a:b:fee", "a:b:1:999", ckBTC + ":WIDE:1:20", ckBTC + ":WIDE:1:255"} {
		if _, err := ParseAssets([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
