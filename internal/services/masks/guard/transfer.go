package guard

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
)

// Ledger methods that move value.
const (
	MethodTransfer = "icrc1_transfer"
	MethodApprove  = "icrc2_approve"
)

// SubaccountSize is the fixed ICRC subaccount length.
const SubaccountSize = 32

// Account is an ICRC account: an owner principal plus optional subaccount.
type Account struct {
	Owner      []byte `cbor:"owner"`
	Subaccount []byte `cbor:"subaccount,omitempty"`
}

// TransferArg is the icrc1_transfer argument.
type TransferArg struct {
	FromSubaccount []byte  `cbor:"from_subaccount,omitempty"`
	To             Account `cbor:"to"`
	Amount         uint64  `cbor:"amount"`
	Fee            *uint64 `cbor:"fee,omitempty"`
	Memo           []byte  `cbor:"memo,omitempty"`
	CreatedAtTime  *uint64 `cbor:"created_at_time,omitempty"`
}

// ApproveArg is the icrc2_approve argument.
type ApproveArg struct {
	FromSubaccount    []byte  `cbor:"from_subaccount,omitempty"`
	Spender           Account `cbor:"spender"`
	Amount            uint64  `cbor:"amount"`
	ExpectedAllowance *uint64 `cbor:"expected_allowance,omitempty"`
	ExpiresAt         *uint64 `cbor:"expires_at,omitempty"`
	Fee               *uint64 `cbor:"fee,omitempty"`
	Memo              []byte  `cbor:"memo,omitempty"`
	CreatedAtTime     *uint64 `cbor:"created_at_time,omitempty"`
}

// Movement is the decoded, method-independent view of a value transfer.
type Movement struct {
	Method       string
	Counterparty Account
	Amount       uint64
	Fee          *uint64
	Memo         []byte
}

var decMode = mustDecMode()

var encMode = mustEncMode()

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("build cbor decoder: %v", err))
	}
	return mode
}

func mustEncMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("build cbor encoder: %v", err))
	}
	return mode
}

// Allowed reports whether method is a value-moving method the guard reviews.
func Allowed(method string) bool {
	return method == MethodTransfer || method == MethodApprove
}

// DecodeMovement decodes arg with the schema of method.
func DecodeMovement(method string, arg []byte) (Movement, error) {
	var movement Movement
	switch method {
	case MethodTransfer:
		var in TransferArg
		if err := decMode.Unmarshal(arg, &in); err != nil {
			return Movement{}, apperrors.Wrap(apperrors.CodeInvalidInput, "decode transfer argument", err)
		}
		movement = Movement{Method: method, Counterparty: in.To, Amount: in.Amount, Fee: in.Fee, Memo: in.Memo}
	case MethodApprove:
		var in ApproveArg
		if err := decMode.Unmarshal(arg, &in); err != nil {
			return Movement{}, apperrors.Wrap(apperrors.CodeInvalidInput, "decode approve argument", err)
		}
		movement = Movement{Method: method, Counterparty: in.Spender, Amount: in.Amount, Fee: in.Fee, Memo: in.Memo}
	default:
		return Movement{}, apperrors.WithMetadata(apperrors.CodeInvalidInput, "method is not allowed", map[string]string{"method": method})
	}
	if err := validateAccount(movement.Counterparty); err != nil {
		return Movement{}, err
	}
	return movement, nil
}

// EncodeTransfer encodes an icrc1_transfer argument deterministically.
func EncodeTransfer(arg TransferArg) ([]byte, error) {
	if err := validateAccount(arg.To); err != nil {
		return nil, err
	}
	return encMode.Marshal(arg)
}

// EncodeApprove encodes an icrc2_approve argument deterministically.
func EncodeApprove(arg ApproveArg) ([]byte, error) {
	if err := validateAccount(arg.Spender); err != nil {
		return nil, err
	}
	return encMode.Marshal(arg)
}

func validateAccount(account Account) error {
	if len(account.Owner) == 0 || len(account.Owner) > identity.MaxPrincipalSize {
		return apperrors.New(apperrors.CodeInvalidInput, "account owner is invalid")
	}
	if len(account.Subaccount) != 0 && len(account.Subaccount) != SubaccountSize {
		return apperrors.New(apperrors.CodeInvalidInput, "subaccount must be 32 bytes")
	}
	return nil
}
