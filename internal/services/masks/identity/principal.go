package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
)

// selfAuthenticatingTag marks principals derived from a public key.
const selfAuthenticatingTag = 0x02

// MaxPrincipalSize bounds the raw principal length.
const MaxPrincipalSize = 29

// ed25519DERPrefix is the SubjectPublicKeyInfo header for a raw ed25519 key.
var ed25519DERPrefix = []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal is the raw form of a public identifier.
type Principal []byte

// DERPublicKey wraps a raw ed25519 key in its DER envelope.
func DERPublicKey(pub ed25519.PublicKey) []byte {
	out := make([]byte, 0, len(ed25519DERPrefix)+len(pub))
	out = append(out, ed25519DERPrefix...)
	return append(out, pub...)
}

// ParseDERPublicKey unwraps a DER ed25519 key produced by DERPublicKey.
func ParseDERPublicKey(der []byte) (ed25519.PublicKey, error) {
	if len(der) != len(ed25519DERPrefix)+ed25519.PublicKeySize || !bytes.HasPrefix(der, ed25519DERPrefix) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "not a DER ed25519 public key")
	}
	return ed25519.PublicKey(bytes.Clone(der[len(ed25519DERPrefix):])), nil
}

// PrincipalFromPublicKey returns the self-authenticating principal of pub.
func PrincipalFromPublicKey(pub ed25519.PublicKey) Principal {
	sum := sha256.Sum224(DERPublicKey(pub))
	out := make(Principal, 0, len(sum)+1)
	out = append(out, sum[:]...)
	return append(out, selfAuthenticatingTag)
}

// String renders the textual form: base32(crc32 || bytes), lowercase, grouped
// by five characters.
func (p Principal) String() string {
	checked := binary.BigEndian.AppendUint32(nil, crc32.ChecksumIEEE(p))
	checked = append(checked, p...)
	encoded := strings.ToLower(principalEncoding.EncodeToString(checked))

	var b strings.Builder
	for i := 0; i < len(encoded); i += 5 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := min(i+5, len(encoded))
		b.WriteString(encoded[i:end])
	}
	return b.String()
}

// ParsePrincipal decodes and checksums a principal text.
func ParsePrincipal(text string) (Principal, error) {
	compact := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(text), "-", ""))
	if compact == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "principal is required")
	}
	decoded, err := principalEncoding.DecodeString(compact)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "decode principal", err)
	}
	if len(decoded) < 4 || len(decoded)-4 > MaxPrincipalSize {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "principal has invalid length")
	}
	raw := Principal(decoded[4:])
	if binary.BigEndian.Uint32(decoded[:4]) != crc32.ChecksumIEEE(raw) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "principal checksum mismatch")
	}
	if raw.String() != strings.ToLower(strings.TrimSpace(text)) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, fmt.Sprintf("principal %q is not canonical", text))
	}
	return raw, nil
}
