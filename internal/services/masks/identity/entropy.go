package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"golang.org/x/crypto/hkdf"
)

// RootSecretSize is the number of bytes a root secret must carry.
const RootSecretSize = 32

// EntropySize is the length of every Entropy output.
const EntropySize = 32

const entropyDomain = "masquerade/entropy/v1"

// Root holds the root secret. The secret is never exported; callers reach it
// only through Entropy and the derivation helpers built on it.
type Root struct {
	secret []byte
}

// NewRoot wraps a root secret. The slice is copied.
func NewRoot(secret []byte) (*Root, error) {
	if len(secret) != RootSecretSize {
		return nil, fmt.Errorf("root secret must be %d bytes, got %d", RootSecretSize, len(secret))
	}
	return &Root{secret: append([]byte(nil), secret...)}, nil
}

// ParseRoot decodes a base64 root secret as found in configuration.
func ParseRoot(encoded string) (*Root, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("root secret is required")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, fmt.Errorf("decode root secret: %w", err)
	}
	return NewRoot(decoded)
}

// NewRandomRoot draws a fresh root secret from crypto/rand.
func NewRandomRoot() (*Root, error) {
	secret := make([]byte, RootSecretSize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("generate root secret: %w", err)
	}
	return &Root{secret: secret}, nil
}

// Encode returns the base64 form accepted by ParseRoot.
func (r *Root) Encode() string {
	if r == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(r.secret)
}

// Entropy is the deterministic one-way function over the root secret.
// Identical salts always yield identical output. Callers are responsible for
// encoding domain separation into salt.
func (r *Root) Entropy(salt []byte) ([]byte, error) {
	if r == nil || len(r.secret) == 0 {
		return nil, apperrors.New(apperrors.CodeUnknown, "entropy backend is unavailable")
	}
	info := make([]byte, 0, len(entropyDomain)+len(salt))
	info = append(info, entropyDomain...)
	info = append(info, salt...)

	reader := hkdf.New(sha256.New, r.secret, nil, info)
	out := make([]byte, EntropySize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}
	return out, nil
}
