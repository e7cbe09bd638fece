package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
)

// Namespace separates independent key-spaces derived from one root.
type Namespace string

const (
	// NamespaceOrigin keys are scoped to a website origin and sign logins and
	// session challenges.
	NamespaceOrigin Namespace = "origin"
	// NamespaceTarget keys are scoped to one counterparty or contract so a
	// payment signature for one target cannot be replayed against another.
	NamespaceTarget Namespace = "target"

	// namespaceEntropy backs GetEntropy; it never yields key material.
	namespaceEntropy Namespace = "entropy"
)

const saltVersion = "masquerade/identity/v1"

// Valid reports whether n is one of the public namespaces.
func (n Namespace) Valid() bool {
	return n == NamespaceOrigin || n == NamespaceTarget
}

// KeyPair is a derived ed25519 signing identity.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// Sign signs message with the private key.
func (k KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.Private, message)
}

// PublicID returns the principal text of the public key.
func (k KeyPair) PublicID() string {
	return PrincipalFromPublicKey(k.Public).String()
}

// DeriveIdentity builds the keypair for (namespace, contextKey, maskIndex).
// A non-empty extraSalt is folded into the seed with SHA-256.
func (r *Root) DeriveIdentity(namespace Namespace, contextKey string, maskIndex uint32, extraSalt []byte) (KeyPair, error) {
	if !namespace.Valid() {
		return KeyPair{}, apperrors.WithMetadata(apperrors.CodeInvalidInput, "unknown identity namespace", map[string]string{"namespace": string(namespace)})
	}
	if contextKey == "" {
		return KeyPair{}, apperrors.New(apperrors.CodeInvalidInput, "identity context key is required")
	}
	return r.derive(namespace, contextKey, maskIndex, extraSalt)
}

func (r *Root) derive(namespace Namespace, contextKey string, maskIndex uint32, extraSalt []byte) (KeyPair, error) {
	seed, err := r.Entropy(EncodeSalt(namespace, contextKey, maskIndex))
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive %s identity: %w", namespace, err)
	}
	if len(extraSalt) > 0 {
		h := sha256.New()
		h.Write(seed)
		h.Write(extraSalt)
		seed = h.Sum(nil)
	}
	private := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	return KeyPair{
		Private: private,
		Public:  private.Public().(ed25519.PublicKey),
	}, nil
}

// MaskEntropy returns entropy bound to one mask. It lives in its own
// namespace so the output never equals a signing seed.
func (r *Root) MaskEntropy(origin string, maskIndex uint32, salt []byte) ([]byte, error) {
	if origin == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "entropy origin is required")
	}
	base := EncodeSalt(namespaceEntropy, origin, maskIndex)
	return r.Entropy(appendField(base, salt))
}

// EncodeSalt is the canonical salt encoding. Each field is length-prefixed so
// distinct tuples never share an encoding.
func EncodeSalt(namespace Namespace, contextKey string, maskIndex uint32) []byte {
	out := make([]byte, 0, 4+len(saltVersion)+4+len(namespace)+4+len(contextKey)+4)
	out = appendField(out, []byte(saltVersion))
	out = appendField(out, []byte(namespace))
	out = appendField(out, []byte(contextKey))
	return binary.BigEndian.AppendUint32(out, maskIndex)
}

// EncodeFields length-prefixes every field, for callers composing extra salts.
func EncodeFields(fields ...[]byte) []byte {
	var out []byte
	for _, field := range fields {
		out = appendField(out, field)
	}
	return out
}

func appendField(dst, field []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(field)))
	return append(dst, field...)
}
