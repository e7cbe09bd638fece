package server

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/masks/guard"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
)

// assertionClaims is the login assertion payload. The token is signed by the
// mask key itself, so pub together with sub lets any relying party check it
// without contacting the broker.
type assertionClaims struct {
	jwt.RegisteredClaims
	PublicKey string `json:"pub"`
}

// AssertionClaims are the validated claims of a login assertion.
type AssertionClaims struct {
	Principal string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	JWTID     string
	PublicKey ed25519.PublicKey
}

type signFunc func(ctx context.Context, origin string, req guard.SignRequest) (guard.SignResult, error)

// issueAssertion builds an EdDSA token for origin's session mask, signing it
// through the service so the usual signing checks apply.
func issueAssertion(ctx context.Context, sign signFunc, origin string, pub ed25519.PublicKey, nonce string, now time.Time, ttl time.Duration) (string, error) {
	principal := identity.PrincipalFromPublicKey(pub).String()
	claims := assertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    principal,
			Subject:   principal,
			Audience:  jwt.ClaimStrings{origin},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        nonce,
		},
		PublicKey: encodeKey(pub),
	}
	signingString, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SigningString()
	if err != nil {
		return "", fmt.Errorf("encode assertion: %w", err)
	}
	result, err := sign(ctx, origin, guard.SignRequest{Challenge: []byte(signingString)})
	if err != nil {
		return "", err
	}
	if !result.Approved {
		return "", apperrors.New(apperrors.CodeUnauthorized, "assertion signature declined")
	}
	return signingString + "." + base64.RawURLEncoding.EncodeToString(result.Signature), nil
}

// VerifyAssertion checks a login assertion addressed to audience.
func VerifyAssertion(token, audience string, now func() time.Time) (AssertionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AssertionClaims{}, apperrors.New(apperrors.CodeInvalidInput, "assertion is required")
	}
	if now == nil {
		now = time.Now
	}

	var (
		parsed assertionClaims
		pub    ed25519.PublicKey
	)
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		raw, err := base64.RawURLEncoding.DecodeString(parsed.PublicKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, errors.New("assertion public key is invalid")
		}
		pub = ed25519.PublicKey(raw)
		if identity.PrincipalFromPublicKey(pub).String() != parsed.Subject {
			return nil, errors.New("assertion subject does not match its key")
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return AssertionClaims{}, mapJWTError(err)
	}

	claims := AssertionClaims{
		Principal: parsed.Subject,
		Audience:  audience,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
		JWTID:     parsed.ID,
		PublicKey: pub,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeUnauthorized, "assertion is expired", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return apperrors.Wrap(apperrors.CodeUnauthorized, "assertion audience mismatch", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.CodeUnauthorized, "assertion signature is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeInvalidInput, "assertion is malformed", err)
	}
}

func encodeKey(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)
}
