package wsbridge

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TokenCookieName is the cookie a broker page sends its holder token in.
// Browsers cannot set headers on a websocket handshake.
const TokenCookieName = "masquerade_token"

// MinTokenLength is the shortest holder token TokenAuthorizer accepts.
const MinTokenLength = 16

// Authorizer authenticates the page holding a bridge socket. It returns an
// identifier of the holder for logs.
type Authorizer interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// TokenAuthorizer accepts one shared holder token.
type TokenAuthorizer struct {
	Token string
}

// NewTokenAuthorizer validates token and returns an authorizer for it.
func NewTokenAuthorizer(token string) (TokenAuthorizer, error) {
	token = strings.TrimSpace(token)
	if len(token) < MinTokenLength {
		return TokenAuthorizer{}, fmt.Errorf("holder token must be at least %d characters", MinTokenLength)
	}
	return TokenAuthorizer{Token: token}, nil
}

// Authenticate compares token with the configured one in constant time.
func (a TokenAuthorizer) Authenticate(_ context.Context, token string) (string, error) {
	if len(a.Token) < MinTokenLength {
		return "", errors.New("holder token is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) != 1 {
		return "", errors.New("holder token mismatch")
	}
	return "holder", nil
}

// TokenFromRequest reads the holder token from the token cookie or a bearer
// Authorization header.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if cookie, err := r.Cookie(TokenCookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// Authenticate runs authorizer over the token carried by r.
func Authenticate(r *http.Request, authorizer Authorizer) (string, error) {
	if authorizer == nil {
		return "", errors.New("authorizer is not configured")
	}
	token := TokenFromRequest(r)
	if token == "" {
		return "", errors.New("missing holder token")
	}
	holder, err := authorizer.Authenticate(r.Context(), token)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(holder) == "" {
		return "", errors.New("empty holder after auth")
	}
	return holder, nil
}

// RequireHolder wraps next so that only authenticated holders reach it.
func RequireHolder(authorizer Authorizer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := Authenticate(r, authorizer); err != nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
