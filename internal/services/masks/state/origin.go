package state

import (
	"net"
	"net/url"
	"strings"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// NormalizeOrigin returns the canonical scheme://host[:port] form of raw.
// Paths other than "/", queries, fragments and user info are rejected.
func NormalizeOrigin(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", apperrors.New(apperrors.CodeInvalidInput, "origin is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", apperrors.WrapWithMetadata(apperrors.CodeInvalidInput, "parse origin", map[string]string{"origin": raw}, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" || parsed.Opaque != "" {
		return "", invalidOrigin(raw, "origin must be scheme://host")
	}
	if parsed.User != nil || parsed.RawQuery != "" || parsed.Fragment != "" || (parsed.Path != "" && parsed.Path != "/") {
		return "", invalidOrigin(raw, "origin must not carry path, query or credentials")
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", invalidOrigin(raw, "origin host is required")
	}
	port := parsed.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(strings.Trim(host, "[]"), port), nil
	}
	return scheme + "://" + host, nil
}

func invalidOrigin(raw, message string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidInput, message, map[string]string{"origin": raw})
}
