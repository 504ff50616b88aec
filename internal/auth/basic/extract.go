package basic

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// ExtractCredentials extracts the key and secret from an Authorization
// header value. The scheme comparison is case-insensitive per RFC 7617.
// The secret may contain colons; only the first colon separates key
// from secret.
func ExtractCredentials(header string) (key, secret string, err error) {
	if header == "" {
		return "", "", ErrMissingCredentials
	}

	const prefix = "basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", ErrInvalidHeader
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", ErrInvalidHeader
	}

	key, secret, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", ErrInvalidHeader
	}

	if key == "" {
		return "", "", ErrInvalidHeader
	}

	return key, secret, nil
}

// ExtractFromRequest extracts the key and secret from an HTTP request.
func ExtractFromRequest(r *http.Request) (key, secret string, err error) {
	return ExtractCredentials(r.Header.Get("Authorization"))
}

// EncodeCredentials builds an Authorization header value for the given
// key and secret. It is used by tests and the management CLI.
func EncodeCredentials(key, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(key+":"+secret))
}
