// ABOUTME: Credential extraction for the WebSocket handshake
// ABOUTME: Reads the token from the query string or the Authorization header

package auth

import (
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns an empty string when the header is absent or malformed.
func extractBearerToken(authHeader string) string {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// TokenFromRequest returns the handshake credential. Browsers cannot set
// headers on a WebSocket upgrade, so the "token" query parameter wins.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}
