package auth

import (
	"net/http"
	"strings"
)

// Credential returns the access token carried in the Authorization header.
// Both the bare token and the "Bearer <token>" form are accepted.
func Credential(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
