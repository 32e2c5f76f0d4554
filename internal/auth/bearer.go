package auth

import (
	"errors"
	"net/http"
	"strings"
)

const (
	bearerPrefix          = "Bearer "
	accessTokenQueryParam = "access_token"
)

// ErrMissingBearerToken indicates the request carried no usable bearer token.
var ErrMissingBearerToken = errors.New("auth: bearer token missing")

// BearerFromRequest extracts the bearer token from the Authorization header,
// falling back to the access_token query parameter. The fallback exists
// because browser WebSocket handshakes cannot set custom headers; tokens from
// either channel go through the identical validation path.
func BearerFromRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingBearerToken
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, bearerPrefix) {
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if token != "" {
			return token, nil
		}
	}

	if token := strings.TrimSpace(r.URL.Query().Get(accessTokenQueryParam)); token != "" {
		return token, nil
	}

	return "", ErrMissingBearerToken
}
