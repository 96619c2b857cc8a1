package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrInvalidCredentials is returned when an Authorization header is present
// but does not identify a user.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator resolves the user behind a request. A request without
// credentials is anonymous: empty user ID and nil error.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// TokenAuthenticator accepts static bearer tokens from configuration.
type TokenAuthenticator struct {
	tokens map[string]string
}

// NewTokenAuthenticator creates an authenticator for token -> user ID pairs.
func NewTokenAuthenticator(tokens map[string]string) *TokenAuthenticator {
	return &TokenAuthenticator{tokens: tokens}
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", ErrInvalidCredentials
	}

	// Compare against every token so timing does not depend on which matched.
	var user string
	for candidate, id := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			user = id
		}
	}
	if user == "" {
		return "", ErrInvalidCredentials
	}
	return user, nil
}
