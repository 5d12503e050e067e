// Package auth resolves bearer tokens to user ids.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrUnknownToken is returned when a token maps to no user.
	ErrUnknownToken = errors.New("unknown bearer token")
)

// Authenticator resolves a request to a user id.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Static maps fixed bearer tokens to user ids.
type Static struct {
	tokens map[string]string
}

// NewStatic builds a Static authenticator. Blank tokens and users are ignored.
func NewStatic(tokens map[string]string) *Static {
	copied := make(map[string]string, len(tokens))
	for token, user := range tokens {
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if token == "" || user == "" {
			continue
		}
		copied[token] = user
	}
	return &Static{tokens: copied}
}

// Authenticate returns the user id for the request's bearer token.
func (s *Static) Authenticate(r *http.Request) (string, error) {
	token, ok := BearerToken(r)
	if !ok {
		return "", ErrMissingToken
	}
	for known, user := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return user, nil
		}
	}
	return "", ErrUnknownToken
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
