package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/porthorian/orgauthz/pkg/gate"
)

const (
	DefaultTokenHeader = "Authorization"
	DefaultUserHeader  = "X-User-ID"
	bearerPrefix       = "bearer "
)

var (
	// ErrNoCredentials means the request carries no identity. The request
	// continues anonymously and gates answer unauthenticated.
	ErrNoCredentials = errors.New("httptransport: no credentials")
	ErrInvalidToken  = errors.New("httptransport: invalid token")
)

// IdentityResolver extracts the acting user from a request.
type IdentityResolver interface {
	Resolve(r *http.Request) (gate.Actor, error)
}

type IdentityResolverFunc func(r *http.Request) (gate.Actor, error)

func (f IdentityResolverFunc) Resolve(r *http.Request) (gate.Actor, error) {
	return f(r)
}

// JWTResolver verifies HS256 bearer tokens issued elsewhere and uses the
// subject claim as the user id.
type JWTResolver struct {
	Secret   []byte
	Issuer   string
	Audience string
	Header   string
}

func (j JWTResolver) Resolve(r *http.Request) (gate.Actor, error) {
	header := j.Header
	if header == "" {
		header = DefaultTokenHeader
	}

	raw := strings.TrimSpace(r.Header.Get(header))
	if raw == "" {
		return gate.Actor{}, ErrNoCredentials
	}
	if len(raw) < len(bearerPrefix) || !strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		return gate.Actor{}, ErrInvalidToken
	}

	return j.Verify(strings.TrimSpace(raw[len(bearerPrefix):]))
}

// Verify checks a raw token and returns the actor it names.
func (j JWTResolver) Verify(token string) (gate.Actor, error) {
	if token == "" || len(j.Secret) == 0 {
		return gate.Actor{}, ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.Issuer))
	}
	if j.Audience != "" {
		options = append(options, jwt.WithAudience(j.Audience))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return j.Secret, nil
	}, options...)
	if err != nil || !parsed.Valid {
		return gate.Actor{}, errors.Join(ErrInvalidToken, err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return gate.Actor{}, ErrInvalidToken
	}
	return gate.Actor{UserID: subject}, nil
}

// HeaderResolver trusts a user id header set by an upstream proxy that has
// already authenticated the caller.
type HeaderResolver struct {
	Header string
}

func (h HeaderResolver) Resolve(r *http.Request) (gate.Actor, error) {
	header := h.Header
	if header == "" {
		header = DefaultUserHeader
	}

	userID := strings.TrimSpace(r.Header.Get(header))
	if userID == "" {
		return gate.Actor{}, ErrNoCredentials
	}
	return gate.Actor{UserID: userID}, nil
}
