// Package auth provides bearer credential sources for authenticating against
// remote MCP tool servers.
//
// A [Source] hands out a [Credential] on demand. Three implementations ship
// with toolgate:
//
//   - [None] for unauthenticated servers.
//   - [Static] for a fixed token taken from configuration.
//   - [ClientCredentials] for the OAuth 2.1 client-credentials flow.
//
// Credentials carry their expiry instant so that callers can refresh before
// the token goes stale. A zero ExpiresAt means the credential never expires.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is a bearer token together with its expiry instant.
// It is immutable once issued.
type Credential struct {
	// Token is the raw bearer token, sent as "Authorization: Bearer <Token>".
	// Empty for unauthenticated configurations.
	Token string

	// ExpiresAt is the instant after which the token is no longer valid.
	// The zero value means the credential never expires.
	ExpiresAt time.Time
}

// Expiring reports whether the credential has a finite lifetime.
func (c Credential) Expiring() bool {
	return !c.ExpiresAt.IsZero()
}

// Source acquires bearer credentials. Implementations must be safe for
// concurrent use and stateless between calls: every Acquire returns a
// credential usable as of the moment it is issued.
type Source interface {
	// Acquire obtains a fresh credential. It must respect ctx for
	// cancellation and deadline propagation.
	Acquire(ctx context.Context) (Credential, error)
}

// noneSource issues empty, never-expiring credentials.
type noneSource struct{}

func (noneSource) Acquire(context.Context) (Credential, error) {
	return Credential{}, nil
}

// None returns a [Source] for servers that require no authentication.
// The credentials it issues are empty and never expire.
func None() Source {
	return noneSource{}
}

// staticSource issues a fixed token from configuration.
type staticSource struct {
	cred Credential
}

func (s staticSource) Acquire(context.Context) (Credential, error) {
	return s.cred, nil
}

// Static returns a [Source] that always issues the given token.
//
// When the token parses as a JWT its "exp" claim is used as the expiry so
// that session refresh still fires before a statically configured token goes
// stale. Tokens that are not JWTs are treated as never-expiring.
func Static(token string) Source {
	return staticSource{cred: Credential{
		Token:     token,
		ExpiresAt: jwtExpiry(token),
	}}
}

// jwtExpiry extracts the "exp" claim from token without verifying its
// signature. Returns the zero time when the token is not a JWT or carries no
// expiry. The token is never trusted for authorisation decisions here; the
// claim only schedules the proactive refresh.
func jwtExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
