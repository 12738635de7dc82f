// Package auth resolves the bearer credential and user identity for cart calls.
//
// Credentials live in one of two storage tiers, mirroring the storefront's
// login form: "remember me" writes to the persistent tier, otherwise the
// credential only lives for the session. Lookups check the session tier first.
package auth

import (
	"context"
	"fmt"
	"strings"

	"cartsync/internal/model"
	"cartsync/internal/storage"
)

// Storage keys used in both tiers.
const (
	TokenKey  = "token"
	UserIDKey = "userId"
)

// Identity is the authenticated user a cart belongs to.
// The zero value is the anonymous identity.
type Identity struct {
	UserID string
}

// Anonymous returns the identity of a visitor who has not logged in.
func Anonymous() Identity {
	return Identity{}
}

// IsAnonymous reports whether no user is attached.
func (i Identity) IsAnonymous() bool {
	return strings.TrimSpace(i.UserID) == ""
}

// TokenSource yields the bearer credential for a remote call.
// Implementations return an error wrapping model.ErrUnauthenticated when none is stored.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Credentials reads and writes the credential across the two tiers.
type Credentials struct {
	remember storage.Backend
	session  storage.Backend
}

// NewCredentials creates a credential store over a persistent and a session tier.
func NewCredentials(remember, session storage.Backend) *Credentials {
	return &Credentials{remember: remember, session: session}
}

// Login stores token and user id in exactly one tier and clears the other, so a
// later lookup can never pick up a stale credential from the tier not chosen.
func (c *Credentials) Login(ctx context.Context, userID, token string, remember bool) error {
	if strings.TrimSpace(userID) == "" {
		return model.NewValidationError("userId", "required")
	}
	if strings.TrimSpace(token) == "" {
		return model.NewValidationError("token", "required")
	}

	target, other := c.session, c.remember
	if remember {
		target, other = c.remember, c.session
	}
	if err := clearTier(ctx, other); err != nil {
		return err
	}
	if err := target.Set(ctx, TokenKey, []byte(token)); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	if err := target.Set(ctx, UserIDKey, []byte(userID)); err != nil {
		return fmt.Errorf("storing user id: %w", err)
	}
	return nil
}

// Logout removes the credential from both tiers.
func (c *Credentials) Logout(ctx context.Context) error {
	if err := clearTier(ctx, c.session); err != nil {
		return err
	}
	return clearTier(ctx, c.remember)
}

// Token returns the stored bearer token.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	token, err := c.lookup(ctx, TokenKey)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", model.NewUnauthenticatedError("no credential stored")
	}
	return token, nil
}

// Identity resolves the current user. Anonymous when no credential is stored.
func (c *Credentials) Identity(ctx context.Context) (Identity, error) {
	token, err := c.lookup(ctx, TokenKey)
	if err != nil {
		return Anonymous(), err
	}
	if token == "" {
		return Anonymous(), nil
	}
	userID, err := c.lookup(ctx, UserIDKey)
	if err != nil {
		return Anonymous(), err
	}
	return Identity{UserID: userID}, nil
}

// lookup returns the value from the first tier holding a token; the user id must
// come from the same tier as the token it belongs to.
func (c *Credentials) lookup(ctx context.Context, key string) (string, error) {
	for _, tier := range []storage.Backend{c.session, c.remember} {
		_, hasToken, err := tier.Get(ctx, TokenKey)
		if err != nil {
			return "", fmt.Errorf("reading credential: %w", err)
		}
		if !hasToken {
			continue
		}
		v, _, err := tier.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", key, err)
		}
		return strings.TrimSpace(string(v)), nil
	}
	return "", nil
}

func clearTier(ctx context.Context, tier storage.Backend) error {
	for _, key := range []string{TokenKey, UserIDKey} {
		if err := tier.Delete(ctx, key); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}
	}
	return nil
}

// StaticToken is a TokenSource with a fixed value. An empty value is unauthenticated.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", model.NewUnauthenticatedError("no credential stored")
	}
	return string(s), nil
}

var (
	_ TokenSource = (*Credentials)(nil)
	_ TokenSource = StaticToken("")
)
