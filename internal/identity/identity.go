// Package identity supplies the current user's attributes and auth
// token to the bridge and the record store client. Tokens are fetched
// fresh on every request; the package never caches them.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrNoToken indicates the token source produced an empty token
	ErrNoToken = errors.New("identity token is empty")

	// ErrTokenExpired indicates the platform token is past its expiry
	ErrTokenExpired = errors.New("identity token is expired")
)

// User holds the attributes extracted from the platform user object
type User struct {
	ID    string
	Email string
	Name  string
}

// Provider supplies the active identity
type Provider interface {
	// User returns the current user's attributes
	User(ctx context.Context) (User, error)

	// Token returns a fresh auth token for outbound store requests
	Token(ctx context.Context) (string, error)
}

// TokenFunc fetches the current platform token
type TokenFunc func(ctx context.Context) (string, error)

// StaticProvider is a fixed identity, used in dev mode and tests
type StaticProvider struct {
	Current      User
	CurrentToken string
}

func (p *StaticProvider) User(ctx context.Context) (User, error) {
	return p.Current, nil
}

func (p *StaticProvider) Token(ctx context.Context) (string, error) {
	if p.CurrentToken == "" {
		return "", ErrNoToken
	}
	return p.CurrentToken, nil
}
