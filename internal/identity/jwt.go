package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// JWTProvider extracts identity attributes from the platform session
// token. When an HS256 secret is configured the signature is verified;
// otherwise claims are extracted as-is (the platform already
// authenticated the token before handing it to us).
type JWTProvider struct {
	fetch  TokenFunc
	secret string
}

// NewJWTProvider creates a provider backed by the given token source
func NewJWTProvider(fetch TokenFunc, secret string) *JWTProvider {
	return &JWTProvider{fetch: fetch, secret: secret}
}

// Token returns the current platform token after checking expiry
func (p *JWTProvider) Token(ctx context.Context) (string, error) {
	tok, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", ErrNoToken
	}

	claims, err := p.parse(tok)
	if err != nil {
		return "", err
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		return "", ErrTokenExpired
	}
	return tok, nil
}

// User extracts the user attributes from the current token's claims
func (p *JWTProvider) User(ctx context.Context) (User, error) {
	tok, err := p.fetch(ctx)
	if err != nil {
		return User{}, err
	}
	if tok == "" {
		return User{}, ErrNoToken
	}

	claims, err := p.parse(tok)
	if err != nil {
		return User{}, err
	}

	user := User{}
	if sub, ok := claims["sub"].(string); ok {
		user.ID = sub
	}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		user.Name = name
	}
	if user.ID == "" {
		return User{}, fmt.Errorf("token is missing a sub claim")
	}
	return user, nil
}

func (p *JWTProvider) parse(tok string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}

	if p.secret == "" {
		if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
			log.Warn().Err(err).Msg("failed to parse platform token")
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
		return claims, nil
	}

	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(p.secret), nil
	})
	if err != nil || !t.Valid {
		log.Warn().Err(err).Msg("platform token validation failed")
		if err == nil {
			err = jwt.ErrTokenUnverifiable
		}
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	return claims, nil
}
