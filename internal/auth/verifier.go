package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/chatgate/internal/store"
)

var (
	// ErrMissingCredential is returned when no token was supplied.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential is returned for malformed, tampered or expired tokens.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrUnknownSubject is returned when the token's user no longer exists.
	ErrUnknownSubject = errors.New("unknown subject")
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	ID     string
	Name   string
	Avatar string
	Email  string
}

// Verifier resolves bearer tokens to live user profiles.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	users     store.UserStore
	jwtConfig *JWTConfig
}

// NewVerifier creates a new credential verifier.
func NewVerifier(users store.UserStore, jwtConfig *JWTConfig) *Verifier {
	return &Verifier{
		users:     users,
		jwtConfig: jwtConfig,
	}
}

// Verify validates the token and looks the subject up in the user store.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingCredential
	}

	claims, err := ValidateToken(v.jwtConfig, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	user, err := v.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, ErrUnknownSubject
		}
		return Identity{}, fmt.Errorf("lookup subject: %w", err)
	}

	p := user.Profile()
	return Identity{
		ID:     p.ID,
		Name:   p.Name,
		Avatar: p.Avatar,
		Email:  p.Email,
	}, nil
}
