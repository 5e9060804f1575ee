// ABOUTME: Identity gate that authenticates a connection's credential before a session exists
// ABOUTME: Maps verifier and directory failures onto MissingCredential / InvalidCredential

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/chatline/internal/store"
)

// Gate errors. Both are terminal for the connection.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// UserDirectory looks up identities by id
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Gate authenticates credentials against the token verifier and the user directory
type Gate struct {
	verifier TokenVerifier
	users    UserDirectory
	logger   *slog.Logger
}

// NewGate creates a Gate. users may be nil, in which case any verified
// subject is accepted as the identity.
func NewGate(verifier TokenVerifier, users UserDirectory, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		verifier: verifier,
		users:    users,
		logger:   logger.With("component", "identity-gate"),
	}
}

// Authenticate returns the identity for token. It has no side effects.
func (g *Gate) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingCredential
	}

	identity, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.Debug("credential rejected", "error", err)
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if identity == "" {
		return "", ErrInvalidCredential
	}

	if g.users != nil {
		if _, err := g.users.GetUser(ctx, identity); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", fmt.Errorf("%w: unknown user", ErrInvalidCredential)
			}
			return "", fmt.Errorf("%w: user lookup: %v", ErrInvalidCredential, err)
		}
	}

	return identity, nil
}

// IsAuthError reports whether err came from the gate
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrInvalidCredential)
}
