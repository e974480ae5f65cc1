// Package auth is the Auth Validator: resolves a bearer token to an
// authenticated user, rejects a second live connection for the same user,
// and gates private-session joins against the whitelist. Generalized from
// the teacher's cookie-session lookup (getOrCreateSession/getSessionSafely)
// to a stateless bearer-token scheme.
package auth

import (
	"context"
	"errors"
	"fmt"

	"stakesession/pkg/clientsession"
	"stakesession/pkg/session"
)

// ErrAlreadyConnected is returned when the resolved user already has a live
// connection registered.
var ErrAlreadyConnected = errors.New("user already has a live connection")

// ErrNotWhitelisted is returned when a private session's whitelist does not
// include the requesting user.
var ErrNotWhitelisted = errors.New("user is not whitelisted for this session")

// Store is the subset of the Persistence Gateway the validator needs.
type Store interface {
	LookupUserSession(ctx context.Context, authToken string) (session.UserID, error)
	IsWhitelisted(ctx context.Context, sessionID string, userID session.UserID) (bool, error)
}

// Validator authenticates inbound connections and authorizes session
// joins.
type Validator struct {
	store   Store
	clients *clientsession.Registry
}

// New builds a Validator over store and the process's client registry.
func New(store Store, clients *clientsession.Registry) *Validator {
	return &Validator{store: store, clients: clients}
}

// Authenticate resolves authToken to a user id and rejects the attempt if
// that user already holds a live connection.
func (v *Validator) Authenticate(ctx context.Context, authToken string) (session.UserID, error) {
	userID, err := v.store.LookupUserSession(ctx, authToken)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	if _, connected := v.clients.Get(userID); connected {
		return "", ErrAlreadyConnected
	}

	return userID, nil
}

// AuthorizeJoin checks whether userID may join sessionID, given whether
// that session is private. Public sessions always authorize.
func (v *Validator) AuthorizeJoin(ctx context.Context, sessionID string, userID session.UserID, private bool) error {
	if !private {
		return nil
	}

	ok, err := v.store.IsWhitelisted(ctx, sessionID, userID)
	if err != nil {
		return fmt.Errorf("authorize join: %w", err)
	}
	if !ok {
		return ErrNotWhitelisted
	}
	return nil
}
