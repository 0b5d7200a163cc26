package auth

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrUserUnavailable is returned by user-scoped operations when no
	// authenticated user is present.
	ErrUserUnavailable = errors.New("User is not available.")
	// ErrForbidden is returned when the caller lacks the admin role.
	ErrForbidden = errors.New("admin role required")
)

// Principal identifies the authenticated caller of a request.
type Principal struct {
	UserID string
	Admin  bool
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return p, true
}

// Provider resolves the identity of the current caller.
type Provider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// ContextProvider reads the caller from the Principal placed in the request
// context by the transport layer.
type ContextProvider struct{}

// CurrentUserID implements Provider.
func (ContextProvider) CurrentUserID(ctx context.Context) (string, bool) {
	p, ok := FromContext(ctx)
	if !ok {
		return "", false
	}
	return p.UserID, true
}

// RequireUser returns the current user id or ErrUserUnavailable.
func RequireUser(ctx context.Context, p Provider) (string, error) {
	id, ok := p.CurrentUserID(ctx)
	if !ok || id == "" {
		return "", ErrUserUnavailable
	}
	return id, nil
}

// RequireAdmin returns ErrUserUnavailable for anonymous callers and
// ErrForbidden for authenticated callers without the admin role.
func RequireAdmin(ctx context.Context) error {
	p, ok := FromContext(ctx)
	if !ok {
		return ErrUserUnavailable
	}
	if !p.Admin {
		return ErrForbidden
	}
	return nil
}
