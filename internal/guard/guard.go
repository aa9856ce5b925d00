// Package guard turns access tokens into principals and decides role-based
// access. It knows nothing about HTTP.
package guard

import (
	"context"
	"errors"
	"slices"

	"github.com/Skotchmaster/auth_service/internal/apperr"
	"github.com/Skotchmaster/auth_service/internal/models"
	"github.com/Skotchmaster/auth_service/internal/repo"
	"github.com/Skotchmaster/auth_service/internal/tokens"
)

type Principal struct {
	AccountID string
	Roles     []string
}

func (p Principal) HasAnyRole(allowed ...string) bool {
	for _, r := range p.Roles {
		if slices.Contains(allowed, r) {
			return true
		}
	}
	return false
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.AccountID != ""
}

// AccountLookup lets the guard confirm a token's subject is still live.
type AccountLookup interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

type AccessVerifier interface {
	VerifyAccess(token string) (*tokens.AccessClaims, error)
}

type Guard struct {
	Tokens AccessVerifier
	// Accounts is optional. When set, tokens of deactivated or soft-deleted
	// accounts stop working before they expire.
	Accounts AccountLookup
}

// msgInvalidAccess is the one message for every rejected token. The reason
// stays in the wrapped cause for logs.
const msgInvalidAccess = "invalid or expired access token"

var (
	errAccountGone     = errors.New("account not found")
	errAccountInactive = errors.New("account is inactive")
)

func (g *Guard) Authenticate(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, apperr.Unauthorized("missing access token")
	}
	claims, err := g.Tokens.VerifyAccess(token)
	if err != nil {
		return Principal{}, apperr.Wrap(apperr.KindUnauthorized, msgInvalidAccess, err)
	}

	if g.Accounts != nil {
		acc, err := g.Accounts.FindByID(ctx, claims.Subject)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return Principal{}, apperr.Wrap(apperr.KindUnauthorized, msgInvalidAccess, errAccountGone)
		case err != nil:
			return Principal{}, apperr.Internal(err)
		case !acc.Live():
			return Principal{}, apperr.Wrap(apperr.KindUnauthorized, msgInvalidAccess, errAccountInactive)
		}
	}

	return Principal{AccountID: claims.Subject, Roles: claims.Roles}, nil
}

// RequireRoles passes when the principal holds at least one allowed role.
func RequireRoles(ctx context.Context, allowed ...string) error {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return apperr.Unauthorized("authentication required")
	}
	if !p.HasAnyRole(allowed...) {
		return apperr.Forbidden("insufficient role")
	}
	return nil
}
