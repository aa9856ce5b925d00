package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/auth_service/internal/apperr"
	"github.com/Skotchmaster/auth_service/internal/models"
	"github.com/Skotchmaster/auth_service/internal/repo"
	"github.com/Skotchmaster/auth_service/internal/tokens"
)

type stubAccounts map[string]*models.Account

func (s stubAccounts) FindByID(_ context.Context, id string) (*models.Account, error) {
	if acc, ok := s[id]; ok {
		return acc, nil
	}
	return nil, repo.ErrNotFound
}

func newCodec(t *testing.T, now func() time.Time) *tokens.Codec {
	t.Helper()
	c, err := tokens.NewCodec(tokens.Options{
		AccessSecret:  []byte("test-jwt-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		Now:           now,
	})
	require.NoError(t, err)
	return c
}

func TestRequireRoles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ctx     context.Context
		allowed []string
		kind    *apperr.Error
	}{
		{name: "no principal", ctx: context.Background(), allowed: []string{"admin"}, kind: apperr.ErrUnauthorized},
		{name: "user on admin route", ctx: WithPrincipal(context.Background(), Principal{AccountID: "u1", Roles: []string{"user"}}), allowed: []string{"admin"}, kind: apperr.ErrForbidden},
		{name: "any of", ctx: WithPrincipal(context.Background(), Principal{AccountID: "u1", Roles: []string{"user"}}), allowed: []string{"admin", "user"}},
		{name: "no roles", ctx: WithPrincipal(context.Background(), Principal{AccountID: "u1"}), allowed: []string{"user"}, kind: apperr.ErrForbidden},
		{name: "admin", ctx: WithPrincipal(context.Background(), Principal{AccountID: "u1", Roles: []string{"admin", "user"}}), allowed: []string{"admin"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := RequireRoles(tt.ctx, tt.allowed...)
			if tt.kind == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	codec := newCodec(t, nil)
	token, _, err := codec.IssueAccess("u1", []string{"user"})
	require.NoError(t, err)

	g := &Guard{Tokens: codec}
	p, err := g.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.AccountID)
	assert.Equal(t, []string{"user"}, p.Roles)

	_, err = g.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = g.Authenticate(context.Background(), "garbage")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	refresh, _, err := codec.IssueRefresh("u1")
	require.NoError(t, err)
	_, err = g.Authenticate(context.Background(), refresh)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestAuthenticate_Expired(t *testing.T) {
	t.Parallel()

	old := newCodec(t, func() time.Time { return time.Now().Add(-2 * time.Hour) })
	token, _, err := old.IssueAccess("u1", nil)
	require.NoError(t, err)

	g := &Guard{Tokens: newCodec(t, nil)}
	_, err = g.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.ErrorIs(t, err, tokens.ErrExpired)
}

func TestAuthenticate_RechecksAccount(t *testing.T) {
	t.Parallel()

	codec := newCodec(t, nil)
	deletedAt := time.Now()
	g := &Guard{Tokens: codec, Accounts: stubAccounts{
		"live":     {ID: "live", IsActive: true},
		"inactive": {ID: "inactive", IsActive: false},
		"deleted":  {ID: "deleted", IsActive: true, DeletedAt: &deletedAt},
	}}

	for _, id := range []string{"inactive", "deleted", "ghost"} {
		token, _, err := codec.IssueAccess(id, []string{"user"})
		require.NoError(t, err)
		_, err = g.Authenticate(context.Background(), token)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized, id)
	}

	token, _, err := codec.IssueAccess("live", []string{"user"})
	require.NoError(t, err)
	_, err = g.Authenticate(context.Background(), token)
	assert.NoError(t, err)
}

func TestAuthenticate_UniformRejection(t *testing.T) {
	t.Parallel()

	codec := newCodec(t, nil)
	old := newCodec(t, func() time.Time { return time.Now().Add(-2 * time.Hour) })
	deletedAt := time.Now()
	g := &Guard{Tokens: codec, Accounts: stubAccounts{
		"live":     {ID: "live", IsActive: true},
		"inactive": {ID: "inactive", IsActive: false},
		"deleted":  {ID: "deleted", IsActive: true, DeletedAt: &deletedAt},
	}}
	issue := func(c *tokens.Codec, id string) string {
		token, _, err := c.IssueAccess(id, []string{"user"})
		require.NoError(t, err)
		return token
	}

	tests := []struct {
		name  string
		token string
		cause error
	}{
		{name: "expired", token: issue(old, "live"), cause: tokens.ErrExpired},
		{name: "unknown account", token: issue(codec, "ghost"), cause: errAccountGone},
		{name: "inactive", token: issue(codec, "inactive"), cause: errAccountInactive},
		{name: "deleted", token: issue(codec, "deleted"), cause: errAccountInactive},
		{name: "malformed", token: "garbage"},
	}
	for _, tt := range tests {
		_, err := g.Authenticate(context.Background(), tt.token)
		require.ErrorIs(t, err, apperr.ErrUnauthorized, tt.name)
		ae := apperr.As(err)
		require.NotNil(t, ae, tt.name)
		assert.Equal(t, msgInvalidAccess, ae.Message, tt.name)
		if tt.cause != nil {
			assert.ErrorIs(t, err, tt.cause, tt.name)
		}
	}
}
