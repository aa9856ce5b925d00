package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/auth_service/internal/apperr"
	"github.com/Skotchmaster/auth_service/internal/mykafka"
	"github.com/Skotchmaster/auth_service/internal/repo"
	"github.com/Skotchmaster/auth_service/internal/search"
	"github.com/Skotchmaster/auth_service/internal/transport"
)

type memIndex struct {
	mu   sync.Mutex
	docs map[string]search.Document
	fail bool
}

func newMemIndex() *memIndex {
	return &memIndex{docs: map[string]search.Document{}}
}

func (m *memIndex) Upsert(_ context.Context, doc search.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *memIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memIndex) Search(_ context.Context, query string, from, size int) (int64, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, nil, errors.New("index unavailable")
	}
	var ids []string
	for id, doc := range m.docs {
		if strings.Contains(doc.Username, query) || strings.Contains(doc.Email, query) {
			ids = append(ids, id)
		}
	}
	total := int64(len(ids))
	if from >= len(ids) {
		return total, nil, nil
	}
	end := from + size
	if end > len(ids) {
		end = len(ids)
	}
	return total, ids[from:end], nil
}

func (m *memIndex) doc(id string) (search.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	return d, ok
}

func (m *memIndex) has(id string) bool {
	_, ok := m.doc(id)
	return ok
}

type usersEnv struct {
	*testEnv
	Index *memIndex
	Users *UserService
}

func newUsersEnv(t *testing.T) *usersEnv {
	t.Helper()
	env := newTestEnv(t, true)
	idx := newMemIndex()
	env.Auth.Index = idx
	return &usersEnv{
		testEnv: env,
		Index:   idx,
		Users: NewUserService(UserDeps{
			Accounts: env.Accounts,
			Roles:    env.Roles,
			Events:   env.Events,
			Index:    idx,
		}),
	}
}

func (e *usersEnv) register(t *testing.T, username string) string {
	t.Helper()
	res, err := e.Auth.Register(ctxWithLogger(), username, username+"@x.io", "secret1")
	require.NoError(t, err)
	return res.User.ID
}

func TestUserService_ListAndGet(t *testing.T) {
	t.Parallel()

	env := newUsersEnv(t)
	ctx := ctxWithLogger()
	for _, name := range []string{"alice", "bob", "carol"} {
		env.register(t, name)
	}

	page, err := env.Users.List(ctx, repo.ListQuery{Page: 1, PerPage: 2, SortBy: "username", SortDirection: "asc"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "alice", page.Items[0].Username)
	assert.Equal(t, "bob", page.Items[1].Username)
	assert.Equal(t, []string{"user"}, page.Items[0].Roles)
	assert.Equal(t, int64(3), page.Meta.Total)
	assert.Equal(t, 2, page.Meta.TotalPages)

	got, err := env.Users.Get(ctx, page.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = env.Users.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUserService_Update(t *testing.T) {
	t.Parallel()

	env := newUsersEnv(t)
	ctx := ctxWithLogger()
	alice := env.register(t, "alice")
	env.register(t, "bob")

	name := "alice2"
	got, err := env.Users.Update(ctx, alice, transport.UpdateUserRequest{Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "alice2", got.Username)
	doc, ok := env.Index.doc(alice)
	require.True(t, ok)
	assert.Equal(t, "alice2", doc.Username)

	taken := "bob"
	_, err = env.Users.Update(ctx, alice, transport.UpdateUserRequest{Username: &taken})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = env.Users.Update(ctx, "missing", transport.UpdateUserRequest{Username: &name})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUserService_Update_DeactivateEndsSession(t *testing.T) {
	t.Parallel()

	env := newUsersEnv(t)
	ctx := ctxWithLogger()
	res, err := env.Auth.Register(ctx, "alice", "alice@x.io", "secret1")
	require.NoError(t, err)

	off := false
	got, err := env.Users.Update(ctx, res.User.ID, transport.UpdateUserRequest{IsActive: &off})
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.False(t, env.Index.has(res.User.ID))

	_, err = env.Auth.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = env.Auth.Login(ctx, "alice", "secret1")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestUserService_DeleteAndRestore(t *testing.T) {
	t.Parallel()

	env := newUsersEnv(t)
	ctx := ctxWithLogger()
	alice := env.register(t, "alice")
	require.True(t, env.Index.has(alice))

	require.NoError(t, env.Users.Delete(ctx, alice))
	assert.False(t, env.Index.has(alice))
	assert.ErrorIs(t, env.Users.Delete(ctx, alice), apperr.ErrNotFound)

	_, err := env.Users.Get(ctx, alice)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	deleted, err := env.Users.ListDeleted(ctx, repo.ListQuery{})
	require.NoError(t, err)
	require.Len(t, deleted.Items, 1)
	assert.NotNil(t, deleted.Items[0].DeletedAt)

	restored, err := env.Users.Restore(ctx, alice)
	require.NoError(t, err)
	assert.True(t, restored.IsActive)
	assert.Nil(t, restored.DeletedAt)
	assert.True(t, env.Index.has(alice))

	_, err = env.Users.Restore(ctx, alice)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.Auth.Login(ctx, "alice", "secret1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		mykafka.EventUserRegistered,
		mykafka.EventUserDeleted,
		mykafka.EventUserRestored,
		mykafka.EventUserLoggedIn,
	}, env.Events.Types())
}

func TestUserService_Restore_NameTaken(t *testing.T) {
	t.Parallel()

	env := newUsersEnv(t)
	ctx := ctxWithLogger()
	first := env.register(t, "alice")
	require.NoError(t, env.Users.Delete(ctx, first))
	env.register(t, "alice")

	_, err := env.Users.Restore(ctx, first)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestUserService_Search(t *testing.T) {
	t.Parallel()

	env := newUsersEnv(t)
	ctx := ctxWithLogger()
	env.register(t, "alice")
	env.register(t, "alina")
	env.register(t, "bob")

	page, err := env.Users.Search(ctx, "ali", repo.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Meta.Total)
	names := []string{page.Items[0].Username, page.Items[1].Username}
	assert.ElementsMatch(t, []string{"alice", "alina"}, names)

	env.Index.mu.Lock()
	env.Index.fail = true
	env.Index.mu.Unlock()

	page, err = env.Users.Search(ctx, "bob", repo.ListQuery{})
	require.NoError(t, err, "falls back to the store")
	require.Len(t, page.Items, 1)
	assert.Equal(t, "bob", page.Items[0].Username)

	_, err = env.Users.Search(ctx, "  ", repo.ListQuery{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUserService_Roles(t *testing.T) {
	t.Parallel()

	env := newUsersEnv(t)
	ctx := ctxWithLogger()
	res, err := env.Auth.Register(ctx, "alice", "alice@x.io", "secret1")
	require.NoError(t, err)
	id := res.User.ID

	got, err := env.Users.GrantRole(ctx, id, "admin")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin", "user"}, got.Roles)

	_, err = env.Users.GrantRole(ctx, id, "admin")
	require.NoError(t, err, "granting twice is a no-op")

	refreshed, err := env.Auth.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	claims, err := env.Codec.VerifyAccess(refreshed.AccessToken)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin", "user"}, claims.Roles)

	got, err = env.Users.RevokeRole(ctx, id, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, got.Roles)

	_, err = env.Users.RevokeRole(ctx, id, "admin")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.Users.GrantRole(ctx, id, "superuser")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.Users.GrantRole(ctx, "missing", "admin")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestOrderByIDs(t *testing.T) {
	t.Parallel()

	env := newUsersEnv(t)
	a := env.register(t, "alice")
	b := env.register(t, "bob")

	accounts, err := env.Accounts.FindByIDs(ctxWithLogger(), []string{a, b})
	require.NoError(t, err)

	out := orderByIDs(accounts, []string{b, "stale", a})
	require.Len(t, out, 2)
	assert.Equal(t, b, out[0].ID)
	assert.Equal(t, a, out[1].ID)
}
