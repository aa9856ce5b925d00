package repo_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/auth_service/internal/db"
	"github.com/Skotchmaster/auth_service/internal/models"
	"github.com/Skotchmaster/auth_service/internal/repo"
)

func InitTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background(), conn))
	return conn
}

func createAccount(t *testing.T, accounts *repo.AccountRepo, username string) *models.Account {
	t.Helper()
	acc := &models.Account{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "digest",
		IsActive:     true,
	}
	require.NoError(t, accounts.Create(context.Background(), acc))
	require.NotEmpty(t, acc.ID)
	return acc
}

func ptr(s string) *string { return &s }

func TestAccountRepo_Lookups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	accounts := repo.NewAccountRepo(InitTestDB(t))
	alice := createAccount(t, accounts, "alice")

	got, err := accounts.FindByUsernameOrEmail(ctx, "nobody", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	got, err = accounts.FindActiveByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = accounts.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestAccountRepo_DuplicateUsername(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	accounts := repo.NewAccountRepo(InitTestDB(t))
	createAccount(t, accounts, "alice")

	err := accounts.Create(ctx, &models.Account{
		Username: "alice", Email: "other@example.com", PasswordHash: "d", IsActive: true,
	})
	assert.ErrorIs(t, err, repo.ErrDuplicate)
}

func TestAccountRepo_SwapRefreshToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	accounts := repo.NewAccountRepo(InitTestDB(t))
	alice := createAccount(t, accounts, "alice")

	require.NoError(t, accounts.SetRefreshToken(ctx, alice.ID, ptr("fp-1")))

	ok, err := accounts.SwapRefreshToken(ctx, alice.ID, "fp-1", "fp-2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = accounts.SwapRefreshToken(ctx, alice.ID, "fp-1", "fp-3")
	require.NoError(t, err)
	assert.False(t, ok, "stale fingerprint must lose")

	got, err := accounts.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefreshTokenHash)
	assert.Equal(t, "fp-2", *got.RefreshTokenHash)

	require.NoError(t, accounts.SetRefreshToken(ctx, alice.ID, nil))
	got, err = accounts.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RefreshTokenHash)

	assert.ErrorIs(t, accounts.SetRefreshToken(ctx, "missing", nil), repo.ErrNotFound)
}

func TestAccountRepo_StartSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	accounts := repo.NewAccountRepo(InitTestDB(t))
	alice := createAccount(t, accounts, "alice")
	bob := createAccount(t, accounts, "bob")

	ok, err := accounts.StartSession(ctx, alice.ID, "fp-1")
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := accounts.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefreshTokenHash)
	assert.Equal(t, "fp-1", *got.RefreshTokenHash)

	require.NoError(t, accounts.UpdateFields(ctx, bob.ID, map[string]any{"is_active": false}))
	ok, err = accounts.StartSession(ctx, bob.ID, "fp-2")
	require.NoError(t, err)
	assert.False(t, ok, "inactive account")

	require.NoError(t, accounts.SoftDelete(ctx, alice.ID, time.Now()))
	ok, err = accounts.StartSession(ctx, alice.ID, "fp-3")
	require.NoError(t, err)
	assert.False(t, ok, "deleted account")
	got, err = accounts.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RefreshTokenHash)

	ok, err = accounts.StartSession(ctx, "missing", "fp-4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccountRepo_SoftDeleteAndRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	accounts := repo.NewAccountRepo(InitTestDB(t))
	alice := createAccount(t, accounts, "alice")
	require.NoError(t, accounts.SetRefreshToken(ctx, alice.ID, ptr("fp-1")))

	require.NoError(t, accounts.SoftDelete(ctx, alice.ID, time.Now()))
	assert.ErrorIs(t, accounts.SoftDelete(ctx, alice.ID, time.Now()), repo.ErrNotFound)

	got, err := accounts.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.NotNil(t, got.DeletedAt)
	assert.Nil(t, got.RefreshTokenHash)

	_, err = accounts.FindActiveByUsername(ctx, "alice")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	ok, err := accounts.SwapRefreshToken(ctx, alice.ID, "fp-1", "fp-2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, accounts.Restore(ctx, alice.ID))
	assert.ErrorIs(t, accounts.Restore(ctx, alice.ID), repo.ErrNotFound)

	got, err = accounts.FindActiveByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Live())
}

func TestAccountRepo_DeletedAccountReleasesUsername(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	accounts := repo.NewAccountRepo(InitTestDB(t))
	old := createAccount(t, accounts, "alice")
	require.NoError(t, accounts.SoftDelete(ctx, old.ID, time.Now()))

	createAccount(t, accounts, "alice")

	err := accounts.Restore(ctx, old.ID)
	assert.ErrorIs(t, err, repo.ErrDuplicate)
}

func TestAccountRepo_ListAndSearch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := InitTestDB(t)
	accounts := repo.NewAccountRepo(conn)
	roles := repo.NewRoleRepo(conn)

	admin, err := roles.EnsureRole(ctx, models.RoleAdmin, "Administrator role")
	require.NoError(t, err)

	var created []*models.Account
	for i := 0; i < 5; i++ {
		created = append(created, createAccount(t, accounts, fmt.Sprintf("user%d", i)))
	}
	require.NoError(t, roles.Grant(ctx, created[4].ID, admin.ID))
	require.NoError(t, accounts.SoftDelete(ctx, created[0].ID, time.Now()))

	page, total, err := accounts.List(ctx, repo.ListQuery{Page: 1, PerPage: 2, SortBy: "username", SortDirection: "asc"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, "user1", page[0].Username)
	assert.Equal(t, "user2", page[1].Username)

	deleted, total, err := accounts.List(ctx, repo.ListQuery{Deleted: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "user0", deleted[0].Username)

	found, total, err := accounts.Search(ctx, "ADMIN", repo.ListQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "user4", found[0].Username)

	found, total, err = accounts.Search(ctx, "user3@", repo.ListQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, created[3].ID, found[0].ID)
}

func TestListQuery_Normalize(t *testing.T) {
	t.Parallel()

	q := repo.ListQuery{SortBy: "password_hash; DROP TABLE accounts", SortDirection: "sideways"}.Normalize()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, 10, q.PerPage)
	assert.Equal(t, "created_at", q.SortBy)
	assert.Equal(t, "desc", q.SortDirection)
}

func TestRoleRepo_GrantRevoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := InitTestDB(t)
	accounts := repo.NewAccountRepo(conn)
	roles := repo.NewRoleRepo(conn)

	alice := createAccount(t, accounts, "alice")
	user, err := roles.EnsureRole(ctx, models.RoleUser, "Regular user role")
	require.NoError(t, err)
	again, err := roles.EnsureRole(ctx, models.RoleUser, "ignored")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	require.NoError(t, roles.Grant(ctx, alice.ID, user.ID))
	require.NoError(t, roles.Grant(ctx, alice.ID, user.ID))

	names, err := roles.RoleNamesOf(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, names)

	many, err := roles.RoleNamesOfMany(ctx, []string{alice.ID, "nobody"})
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, many[alice.ID])
	assert.Empty(t, many["nobody"])

	removed, err := roles.Revoke(ctx, alice.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = roles.Revoke(ctx, alice.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}
