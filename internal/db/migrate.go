package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/Skotchmaster/auth_service/internal/models"
	"github.com/Skotchmaster/auth_service/internal/repo"
)

// DefaultRoles is the fixed role set seeded on every install.
var DefaultRoles = []models.Role{
	{Name: models.RoleAdmin, Description: "Administrator role"},
	{Name: models.RoleUser, Description: "Regular user role"},
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// PasswordHasher is the slice of the credential hasher seeding needs.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

type Admin struct {
	Username string
	Email    string
	Password string
}

// Seed creates the default roles and, when admin is non-nil, a bootstrap
// administrator. Re-running it is harmless.
func Seed(ctx context.Context, db *gorm.DB, hasher PasswordHasher, admin *Admin, l *slog.Logger) error {
	roles := repo.NewRoleRepo(db)
	byName := make(map[string]*models.Role, len(DefaultRoles))
	for _, r := range DefaultRoles {
		role, err := roles.EnsureRole(ctx, r.Name, r.Description)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", r.Name, err)
		}
		byName[role.Name] = role
		l.Info("role_seeded", "role", role.Name)
	}

	if admin == nil || admin.Username == "" {
		return nil
	}

	accounts := repo.NewAccountRepo(db)
	existing, err := accounts.FindByUsernameOrEmail(ctx, admin.Username, admin.Email)
	switch {
	case err == nil:
		l.Info("admin_seed_skipped", "reason", "account exists", "username", existing.Username)
		return nil
	case !errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("lookup admin: %w", err)
	}

	digest, err := hasher.Hash(admin.Password)
	if err != nil {
		return err
	}
	acc := &models.Account{
		Username:     admin.Username,
		Email:        admin.Email,
		PasswordHash: digest,
		IsActive:     true,
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.NewAccountRepo(tx).Create(ctx, acc); err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		txRoles := repo.NewRoleRepo(tx)
		for _, name := range []string{models.RoleAdmin, models.RoleUser} {
			if err := txRoles.Grant(ctx, acc.ID, byName[name].ID); err != nil {
				return fmt.Errorf("grant %s: %w", name, err)
			}
		}
		l.Info("admin_seeded", "username", acc.Username, "account_id", acc.ID)
		return nil
	})
}
