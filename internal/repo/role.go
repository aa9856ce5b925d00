package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/auth_service/internal/models"
)

type RoleRepo struct {
	*GormRepo[models.Role]
}

func NewRoleRepo(db *gorm.DB) *RoleRepo {
	return &RoleRepo{GormRepo: NewGormRepo[models.Role](db)}
}

func (r *RoleRepo) FindByName(ctx context.Context, name string) (*models.Role, error) {
	return r.First(ctx, "name = ?", name)
}

// EnsureRole creates the role when absent and returns the stored row either way.
func (r *RoleRepo) EnsureRole(ctx context.Context, name, description string) (*models.Role, error) {
	role := models.Role{}
	err := r.DB.WithContext(ctx).
		Where(models.Role{Name: name}).
		Attrs(models.Role{Description: description}).
		FirstOrCreate(&role).Error
	if err != nil {
		return nil, translate(err)
	}
	return &role, nil
}

func (r *RoleRepo) All(ctx context.Context) ([]models.Role, error) {
	var out []models.Role
	if err := r.DB.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (r *RoleRepo) RolesOf(ctx context.Context, accountID string) ([]models.Role, error) {
	var out []models.Role
	err := r.DB.WithContext(ctx).
		Joins("JOIN account_roles ON account_roles.role_id = roles.id").
		Where("account_roles.account_id = ?", accountID).
		Order("roles.name").
		Find(&out).Error
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (r *RoleRepo) RoleNamesOf(ctx context.Context, accountID string) ([]string, error) {
	roles, err := r.RolesOf(ctx, accountID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names, nil
}

// RoleNamesOfMany batches RoleNamesOf for a page of accounts.
func (r *RoleRepo) RoleNamesOfMany(ctx context.Context, accountIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		AccountID string
		Name      string
	}
	err := r.DB.WithContext(ctx).
		Table("account_roles").
		Select("account_roles.account_id, roles.name").
		Joins("JOIN roles ON roles.id = account_roles.role_id").
		Where("account_roles.account_id IN ?", accountIDs).
		Order("roles.name").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, row := range rows {
		out[row.AccountID] = append(out[row.AccountID], row.Name)
	}
	return out, nil
}

// Grant is idempotent.
func (r *RoleRepo) Grant(ctx context.Context, accountID, roleID string) error {
	link := models.AccountRole{AccountID: accountID, RoleID: roleID}
	err := r.DB.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error
	return translate(err)
}

// Revoke reports whether a membership row was removed.
func (r *RoleRepo) Revoke(ctx context.Context, accountID, roleID string) (bool, error) {
	res := r.DB.WithContext(ctx).
		Where("account_id = ? AND role_id = ?", accountID, roleID).
		Delete(&models.AccountRole{})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}
