package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/auth_service/internal/models"
	"github.com/Skotchmaster/auth_service/internal/util"
)

var sortColumns = map[string]string{
	"created_at": "created_at",
	"createdAt":  "created_at",
	"updated_at": "updated_at",
	"updatedAt":  "updated_at",
	"username":   "username",
	"email":      "email",
}

type ListQuery struct {
	Page          int
	PerPage       int
	SortBy        string
	SortDirection string
	Deleted       bool
}

// Normalize applies defaults and drops sort keys outside the whitelist.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	_, q.PerPage = util.Calculate(q.Page, q.PerPage)
	if _, ok := sortColumns[q.SortBy]; !ok {
		q.SortBy = "created_at"
	}
	if strings.EqualFold(q.SortDirection, "asc") {
		q.SortDirection = "asc"
	} else {
		q.SortDirection = "desc"
	}
	return q
}

type AccountRepo struct {
	*GormRepo[models.Account]
}

func NewAccountRepo(db *gorm.DB) *AccountRepo {
	return &AccountRepo{GormRepo: NewGormRepo[models.Account](db)}
}

func (r *AccountRepo) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return r.Get(ctx, id)
}

// FindByUsernameOrEmail looks only at non-deleted accounts; soft-deleted rows
// release their username and email.
func (r *AccountRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.Account, error) {
	return r.First(ctx, "deleted_at IS NULL AND (username = ? OR email = ?)", username, email)
}

func (r *AccountRepo) FindActiveByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.First(ctx, "username = ? AND is_active = ? AND deleted_at IS NULL", username, true)
}

func (r *AccountRepo) FindByIDs(ctx context.Context, ids []string) ([]models.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.Find(ctx, "id IN ?", ids)
}

// CreateWithRoles inserts the account and its memberships atomically.
func (r *AccountRepo) CreateWithRoles(ctx context.Context, acc *models.Account, roleIDs ...string) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(acc).Error; err != nil {
			return err
		}
		for _, roleID := range roleIDs {
			link := models.AccountRole{AccountID: acc.ID, RoleID: roleID}
			err := tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&link).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	return translate(err)
}

// SetRefreshToken overwrites the refresh slot unconditionally. A nil
// fingerprint clears it.
func (r *AccountRepo) SetRefreshToken(ctx context.Context, id string, fingerprint *string) error {
	res := r.DB.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Update("refresh_token_hash", fingerprint)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// StartSession writes a fresh fingerprint into the refresh slot of a live
// account. It reports false when the account was deactivated or deleted.
func (r *AccountRepo) StartSession(ctx context.Context, id, fingerprint string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND is_active = ? AND deleted_at IS NULL", id, true).
		Update("refresh_token_hash", fingerprint)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SwapRefreshToken replaces the slot only if it still holds expected and the
// account is live. It reports false when another writer got there first.
func (r *AccountRepo) SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND refresh_token_hash = ? AND is_active = ? AND deleted_at IS NULL", id, expected, true).
		Update("refresh_token_hash", next)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *AccountRepo) UpdatePassword(ctx context.Context, id, passwordHash string, clearSession bool) error {
	fields := map[string]any{"password_hash": passwordHash}
	if clearSession {
		fields["refresh_token_hash"] = nil
	}
	res := r.DB.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFields applies a partial update to a non-deleted account.
func (r *AccountRepo) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.DB.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res := r.DB.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"deleted_at":         at,
			"is_active":          false,
			"refresh_token_hash": nil,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Restore fails with ErrDuplicate when a live account has since taken the
// username or email.
func (r *AccountRepo) Restore(ctx context.Context, id string) error {
	res := r.DB.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Updates(map[string]any{
			"deleted_at": nil,
			"is_active":  true,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepo) List(ctx context.Context, q ListQuery) ([]models.Account, int64, error) {
	q = q.Normalize()
	tx := r.DB.WithContext(ctx).Model(&models.Account{})
	if q.Deleted {
		tx = tx.Where("deleted_at IS NOT NULL")
	} else {
		tx = tx.Where("deleted_at IS NULL AND is_active = ?", true)
	}
	return r.page(tx, q)
}

// Search matches username, email or any granted role name, case-insensitively.
func (r *AccountRepo) Search(ctx context.Context, keyword string, q ListQuery) ([]models.Account, int64, error) {
	q = q.Normalize()
	pattern := "%" + strings.ToLower(strings.TrimSpace(keyword)) + "%"
	db := r.DB.WithContext(ctx)

	byRole := db.Table("account_roles").
		Select("account_roles.account_id").
		Joins("JOIN roles ON roles.id = account_roles.role_id").
		Where("LOWER(roles.name) LIKE ?", pattern)

	tx := db.Model(&models.Account{}).
		Where("deleted_at IS NULL").
		Where(db.Where("LOWER(username) LIKE ?", pattern).
			Or("LOWER(email) LIKE ?", pattern).
			Or("id IN (?)", byRole))
	return r.page(tx, q)
}

func (r *AccountRepo) page(tx *gorm.DB, q ListQuery) ([]models.Account, int64, error) {
	var total int64
	if err := tx.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	from, limit := util.Calculate(q.Page, q.PerPage)
	var out []models.Account
	err := tx.Session(&gorm.Session{}).Order(clause.OrderByColumn{
		Column: clause.Column{Name: sortColumns[q.SortBy]},
		Desc:   q.SortDirection == "desc",
	}).Offset(from).Limit(limit).Find(&out).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return out, total, nil
}
