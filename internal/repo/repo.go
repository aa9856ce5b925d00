package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate key")
)

// Repository is the CRUD surface shared by every entity store.
type Repository[T any] interface {
	Get(ctx context.Context, id string) (*T, error)
	First(ctx context.Context, query any, args ...any) (*T, error)
	Find(ctx context.Context, query any, args ...any) ([]T, error)
	Count(ctx context.Context, query any, args ...any) (int64, error)
	Create(ctx context.Context, v *T) error
	Save(ctx context.Context, v *T) error
}

type GormRepo[T any] struct {
	DB *gorm.DB
}

func NewGormRepo[T any](db *gorm.DB) *GormRepo[T] {
	return &GormRepo[T]{DB: db}
}

func (r *GormRepo[T]) Get(ctx context.Context, id string) (*T, error) {
	return r.First(ctx, "id = ?", id)
}

func (r *GormRepo[T]) First(ctx context.Context, query any, args ...any) (*T, error) {
	var v T
	if err := r.DB.WithContext(ctx).Where(query, args...).First(&v).Error; err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

func (r *GormRepo[T]) Find(ctx context.Context, query any, args ...any) ([]T, error) {
	var out []T
	if err := r.DB.WithContext(ctx).Where(query, args...).Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (r *GormRepo[T]) Count(ctx context.Context, query any, args ...any) (int64, error) {
	var n int64
	var v T
	if err := r.DB.WithContext(ctx).Model(&v).Where(query, args...).Count(&n).Error; err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (r *GormRepo[T]) Create(ctx context.Context, v *T) error {
	return translate(r.DB.WithContext(ctx).Create(v).Error)
}

func (r *GormRepo[T]) Save(ctx context.Context, v *T) error {
	return translate(r.DB.WithContext(ctx).Save(v).Error)
}

// translate maps driver-specific failures onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
