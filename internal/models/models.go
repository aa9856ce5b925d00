package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Account is a registered user. RefreshTokenHash is the single refresh slot:
// nil means no live session.
type Account struct {
	ID               string     `gorm:"type:varchar(36);primaryKey"                                         json:"id"`
	Username         string     `gorm:"size:64;not null;uniqueIndex:idx_accounts_username_live,where:deleted_at IS NULL" json:"username"`
	Email            string     `gorm:"size:255;not null;uniqueIndex:idx_accounts_email_live,where:deleted_at IS NULL"   json:"email"`
	PasswordHash     string     `gorm:"not null"                                                            json:"-"`
	RefreshTokenHash *string    `gorm:"size:64"                                                             json:"-"`
	IsActive         bool       `gorm:"not null;default:true;index"                                         json:"is_active"`
	DeletedAt        *time.Time `gorm:"index"                                                               json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Live reports whether the account may authenticate.
func (a *Account) Live() bool {
	return a.IsActive && a.DeletedAt == nil
}

type Role struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string    `gorm:"size:32;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"size:255"                     json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r *Role) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// AccountRole is the membership row; the composite key keeps (account, role)
// unique and both sides cascade.
type AccountRole struct {
	AccountID string    `gorm:"type:varchar(36);primaryKey"`
	RoleID    string    `gorm:"type:varchar(36);primaryKey"`
	CreatedAt time.Time
	Account   Account `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:CASCADE"`
	Role      Role    `gorm:"foreignKey:RoleID;references:ID;constraint:OnDelete:CASCADE"`
}

// All lists the models in migration order.
func All() []any {
	return []any{&Role{}, &Account{}, &AccountRole{}}
}
