package transport

import "time"

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email"    validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,password"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,password"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type ChangePasswordRequest struct {
	OldPassword     string `json:"oldPassword"     validate:"required"`
	NewPassword     string `json:"newPassword"     validate:"required,password,nefield=OldPassword"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

type UpdateUserRequest struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=64"`
	Email    *string `json:"email"    validate:"omitempty,email,max=255"`
	IsActive *bool   `json:"isActive"`
}

type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin user"`
}

type ListQuery struct {
	Page          int    `query:"page"          validate:"omitempty,min=1"`
	PerPage       int    `query:"perPage"       validate:"omitempty,min=1,max=100"`
	SortBy        string `query:"sortBy"        validate:"omitempty,oneof=created_at createdAt updated_at updatedAt username email"`
	SortDirection string `query:"sortDirection" validate:"omitempty,oneof=asc desc ASC DESC"`
	Keyword       string `query:"keyword"`
}

type AccountSummary struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	IsActive  bool       `json:"isActive"`
	Roles     []string   `json:"roles"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

type AuthResponse struct {
	User                  AccountSummary `json:"user"`
	AccessToken           string         `json:"accessToken"`
	RefreshToken          string         `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time      `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time      `json:"refreshTokenExpiresAt"`
}

type PageMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"perPage"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type AccountPage struct {
	Items []AccountSummary `json:"items"`
	Meta  PageMeta         `json:"meta"`
}
