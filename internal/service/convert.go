package service

import (
	"fmt"

	"github.com/Skotchmaster/auth_service/internal/models"
	"github.com/Skotchmaster/auth_service/internal/search"
	"github.com/Skotchmaster/auth_service/internal/tokens"
	"github.com/Skotchmaster/auth_service/internal/transport"
)

func summarize(acc *models.Account, roles []string) transport.AccountSummary {
	if roles == nil {
		roles = []string{}
	}
	return transport.AccountSummary{
		ID:        acc.ID,
		Username:  acc.Username,
		Email:     acc.Email,
		IsActive:  acc.IsActive,
		Roles:     roles,
		CreatedAt: acc.CreatedAt,
		UpdatedAt: acc.UpdatedAt,
		DeletedAt: acc.DeletedAt,
	}
}

func authResponse(acc *models.Account, roles []string, pair *tokens.Pair) *transport.AuthResponse {
	return &transport.AuthResponse{
		User:                  summarize(acc, roles),
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		AccessTokenExpiresAt:  pair.AccessExpiresAt,
		RefreshTokenExpiresAt: pair.RefreshExpiresAt,
	}
}

func documentOf(acc *models.Account, roles []string) search.Document {
	return search.Document{
		ID:        acc.ID,
		Username:  acc.Username,
		Email:     acc.Email,
		Roles:     roles,
		IsActive:  acc.IsActive,
		CreatedAt: acc.CreatedAt,
	}
}

func minLengthMessage(n int) string {
	return fmt.Sprintf("must be at least %d characters", n)
}

func maxBytesMessage(n int) string {
	return fmt.Sprintf("must be at most %d bytes", n)
}
