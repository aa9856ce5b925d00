package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_service/internal/apperr"
	"github.com/Skotchmaster/auth_service/internal/guard"
	"github.com/Skotchmaster/auth_service/internal/logging"
	"github.com/Skotchmaster/auth_service/internal/transport"
)

type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*transport.AuthResponse, error)
	Login(ctx context.Context, username, password string) (*transport.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*transport.AuthResponse, error)
	GetProfile(ctx context.Context, accountID string) (*transport.AccountSummary, error)
	Logout(ctx context.Context, accountID string) error
	ChangePassword(ctx context.Context, accountID, oldPassword, newPassword, confirmPassword string) error
}

type AuthHTTP struct {
	Svc AuthService
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req transport.RegisterRequest
	if err := bind(c, &req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return err
	}
	res, err := h.Svc.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, "user registered successfully", res)
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req transport.LoginRequest
	if err := bind(c, &req); err != nil {
		l.Warn("login_failed", "status", 400, "error", err)
		return err
	}
	res, err := h.Svc.Login(ctx, req.Username, req.Password)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "login successful", res)
}

func (h *AuthHTTP) RefreshToken(c echo.Context) error {
	ctx := c.Request().Context()

	var req transport.RefreshTokenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.Svc.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "token refreshed successfully", res)
}

func (h *AuthHTTP) Profile(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := principal(ctx)
	if err != nil {
		return err
	}
	res, err := h.Svc.GetProfile(ctx, p.AccountID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", res)
}

func (h *AuthHTTP) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := principal(ctx)
	if err != nil {
		return err
	}
	if err := h.Svc.Logout(ctx, p.AccountID); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "logged out successfully", nil)
}

func (h *AuthHTTP) ChangePassword(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := principal(ctx)
	if err != nil {
		return err
	}

	var req transport.ChangePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.Svc.ChangePassword(ctx, p.AccountID, req.OldPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "password changed successfully", nil)
}

func principal(ctx context.Context) (guard.Principal, error) {
	p, ok := guard.PrincipalFrom(ctx)
	if !ok {
		return guard.Principal{}, apperr.Unauthorized("authentication required")
	}
	return p, nil
}
