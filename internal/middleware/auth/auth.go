package authmw

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_service/internal/apperr"
	"github.com/Skotchmaster/auth_service/internal/guard"
	"github.com/Skotchmaster/auth_service/internal/logging"
	"github.com/Skotchmaster/auth_service/internal/metrics"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (guard.Principal, error)
}

// RequireAuth resolves the bearer access token into a principal and stores it
// in the request context.
func RequireAuth(a Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			l := logging.FromContext(ctx)

			token, ok := bearer(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				l.Warn("auth_failed", "status", 401, "reason", "missing bearer token")
				metrics.AccessDenied.WithLabelValues("unauthenticated").Inc()
				return apperr.Unauthorized("missing or malformed authorization header")
			}

			p, err := a.Authenticate(ctx, token)
			if err != nil {
				l.Warn("auth_failed", "status", 401, "error", err)
				metrics.AccessDenied.WithLabelValues("unauthenticated").Inc()
				return err
			}

			ctx = guard.WithPrincipal(ctx, p)
			ctx = logging.IntoContext(ctx, l.With("account_id", p.AccountID))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireRoles must run after RequireAuth. Any one of the roles is enough.
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := guard.RequireRoles(c.Request().Context(), roles...); err != nil {
				logging.FromContext(c.Request().Context()).Warn("access_denied", "roles", roles, "error", err)
				metrics.AccessDenied.WithLabelValues(apperr.KindOf(err).String()).Inc()
				return err
			}
			return next(c)
		}
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
