package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Skotchmaster/auth_service/internal/apperr"
	authmw "github.com/Skotchmaster/auth_service/internal/middleware/auth"
	loggingmw "github.com/Skotchmaster/auth_service/internal/middleware/logging"
	"github.com/Skotchmaster/auth_service/internal/metrics"
	"github.com/Skotchmaster/auth_service/internal/models"
)

type Deps struct {
	Auth  *AuthHTTP
	Users *UsersHTTP
	Guard authmw.Authenticator
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

type Options struct {
	Logger         *slog.Logger
	Validator      echo.Validator
	Development    bool
	RequestTimeout time.Duration
}

// New builds an echo instance with the middleware chain every route shares.
func New(o Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = o.Validator
	e.HTTPErrorHandler = ErrorHandler(o.Development)

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID(), metrics.Middleware(), loggingmw.RequestLogger(o.Logger))
	e.Use(middleware.Recover())
	if o.RequestTimeout > 0 {
		e.Use(middleware.ContextTimeout(o.RequestTimeout))
	}
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c.Request().Context()); err != nil {
				return apperr.Wrap(apperr.KindInternal, "not ready", err)
			}
		}
		return c.NoContent(http.StatusOK)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	requireAuth := authmw.RequireAuth(d.Guard)

	auth := e.Group("/auth")
	auth.POST("/register", d.Auth.Register)
	auth.POST("/login", d.Auth.Login)
	auth.POST("/refresh-token", d.Auth.RefreshToken)
	auth.GET("/profile", d.Auth.Profile, requireAuth)
	auth.POST("/logout", d.Auth.Logout, requireAuth)
	auth.PATCH("/change-password", d.Auth.ChangePassword, requireAuth)

	if d.Users == nil {
		return
	}
	users := e.Group("/users", requireAuth, authmw.RequireRoles(models.RoleAdmin))
	users.GET("", d.Users.List)
	users.GET("/deleted", d.Users.ListDeleted)
	users.GET("/search", d.Users.Search)
	users.GET("/:id", d.Users.Get)
	users.PATCH("/:id", d.Users.Update)
	users.DELETE("/:id", d.Users.Delete)
	users.POST("/:id/restore", d.Users.Restore)
	users.POST("/:id/roles", d.Users.GrantRole)
	users.DELETE("/:id/roles/:role", d.Users.RevokeRole)
}
