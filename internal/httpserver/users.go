package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_service/internal/repo"
	"github.com/Skotchmaster/auth_service/internal/transport"
)

type UserService interface {
	List(ctx context.Context, q repo.ListQuery) (*transport.AccountPage, error)
	ListDeleted(ctx context.Context, q repo.ListQuery) (*transport.AccountPage, error)
	Search(ctx context.Context, keyword string, q repo.ListQuery) (*transport.AccountPage, error)
	Get(ctx context.Context, id string) (*transport.AccountSummary, error)
	Update(ctx context.Context, id string, req transport.UpdateUserRequest) (*transport.AccountSummary, error)
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*transport.AccountSummary, error)
	GrantRole(ctx context.Context, id, role string) (*transport.AccountSummary, error)
	RevokeRole(ctx context.Context, id, role string) (*transport.AccountSummary, error)
}

type UsersHTTP struct {
	Svc UserService
}

func (h *UsersHTTP) List(c echo.Context) error {
	q, err := listQuery(c)
	if err != nil {
		return err
	}
	res, err := h.Svc.List(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", res)
}

func (h *UsersHTTP) ListDeleted(c echo.Context) error {
	q, err := listQuery(c)
	if err != nil {
		return err
	}
	res, err := h.Svc.ListDeleted(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", res)
}

func (h *UsersHTTP) Search(c echo.Context) error {
	var req transport.ListQuery
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.Svc.Search(c.Request().Context(), req.Keyword, toRepoQuery(req))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", res)
}

func (h *UsersHTTP) Get(c echo.Context) error {
	res, err := h.Svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", res)
}

func (h *UsersHTTP) Update(c echo.Context) error {
	var req transport.UpdateUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.Svc.Update(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "user updated successfully", res)
}

func (h *UsersHTTP) Delete(c echo.Context) error {
	if err := h.Svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "user deleted successfully", nil)
}

func (h *UsersHTTP) Restore(c echo.Context) error {
	res, err := h.Svc.Restore(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "user restored successfully", res)
}

func (h *UsersHTTP) GrantRole(c echo.Context) error {
	var req transport.RoleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.Svc.GrantRole(c.Request().Context(), c.Param("id"), req.Role)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "role granted successfully", res)
}

func (h *UsersHTTP) RevokeRole(c echo.Context) error {
	res, err := h.Svc.RevokeRole(c.Request().Context(), c.Param("id"), c.Param("role"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "role revoked successfully", res)
}

func listQuery(c echo.Context) (repo.ListQuery, error) {
	var req transport.ListQuery
	if err := bind(c, &req); err != nil {
		return repo.ListQuery{}, err
	}
	return toRepoQuery(req), nil
}

func toRepoQuery(q transport.ListQuery) repo.ListQuery {
	return repo.ListQuery{
		Page:          q.Page,
		PerPage:       q.PerPage,
		SortBy:        q.SortBy,
		SortDirection: q.SortDirection,
	}
}
