package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Skotchmaster/auth_service/internal/apperr"
	"github.com/Skotchmaster/auth_service/internal/lock"
	"github.com/Skotchmaster/auth_service/internal/logging"
	"github.com/Skotchmaster/auth_service/internal/models"
	"github.com/Skotchmaster/auth_service/internal/mykafka"
	"github.com/Skotchmaster/auth_service/internal/repo"
	"github.com/Skotchmaster/auth_service/internal/telemetry"
	"github.com/Skotchmaster/auth_service/internal/transport"
	"github.com/Skotchmaster/auth_service/internal/util"
)

type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Account, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.Account, error)
	List(ctx context.Context, q repo.ListQuery) ([]models.Account, int64, error)
	Search(ctx context.Context, keyword string, q repo.ListQuery) ([]models.Account, int64, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	Restore(ctx context.Context, id string) error
}

type MembershipStore interface {
	FindByName(ctx context.Context, name string) (*models.Role, error)
	RoleNamesOf(ctx context.Context, accountID string) ([]string, error)
	RoleNamesOfMany(ctx context.Context, accountIDs []string) (map[string][]string, error)
	Grant(ctx context.Context, accountID, roleID string) error
	Revoke(ctx context.Context, accountID, roleID string) (bool, error)
}

// AccountSearcher is the full-text side of the search index.
type AccountSearcher interface {
	AccountIndexer
	Search(ctx context.Context, query string, from, size int) (int64, []string, error)
}

type UserDeps struct {
	Accounts UserStore
	Roles    MembershipStore
	Locker   lock.Locker
	Events   mykafka.Publisher
	Index    AccountSearcher
	Now      func() time.Time
}

// UserService is the administrative view over accounts.
type UserService struct {
	UserDeps
}

func NewUserService(d UserDeps) *UserService {
	if d.Locker == nil {
		d.Locker = lock.NewKeyedMutex()
	}
	if d.Events == nil {
		d.Events = mykafka.Noop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &UserService{UserDeps: d}
}

func (s *UserService) List(ctx context.Context, q repo.ListQuery) (*transport.AccountPage, error) {
	q.Deleted = false
	return s.list(ctx, q)
}

func (s *UserService) ListDeleted(ctx context.Context, q repo.ListQuery) (*transport.AccountPage, error) {
	q.Deleted = true
	return s.list(ctx, q)
}

func (s *UserService) list(ctx context.Context, q repo.ListQuery) (*transport.AccountPage, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "users.List")
	defer span.End()

	q = q.Normalize()
	accounts, total, err := s.Accounts.List(ctx, q)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return s.page(ctx, accounts, total, q)
}

func (s *UserService) Get(ctx context.Context, id string) (*transport.AccountSummary, error) {
	acc, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.summary(ctx, acc)
}

func (s *UserService) Update(ctx context.Context, id string, req transport.UpdateUserRequest) (*transport.AccountSummary, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "users.Update")
	defer span.End()
	l := logging.FromContext(ctx).With("svc", "users.update", "account_id", id)

	unlock, err := s.Locker.Lock(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer unlock()

	acc, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if req.Username != nil && *req.Username != acc.Username {
		fields["username"] = *req.Username
	}
	if req.Email != nil && *req.Email != acc.Email {
		fields["email"] = *req.Email
	}
	if req.IsActive != nil && *req.IsActive != acc.IsActive {
		fields["is_active"] = *req.IsActive
		if !*req.IsActive {
			fields["refresh_token_hash"] = nil
		}
	}

	if len(fields) > 0 {
		if err := s.checkUnique(ctx, id, req); err != nil {
			return nil, err
		}
		if err := s.Accounts.UpdateFields(ctx, id, fields); err != nil {
			switch {
			case errors.Is(err, repo.ErrDuplicate):
				return nil, apperr.Conflict("username or email already exists")
			case errors.Is(err, repo.ErrNotFound):
				return nil, apperr.NotFound("user not found")
			}
			l.Error("update_failed", "status", 500, "error", err)
			return nil, apperr.Internal(err)
		}
		l.Info("user_updated", "fields", len(fields))
	}

	acc, err = s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	summary, err := s.summary(ctx, acc)
	if err != nil {
		return nil, err
	}
	publishEvent(ctx, l, s.Events, mykafka.AccountEvent{Type: mykafka.EventUserUpdated, AccountID: acc.ID, Username: acc.Username})
	reindexAccount(ctx, l, s.Index, acc, summary.Roles)
	return summary, nil
}

func (s *UserService) checkUnique(ctx context.Context, id string, req transport.UpdateUserRequest) error {
	var username, email string
	if req.Username != nil {
		username = *req.Username
	}
	if req.Email != nil {
		email = *req.Email
	}
	if username == "" && email == "" {
		return nil
	}
	other, err := s.Accounts.FindByUsernameOrEmail(ctx, username, email)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil
	case err != nil:
		return apperr.Internal(err)
	case other.ID != id:
		return apperr.Conflict("username or email already exists")
	}
	return nil
}

// Delete is a soft delete: the row stays, the account stops authenticating
// and its refresh slot is cleared.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "users.Delete")
	defer span.End()
	l := logging.FromContext(ctx).With("svc", "users.delete", "account_id", id)

	unlock, err := s.Locker.Lock(ctx, id)
	if err != nil {
		return apperr.Internal(err)
	}
	defer unlock()

	if err := s.Accounts.SoftDelete(ctx, id, s.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.NotFound("user not found")
		}
		l.Error("delete_failed", "status", 500, "error", err)
		return apperr.Internal(err)
	}

	l.Info("user_deleted")
	publishEvent(ctx, l, s.Events, mykafka.AccountEvent{Type: mykafka.EventUserDeleted, AccountID: id})
	if s.Index != nil {
		if err := s.Index.Delete(ctx, id); err != nil {
			l.Warn("search_index_failed", "error", err)
		}
	}
	return nil
}

func (s *UserService) Restore(ctx context.Context, id string) (*transport.AccountSummary, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "users.Restore")
	defer span.End()
	l := logging.FromContext(ctx).With("svc", "users.restore", "account_id", id)

	unlock, err := s.Locker.Lock(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer unlock()

	if err := s.Accounts.Restore(ctx, id); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return nil, apperr.NotFound("deleted user not found")
		case errors.Is(err, repo.ErrDuplicate):
			return nil, apperr.Conflict("username or email is taken by another account")
		}
		l.Error("restore_failed", "status", 500, "error", err)
		return nil, apperr.Internal(err)
	}

	acc, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	summary, err := s.summary(ctx, acc)
	if err != nil {
		return nil, err
	}
	l.Info("user_restored")
	publishEvent(ctx, l, s.Events, mykafka.AccountEvent{Type: mykafka.EventUserRestored, AccountID: acc.ID, Username: acc.Username})
	reindexAccount(ctx, l, s.Index, acc, summary.Roles)
	return summary, nil
}

// Search prefers the full-text index and falls back to the store when the
// index is absent or failing.
func (s *UserService) Search(ctx context.Context, keyword string, q repo.ListQuery) (*transport.AccountPage, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "users.Search")
	defer span.End()
	l := logging.FromContext(ctx).With("svc", "users.search")

	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, apperr.Validation(apperr.FieldError{Field: "keyword", Message: "is required"})
	}
	q = q.Normalize()

	if s.Index != nil {
		from, size := util.Calculate(q.Page, q.PerPage)
		total, ids, err := s.Index.Search(ctx, keyword, from, size)
		if err == nil {
			accounts, err := s.Accounts.FindByIDs(ctx, ids)
			if err != nil {
				return nil, apperr.Internal(err)
			}
			return s.page(ctx, orderByIDs(accounts, ids), total, q)
		}
		l.Warn("search_index_failed", "fallback", "store", "error", err)
	}

	accounts, total, err := s.Accounts.Search(ctx, keyword, q)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return s.page(ctx, accounts, total, q)
}

func (s *UserService) GrantRole(ctx context.Context, id, roleName string) (*transport.AccountSummary, error) {
	return s.changeRole(ctx, id, roleName, true)
}

func (s *UserService) RevokeRole(ctx context.Context, id, roleName string) (*transport.AccountSummary, error) {
	return s.changeRole(ctx, id, roleName, false)
}

// Role changes reach access tokens on the account's next login or refresh.
func (s *UserService) changeRole(ctx context.Context, id, roleName string, grant bool) (*transport.AccountSummary, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "users.ChangeRole")
	defer span.End()
	l := logging.FromContext(ctx).With("svc", "users.role", "account_id", id, "role", roleName, "grant", grant)

	acc, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	role, err := s.Roles.FindByName(ctx, roleName)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, apperr.NotFound("role not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	event := mykafka.EventRoleGranted
	if grant {
		err = s.Roles.Grant(ctx, acc.ID, role.ID)
	} else {
		event = mykafka.EventRoleRevoked
		var removed bool
		removed, err = s.Roles.Revoke(ctx, acc.ID, role.ID)
		if err == nil && !removed {
			return nil, apperr.NotFound("user does not have this role")
		}
	}
	if err != nil {
		l.Error("role_change_failed", "status", 500, "error", err)
		return nil, apperr.Internal(err)
	}

	summary, err := s.summary(ctx, acc)
	if err != nil {
		return nil, err
	}
	l.Info("role_changed")
	publishEvent(ctx, l, s.Events, mykafka.AccountEvent{Type: event, AccountID: acc.ID, Username: acc.Username, Role: role.Name})
	reindexAccount(ctx, l, s.Index, acc, summary.Roles)
	return summary, nil
}

func (s *UserService) live(ctx context.Context, id string) (*models.Account, error) {
	acc, err := s.Accounts.FindByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && acc.DeletedAt != nil) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return acc, nil
}

func (s *UserService) summary(ctx context.Context, acc *models.Account) (*transport.AccountSummary, error) {
	roles, err := s.Roles.RoleNamesOf(ctx, acc.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := summarize(acc, roles)
	return &out, nil
}

func (s *UserService) page(ctx context.Context, accounts []models.Account, total int64, q repo.ListQuery) (*transport.AccountPage, error) {
	ids := make([]string, len(accounts))
	for i := range accounts {
		ids[i] = accounts[i].ID
	}
	roles, err := s.Roles.RoleNamesOfMany(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	items := make([]transport.AccountSummary, 0, len(accounts))
	for i := range accounts {
		items = append(items, summarize(&accounts[i], roles[accounts[i].ID]))
	}
	return &transport.AccountPage{
		Items: items,
		Meta: transport.PageMeta{
			Page:       q.Page,
			PerPage:    q.PerPage,
			Total:      total,
			TotalPages: util.TotalPages(total, q.PerPage),
		},
	}, nil
}

// orderByIDs restores index score order and drops rows the index still
// holds for deleted accounts.
func orderByIDs(accounts []models.Account, ids []string) []models.Account {
	byID := make(map[string]models.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	out := make([]models.Account, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok && a.DeletedAt == nil {
			out = append(out, a)
		}
	}
	return out
}
