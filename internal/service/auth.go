package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Skotchmaster/auth_service/internal/apperr"
	"github.com/Skotchmaster/auth_service/internal/hash"
	"github.com/Skotchmaster/auth_service/internal/lock"
	"github.com/Skotchmaster/auth_service/internal/logging"
	"github.com/Skotchmaster/auth_service/internal/metrics"
	"github.com/Skotchmaster/auth_service/internal/models"
	"github.com/Skotchmaster/auth_service/internal/mykafka"
	"github.com/Skotchmaster/auth_service/internal/repo"
	"github.com/Skotchmaster/auth_service/internal/search"
	"github.com/Skotchmaster/auth_service/internal/telemetry"
	"github.com/Skotchmaster/auth_service/internal/tokens"
	"github.com/Skotchmaster/auth_service/internal/transport"
)

const (
	msgInvalidCredentials = "invalid username or password"
	msgInvalidRefresh     = "invalid refresh token"
)

type AccountStore interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.Account, error)
	FindActiveByUsername(ctx context.Context, username string) (*models.Account, error)
	CreateWithRoles(ctx context.Context, acc *models.Account, roleIDs ...string) error
	SetRefreshToken(ctx context.Context, id string, fingerprint *string) error
	StartSession(ctx context.Context, id, fingerprint string) (bool, error)
	SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, clearSession bool) error
}

type RoleStore interface {
	FindByName(ctx context.Context, name string) (*models.Role, error)
	RoleNamesOf(ctx context.Context, accountID string) ([]string, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

type AccountIndexer interface {
	Upsert(ctx context.Context, doc search.Document) error
	Delete(ctx context.Context, id string) error
}

type AuthDeps struct {
	Accounts AccountStore
	Roles    RoleStore
	Tokens   *tokens.Codec
	Hasher   PasswordHasher
	Locker   lock.Locker
	Events   mykafka.Publisher
	Index    AccountIndexer

	MinPasswordLength int
	DefaultRole       string
}

// AuthService owns the credential and session lifecycle. Each account has a
// single refresh slot: login overwrites it, refresh rotates it with a
// compare-and-swap, logout and password change clear it.
type AuthService struct {
	AuthDeps

	dummyOnce   sync.Once
	dummyDigest string
}

func NewAuthService(d AuthDeps) *AuthService {
	if d.Locker == nil {
		d.Locker = lock.NewKeyedMutex()
	}
	if d.Events == nil {
		d.Events = mykafka.Noop{}
	}
	if d.MinPasswordLength < 1 {
		d.MinPasswordLength = 6
	}
	if d.DefaultRole == "" {
		d.DefaultRole = models.RoleUser
	}
	return &AuthService{AuthDeps: d}
}

func (s *AuthService) Register(ctx context.Context, username, email, password string) (res *transport.AuthResponse, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "auth.Register")
	defer func() {
		endSpan(span, err)
		metrics.Registrations.WithLabelValues(metrics.Result(err)).Inc()
	}()
	l := logging.FromContext(ctx).With("svc", "auth.register", "username", username)

	var fields []apperr.FieldError
	if username == "" {
		fields = append(fields, apperr.FieldError{Field: "username", Message: "is required"})
	}
	if email == "" {
		fields = append(fields, apperr.FieldError{Field: "email", Message: "is required"})
	}
	if f := s.checkPassword("password", password); f != nil {
		fields = append(fields, *f)
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields...)
	}

	existing, err := s.Accounts.FindByUsernameOrEmail(ctx, username, email)
	switch {
	case err == nil:
		l.Warn("register_error", "status", 409, "reason", "account exists", "conflicting_id", existing.ID)
		return nil, apperr.Conflict("username or email already exists")
	case !errors.Is(err, repo.ErrNotFound):
		l.Error("register_error", "status", 500, "reason", "lookup failed", "error", err)
		return nil, apperr.Internal(err)
	}

	digest, err := s.Hasher.Hash(password)
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, apperr.Internal(err)
	}

	var roleIDs, roleNames []string
	role, err := s.Roles.FindByName(ctx, s.DefaultRole)
	switch {
	case err == nil:
		roleIDs, roleNames = []string{role.ID}, []string{role.Name}
	case errors.Is(err, repo.ErrNotFound):
		l.Warn("default_role_missing", "role", s.DefaultRole)
	default:
		l.Error("register_error", "status", 500, "reason", "role lookup failed", "error", err)
		return nil, apperr.Internal(err)
	}

	acc := &models.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		IsActive:     true,
	}
	pair, err := s.issue(acc.ID, roleNames)
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot issue tokens", "error", err)
		return nil, apperr.Internal(err)
	}
	fp := tokens.Fingerprint(pair.RefreshToken)
	acc.RefreshTokenHash = &fp

	if err := s.Accounts.CreateWithRoles(ctx, acc, roleIDs...); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			l.Warn("register_error", "status", 409, "reason", "duplicate on insert")
			return nil, apperr.Conflict("username or email already exists")
		}
		l.Error("register_error", "status", 500, "reason", "create failed", "error", err)
		return nil, apperr.Internal(err)
	}

	l.Info("register_successful", "account_id", acc.ID)
	s.publish(ctx, l, mykafka.EventUserRegistered, acc)
	s.reindex(ctx, l, acc, roleNames)
	return authResponse(acc, roleNames, pair), nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (res *transport.AuthResponse, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "auth.Login")
	defer func() {
		endSpan(span, err)
		metrics.Logins.WithLabelValues(metrics.Result(err)).Inc()
	}()
	l := logging.FromContext(ctx).With("svc", "auth.login", "username", username)

	if username == "" || password == "" {
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}

	acc, err := s.Accounts.FindActiveByUsername(ctx, username)
	if errors.Is(err, repo.ErrNotFound) {
		s.Hasher.Verify(password, s.dummy())
		l.Warn("login_failed", "status", 401, "reason", "no live account")
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}
	if err != nil {
		l.Error("login_failed", "status", 500, "error", err)
		return nil, apperr.Internal(err)
	}
	if !s.Hasher.Verify(password, acc.PasswordHash) {
		l.Warn("login_failed", "status", 401, "reason", "password mismatch")
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}
	span.SetAttributes(attribute.String("account.id", acc.ID))

	unlock, err := s.Locker.Lock(ctx, acc.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer unlock()

	roles, err := s.Roles.RoleNamesOf(ctx, acc.ID)
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "role lookup failed", "error", err)
		return nil, apperr.Internal(err)
	}
	pair, err := s.issue(acc.ID, roles)
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "cannot issue tokens", "error", err)
		return nil, apperr.Internal(err)
	}
	started, err := s.Accounts.StartSession(ctx, acc.ID, tokens.Fingerprint(pair.RefreshToken))
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "cannot store refresh token", "error", err)
		return nil, apperr.Internal(err)
	}
	if !started {
		l.Warn("login_failed", "status", 401, "reason", "account left the live state")
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}

	l.Info("login_successful", "account_id", acc.ID)
	s.publish(ctx, l, mykafka.EventUserLoggedIn, acc)
	return authResponse(acc, roles, pair), nil
}

func (s *AuthService) GetProfile(ctx context.Context, accountID string) (*transport.AccountSummary, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "auth.GetProfile")
	defer span.End()

	if accountID == "" {
		return nil, apperr.Unauthorized("authentication required")
	}
	acc, err := s.Accounts.FindByID(ctx, accountID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && acc.DeletedAt != nil) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	roles, err := s.Roles.RoleNamesOf(ctx, acc.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	summary := summarize(acc, roles)
	return &summary, nil
}

// Logout clears the refresh slot. Calling it again is a no-op.
func (s *AuthService) Logout(ctx context.Context, accountID string) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "auth.Logout")
	defer func() { endSpan(span, err) }()
	l := logging.FromContext(ctx).With("svc", "auth.logout", "account_id", accountID)

	if accountID == "" {
		return apperr.Unauthorized("authentication required")
	}
	unlock, err := s.Locker.Lock(ctx, accountID)
	if err != nil {
		return apperr.Internal(err)
	}
	defer unlock()

	if err := s.Accounts.SetRefreshToken(ctx, accountID, nil); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.NotFound("user not found")
		}
		l.Error("logout_failed", "status", 500, "reason", "cannot revoke refresh token", "error", err)
		return apperr.Internal(err)
	}

	l.Info("successful_logout")
	s.publish(ctx, l, mykafka.EventUserLoggedOut, &models.Account{ID: accountID})
	return nil
}

// Refresh exchanges a current refresh token for a new pair. The presented
// token is spent: presenting it again fails.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (res *transport.AuthResponse, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "auth.Refresh")
	defer func() {
		endSpan(span, err)
		metrics.Refreshes.WithLabelValues(metrics.Result(err)).Inc()
	}()
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := s.Tokens.VerifyRefresh(refreshToken)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, tokens.ErrExpired) {
			reason = "expired"
		}
		l.Warn("refresh_failed", "status", 401, "reason", reason, "error", err)
		return nil, apperr.Wrap(apperr.KindUnauthorized, msgInvalidRefresh, err)
	}
	l = l.With("account_id", claims.Subject)

	unlock, err := s.Locker.Lock(ctx, claims.Subject)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer unlock()

	acc, err := s.Accounts.FindByID(ctx, claims.Subject)
	if errors.Is(err, repo.ErrNotFound) {
		l.Warn("refresh_failed", "status", 401, "reason", "account not found")
		return nil, apperr.Unauthorized(msgInvalidRefresh)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !acc.Live() {
		l.Warn("refresh_failed", "status", 401, "reason", "account inactive")
		return nil, apperr.Unauthorized(msgInvalidRefresh)
	}

	current := tokens.Fingerprint(refreshToken)
	if acc.RefreshTokenHash == nil || subtle.ConstantTimeCompare([]byte(*acc.RefreshTokenHash), []byte(current)) != 1 {
		l.Warn("refresh_failed", "status", 401, "reason", "token is not the current one")
		return nil, apperr.Unauthorized(msgInvalidRefresh)
	}

	roles, err := s.Roles.RoleNamesOf(ctx, acc.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	pair, err := s.issue(acc.ID, roles)
	if err != nil {
		l.Error("refresh_failed", "status", 500, "reason", "cannot issue tokens", "error", err)
		return nil, apperr.Internal(err)
	}
	swapped, err := s.Accounts.SwapRefreshToken(ctx, acc.ID, current, tokens.Fingerprint(pair.RefreshToken))
	if err != nil {
		l.Error("refresh_failed", "status", 500, "reason", "cannot rotate refresh token", "error", err)
		return nil, apperr.Internal(err)
	}
	if !swapped {
		l.Warn("refresh_failed", "status", 401, "reason", "lost rotation race")
		return nil, apperr.Unauthorized(msgInvalidRefresh)
	}

	l.Info("refresh_successful")
	s.publish(ctx, l, mykafka.EventTokenRefreshed, acc)
	return authResponse(acc, roles, pair), nil
}

// ChangePassword also clears the refresh slot, so every session has to log
// in again with the new password.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword, confirmPassword string) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "auth.ChangePassword")
	defer func() { endSpan(span, err) }()
	l := logging.FromContext(ctx).With("svc", "auth.change_password", "account_id", accountID)

	if accountID == "" {
		return apperr.Unauthorized("authentication required")
	}
	switch {
	case newPassword != confirmPassword:
		return apperr.Validation(apperr.FieldError{Field: "confirmPassword", Message: "must match newPassword"})
	case newPassword == oldPassword:
		return apperr.Validation(apperr.FieldError{Field: "newPassword", Message: "must differ from oldPassword"})
	}
	if f := s.checkPassword("newPassword", newPassword); f != nil {
		return apperr.Validation(*f)
	}

	unlock, err := s.Locker.Lock(ctx, accountID)
	if err != nil {
		return apperr.Internal(err)
	}
	defer unlock()

	acc, err := s.Accounts.FindByID(ctx, accountID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && acc.DeletedAt != nil) {
		return apperr.NotFound("user not found")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	if !s.Hasher.Verify(oldPassword, acc.PasswordHash) {
		l.Warn("change_password_failed", "status", 401, "reason", "old password mismatch")
		return apperr.Unauthorized("current password is incorrect")
	}

	digest, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.Accounts.UpdatePassword(ctx, acc.ID, digest, true); err != nil {
		l.Error("change_password_failed", "status", 500, "error", err)
		return apperr.Internal(err)
	}

	l.Info("change_password_successful")
	s.publish(ctx, l, mykafka.EventPasswordChanged, acc)
	return nil
}

func (s *AuthService) checkPassword(field, password string) *apperr.FieldError {
	if password == "" {
		return &apperr.FieldError{Field: field, Message: "is required"}
	}
	if len([]rune(password)) < s.MinPasswordLength {
		return &apperr.FieldError{Field: field, Message: minLengthMessage(s.MinPasswordLength)}
	}
	if len(password) > hash.MaxPasswordBytes {
		return &apperr.FieldError{Field: field, Message: maxBytesMessage(hash.MaxPasswordBytes)}
	}
	return nil
}

func (s *AuthService) issue(accountID string, roles []string) (*tokens.Pair, error) {
	pair, err := s.Tokens.IssuePair(accountID, roles)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssued.WithLabelValues(tokens.TypeAccess).Inc()
	metrics.TokensIssued.WithLabelValues(tokens.TypeRefresh).Inc()
	return pair, nil
}

// dummy is compared against when the username is unknown, so both login
// failure paths spend a bcrypt verification.
func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyDigest, _ = s.Hasher.Hash(uuid.NewString())
	})
	return s.dummyDigest
}

func (s *AuthService) publish(ctx context.Context, l *slog.Logger, eventType string, acc *models.Account) {
	publishEvent(ctx, l, s.Events, mykafka.AccountEvent{
		Type:      eventType,
		AccountID: acc.ID,
		Username:  acc.Username,
	})
}

func (s *AuthService) reindex(ctx context.Context, l *slog.Logger, acc *models.Account, roles []string) {
	reindexAccount(ctx, l, s.Index, acc, roles)
}

func publishEvent(ctx context.Context, l *slog.Logger, p mykafka.Publisher, ev mykafka.AccountEvent) {
	if p == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	if err := p.Publish(ctx, ev); err != nil {
		l.Warn("event_publish_failed", "event", ev.Type, "error", err)
	}
}

func reindexAccount(ctx context.Context, l *slog.Logger, idx AccountIndexer, acc *models.Account, roles []string) {
	if idx == nil {
		return
	}
	var err error
	if acc.Live() {
		err = idx.Upsert(ctx, documentOf(acc, roles))
	} else {
		err = idx.Delete(ctx, acc.ID)
	}
	if err != nil {
		l.Warn("search_index_failed", "account_id", acc.ID, "error", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.KindOf(err).String())
	}
	span.End()
}
