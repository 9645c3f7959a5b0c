package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/metrics"
	"github.com/medlab/lims/internal/platform/validate"
)

// SessionNotifier is told about committed session-version changes so caches
// stop honouring old tokens.
type SessionNotifier interface {
	Bumped(ctx context.Context, userID uuid.UUID, version int) error
	Forget(ctx context.Context, userID uuid.UUID) error
}

// TokenRevoker invalidates a single token until it expires.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

var (
	errInvalidCredentials = apperr.Unauthorized("invalid_credentials", "invalid username or password")
	errPendingApproval    = apperr.Forbidden("pending_approval", "account is awaiting administrator approval")
	errAccountDisabled    = apperr.Forbidden("account_disabled", "account is disabled")
	errNotAuthenticated   = apperr.Unauthorized("unauthorized", "authentication required")
)

type Service struct {
	users    UserRepository
	tokens   *auth.TokenIssuer
	sessions SessionNotifier
	revoker  TokenRevoker
	logger   zerolog.Logger
	cost     int

	// dummy is compared against when the username is unknown so both
	// failure paths cost one bcrypt comparison at the service's cost.
	dummyOnce sync.Once
	dummy     []byte
}

func NewService(users UserRepository, tokens *auth.TokenIssuer, sessions SessionNotifier, revoker TokenRevoker, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		sessions: sessions,
		revoker:  revoker,
		logger:   logger.With().Str("component", "account").Logger(),
		cost:     bcrypt.DefaultCost,
	}
}

func (s *Service) dummyHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummy, _ = bcrypt.GenerateFromPassword([]byte("lims-placeholder-password"), s.cost)
	})
	return s.dummy
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperr.Validation("password is too long")
		}
		return "", err
	}
	return string(h), nil
}

// -- Authentication --

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	if len(req.Password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	role := req.Role
	if role == "" {
		role = auth.RoleReceptionist
	}
	if !auth.IsValidRole(role) || role == auth.RoleAdmin {
		return nil, apperr.Validation("role %q cannot be requested at registration", role)
	}
	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Username:     username,
		FullName:     strings.TrimSpace(req.FullName),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", role).Msg("user registered, awaiting approval")
	return u, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	u, err := s.users.GetByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if errors.Is(err, apperr.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(password))
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, errInvalidCredentials
	}
	if !u.IsApproved {
		return nil, errPendingApproval
	}
	if !u.IsActive {
		return nil, errAccountDisabled
	}
	if err := s.users.TouchLogin(ctx, u.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to record login time")
	} else {
		now := time.Now().UTC()
		u.LastLoginAt = &now
	}
	return s.issue(u)
}

func (s *Service) issue(u *User) (*LoginResponse, error) {
	token, exp, err := s.tokens.Issue(auth.Subject{
		UserID:         u.ID,
		Username:       u.Username,
		Role:           u.Role,
		SessionVersion: u.SessionVersion,
	})
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, ExpiresAt: exp, User: u}, nil
}

func (s *Service) Me(ctx context.Context) (*User, error) {
	id := auth.ActorFromContext(ctx)
	if id == nil {
		return nil, errNotAuthenticated
	}
	return s.users.GetByID(ctx, *id)
}

// Logout revokes the token the request was authenticated with. Other
// sessions of the same user stay valid.
func (s *Service) Logout(ctx context.Context) error {
	jti, exp := auth.TokenFromContext(ctx)
	if jti == "" {
		return nil
	}
	return s.revoker.Revoke(ctx, jti, exp)
}

// ChangePassword ends every session of the caller and returns a fresh token
// for the current one.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword string) (*LoginResponse, error) {
	u, err := s.Me(ctx)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return nil, apperr.Validation("current password is incorrect")
	}
	if len(newPassword) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return nil, err
	}
	version, err := s.bump(ctx, u.ID, UserChanges{PasswordHash: &hash}, ReasonPasswordChanged)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash
	u.SessionVersion = version
	return s.issue(u)
}

// -- Administration --

func (s *Service) ListUsers(ctx context.Context, filter UserFilter, limit, offset int) ([]*User, int, error) {
	if filter.Role != "" && !auth.IsValidRole(filter.Role) {
		return nil, 0, apperr.Validation("unknown role %q", filter.Role)
	}
	return s.users.List(ctx, filter, limit, offset)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) SetRole(ctx context.Context, id uuid.UUID, role string) (*User, error) {
	if !auth.IsValidRole(role) {
		return nil, apperr.Validation("unknown role %q", role)
	}
	if err := s.refuseSelf(ctx, id, "change your own role"); err != nil {
		return nil, err
	}
	return s.applyAndReload(ctx, id, UserChanges{Role: &role}, ReasonRoleChanged)
}

func (s *Service) SetApproval(ctx context.Context, id uuid.UUID, approved bool) (*User, error) {
	if err := s.refuseSelf(ctx, id, "change your own approval"); err != nil {
		return nil, err
	}
	return s.applyAndReload(ctx, id, UserChanges{IsApproved: &approved}, ReasonApproval)
}

func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*User, error) {
	if err := s.refuseSelf(ctx, id, "deactivate or reactivate yourself"); err != nil {
		return nil, err
	}
	return s.applyAndReload(ctx, id, UserChanges{IsActive: &active}, ReasonActivation)
}

// RevokeSessions signs the user out everywhere without changing anything else.
func (s *Service) RevokeSessions(ctx context.Context, id uuid.UUID) error {
	_, err := s.bump(ctx, id, UserChanges{}, ReasonRevoked)
	return err
}

func (s *Service) ResetPassword(ctx context.Context, id uuid.UUID, password string) error {
	if len(password) < 8 {
		return apperr.Validation("password must be at least 8 characters")
	}
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	_, err = s.bump(ctx, id, UserChanges{PasswordHash: &hash}, ReasonPasswordReset)
	return err
}

func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if err := s.refuseSelf(ctx, id, "delete yourself"); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.sessions.Forget(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("user_id", id.String()).Msg("failed to drop cached session version")
	}
	s.logger.Info().Str("user_id", id.String()).Msg("user deleted")
	return nil
}

// CreateAdmin bootstraps an approved, active administrator.
func (s *Service) CreateAdmin(ctx context.Context, username, password, fullName string) (*User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if !validate.Username(username) {
		return nil, apperr.Validation("username must be 3 to 32 characters of a-z, 0-9, '.', '_' or '-'")
	}
	if len(password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	if fullName == "" {
		fullName = username
	}
	u := &User{
		Username:     username,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		IsApproved:   true,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) refuseSelf(ctx context.Context, target uuid.UUID, what string) error {
	if actor := auth.ActorFromContext(ctx); actor != nil && *actor == target {
		return apperr.InvalidState("you cannot %s", what)
	}
	return nil
}

func (s *Service) applyAndReload(ctx context.Context, id uuid.UUID, changes UserChanges, reason string) (*User, error) {
	if _, err := s.bump(ctx, id, changes, reason); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, id)
}

// bump commits changes together with a session-version increment, then
// tells the session cache. A cache failure is logged; the database already
// holds the new version and the cache entry expires on its own.
func (s *Service) bump(ctx context.Context, id uuid.UUID, changes UserChanges, reason string) (int, error) {
	version, err := s.users.ApplyAndBump(ctx, id, changes)
	if err != nil {
		return 0, err
	}
	if err := s.sessions.Bumped(ctx, id, version); err != nil {
		s.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to publish session version")
	}
	metrics.SessionBumped(reason)
	s.logger.Info().
		Str("user_id", id.String()).
		Str("reason", reason).
		Int("session_version", version).
		Msg("sessions invalidated")
	return version, nil
}
