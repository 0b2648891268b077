// Package auth handles account registration, login, and opaque bearer
// tokens. Passwords are bcrypt-hashed; tokens are random and revocable.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sahay/backend/internal/core"
)

const bcryptCost = 12

// Store is the subset of the database layer the auth service needs.
type Store interface {
	CreateUser(ctx context.Context, u *core.User) error
	GetUser(ctx context.Context, id string) (*core.User, error)
	GetUserByUsername(ctx context.Context, username string) (*core.User, error)
	AddUserRole(ctx context.Context, id, userID string, role core.RoleName) error
	GetUserRoles(ctx context.Context, userID string) ([]core.RoleName, error)
	CreateAuthToken(ctx context.Context, t *core.AuthToken) error
	GetAuthToken(ctx context.Context, token string) (*core.AuthToken, error)
	RevokeAuthToken(ctx context.Context, token string, at time.Time) error
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Register creates an account with the citizen role. Usernames are unique;
// a duplicate surfaces as Conflict before the insert races.
func (s *Service) Register(ctx context.Context, username, password string) (*core.User, error) {
	if len(username) < 3 {
		return nil, core.E(core.KindValidation, "username must be at least 3 characters")
	}
	if len(password) < 8 {
		return nil, core.E(core.KindValidation, "password must be at least 8 characters")
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, core.E(core.KindConflict, "username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &core.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	if err := s.store.AddUserRole(ctx, uuid.New().String(), u.ID, core.RoleCitizen); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and mints a fresh opaque token.
func (s *Service) Login(ctx context.Context, username, password string) (string, *core.User, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", nil, err
	}
	if u == nil || !u.IsActive {
		return "", nil, core.E(core.KindUnauthorized, "invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, core.E(core.KindUnauthorized, "invalid credentials")
	}

	token, err := newToken()
	if err != nil {
		return "", nil, err
	}
	if err := s.store.CreateAuthToken(ctx, &core.AuthToken{
		Token:     token,
		UserID:    u.ID,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// Logout revokes one token. Revoking an already-revoked token is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.RevokeAuthToken(ctx, token, s.now().UTC())
}

// Identity is the authenticated principal attached to requests.
type Identity struct {
	User  *core.User
	Roles []core.RoleName
}

// HasRole reports whether the identity carries the given role.
func (id *Identity) HasRole(role core.RoleName) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries at least one of roles.
func (id *Identity) HasAnyRole(roles ...core.RoleName) bool {
	for _, r := range roles {
		if id.HasRole(r) {
			return true
		}
	}
	return false
}

// Authenticate resolves a bearer token to an identity. Revoked tokens and
// deactivated accounts both fail as Unauthorized.
func (s *Service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, core.E(core.KindUnauthorized, "missing token")
	}
	t, err := s.store.GetAuthToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if t == nil || t.RevokedAt != nil {
		return nil, core.E(core.KindUnauthorized, "invalid or revoked token")
	}

	u, err := s.store.GetUser(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive {
		return nil, core.E(core.KindUnauthorized, "account unavailable")
	}

	roles, err := s.store.GetUserRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &Identity{User: u, Roles: roles}, nil
}

// GrantRole assigns an additional role; only valid role names are accepted.
func (s *Service) GrantRole(ctx context.Context, userID string, role core.RoleName) error {
	if !core.ValidRole(role) {
		return core.Ef(core.KindValidation, "unknown role %q", role)
	}
	return s.store.AddUserRole(ctx, uuid.New().String(), userID, role)
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
