package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/core"
)

type memStore struct {
	users  map[string]*core.User
	roles  map[string][]core.RoleName
	tokens map[string]*core.AuthToken
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[string]*core.User{},
		roles:  map[string][]core.RoleName{},
		tokens: map[string]*core.AuthToken{},
	}
}

func (m *memStore) CreateUser(ctx context.Context, u *core.User) error {
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByUsername(ctx context.Context, username string) (*core.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) AddUserRole(ctx context.Context, id, userID string, role core.RoleName) error {
	for _, r := range m.roles[userID] {
		if r == role {
			return nil
		}
	}
	m.roles[userID] = append(m.roles[userID], role)
	return nil
}

func (m *memStore) GetUserRoles(ctx context.Context, userID string) ([]core.RoleName, error) {
	return m.roles[userID], nil
}

func (m *memStore) CreateAuthToken(ctx context.Context, t *core.AuthToken) error {
	cp := *t
	m.tokens[t.Token] = &cp
	return nil
}

func (m *memStore) GetAuthToken(ctx context.Context, token string) (*core.AuthToken, error) {
	t, ok := m.tokens[token]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) RevokeAuthToken(ctx context.Context, token string, at time.Time) error {
	if t, ok := m.tokens[token]; ok && t.RevokedAt == nil {
		t.RevokedAt = &at
	}
	return nil
}

func TestRegisterAndLogin(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	u, err := svc.Register(ctx, "asha_kumari", "correct-horse-battery")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "correct-horse-battery", u.PasswordHash)

	token, logged, err := svc.Login(ctx, "asha_kumari", "correct-horse-battery")
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Equal(t, u.ID, logged.ID)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, "ab", "longenoughpassword")
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = svc.Register(ctx, "valid_name", "short")
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, "asha_kumari", "correct-horse-battery")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "asha_kumari", "another-password-1")
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
}

func TestLoginWrongPassword(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()
	_, err := svc.Register(ctx, "asha_kumari", "correct-horse-battery")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "asha_kumari", "wrong-password-here")
	require.Error(t, err)
	assert.Equal(t, core.KindUnauthorized, core.KindOf(err))

	_, _, err = svc.Login(ctx, "nobody", "correct-horse-battery")
	require.Error(t, err)
	assert.Equal(t, core.KindUnauthorized, core.KindOf(err))
}

func TestAuthenticateAndLogout(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()
	u, err := svc.Register(ctx, "asha_kumari", "correct-horse-battery")
	require.NoError(t, err)
	token, _, err := svc.Login(ctx, "asha_kumari", "correct-horse-battery")
	require.NoError(t, err)

	id, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id.User.ID)
	assert.True(t, id.HasRole(core.RoleCitizen))
	assert.False(t, id.HasRole(core.RoleClinician))

	require.NoError(t, svc.Logout(ctx, token))
	_, err = svc.Authenticate(ctx, token)
	require.Error(t, err)
	assert.Equal(t, core.KindUnauthorized, core.KindOf(err))
}

func TestGrantRoleAndHasAnyRole(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()
	u, err := svc.Register(ctx, "district_desk", "correct-horse-battery")
	require.NoError(t, err)

	require.NoError(t, svc.GrantRole(ctx, u.ID, core.RoleDistrictOfficer))
	err = svc.GrantRole(ctx, u.ID, core.RoleName("superuser"))
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	token, _, err := svc.Login(ctx, "district_desk", "correct-horse-battery")
	require.NoError(t, err)
	id, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.True(t, id.HasAnyRole(core.OfficerRoles...))
}
