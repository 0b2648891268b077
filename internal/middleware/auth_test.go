package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/auth"
	"github.com/sahay/backend/internal/core"
)

type fakeAuthenticator struct {
	identities map[string]*auth.Identity
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	id, ok := f.identities[token]
	if !ok {
		return nil, core.E(core.KindUnauthorized, "invalid or revoked token")
	}
	return id, nil
}

func identityFor(userID string, roles ...core.RoleName) *auth.Identity {
	return &auth.Identity{
		User:  &core.User{ID: userID, IsActive: true},
		Roles: roles,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		w.Write([]byte(id.User.ID))
	})
}

func TestAuthAttachesIdentity(t *testing.T) {
	a := &fakeAuthenticator{identities: map[string]*auth.Identity{
		"tok-1": identityFor("u1", core.RoleCitizen),
	}}
	h := Auth(a)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestAuthRejectsMissingOrBadToken(t *testing.T) {
	a := &fakeAuthenticator{identities: map[string]*auth.Identity{}}
	h := Auth(a)(okHandler())

	for _, header := range []string{"", "Bearer nope", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(core.KindUnauthorized), body["kind"])
	}
}

func TestRequireRole(t *testing.T) {
	a := &fakeAuthenticator{identities: map[string]*auth.Identity{
		"citizen": identityFor("u1", core.RoleCitizen),
		"officer": identityFor("u2", core.RoleDistrictOfficer),
	}}
	h := Auth(a)(RequireRole(core.OfficerRoles...)(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer citizen")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer officer")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteErrorMasksInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, assertAnError{})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["error"])
	assert.NotContains(t, rec.Body.String(), "connection string")
}

type assertAnError struct{}

func (assertAnError) Error() string { return "pq: bad connection string password=hunter2" }

func TestRateLimiterBlocksAboveBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 3, BurstSize: 5})

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("user:u1") {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)

	// Another principal has its own window.
	assert.True(t, rl.Allow("user:u2"))
}

func TestRateLimiterKeysByUserAfterAuth(t *testing.T) {
	a := &fakeAuthenticator{identities: map[string]*auth.Identity{
		"tok-1": identityFor("u1", core.RoleCitizen),
	}}
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 2, BurstSize: 2})
	h := Auth(a)(rl.Middleware(okHandler()))

	// The same user hopping addresses still burns one window.
	addrs := []string{"10.0.0.1:1111", "10.0.0.2:2222", "10.0.0.3:3333"}
	codes := make([]int, 0, len(addrs))
	for _, addr := range addrs {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer tok-1")
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterKeysByIPOnPublicRoutes(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1111"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:2222"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:3333"), "a different address gets its own window")
}
