package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/auth"
	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
)

type memExportStore struct {
	profile  *core.Profile
	consents []core.Consent
	sessions []core.TriageSession
}

func (m *memExportStore) GetProfile(ctx context.Context, userID string) (*core.Profile, error) {
	return m.profile, nil
}

func (m *memExportStore) ConsentHistory(ctx context.Context, userID string) ([]core.Consent, error) {
	return m.consents, nil
}

func (m *memExportStore) ListTriageSessions(ctx context.Context, ownerID string, limit int) ([]core.TriageSession, error) {
	return m.sessions, nil
}

func authedRequest(method, target string, body string, userID string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	id := &auth.Identity{
		User:  &core.User{ID: userID, IsActive: true},
		Roles: []core.RoleName{core.RoleCitizen},
	}
	return req.WithContext(middleware.WithIdentity(req.Context(), id))
}

func TestExportProfileEnvelope(t *testing.T) {
	name := "Asha"
	store := &memExportStore{
		profile: &core.Profile{ID: "p1", UserID: "u1", FullName: &name},
		consents: []core.Consent{
			{ID: "c1", UserID: "u1", Category: core.ConsentAnalytics, Granted: true, GrantedAt: time.Now()},
		},
	}
	rec := httptest.NewRecorder()
	ExportProfile(store)(rec, authedRequest(http.MethodGet, "/export/profile", "", "u1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	var version string
	require.NoError(t, json.Unmarshal(body["report_version"], &version))
	assert.Equal(t, core.ReportVersion, version)
	assert.Contains(t, body, "profile")
	assert.Contains(t, body, "consents")
	assert.Contains(t, body, "triage_sessions")
}

func TestExportProfileEmptySections(t *testing.T) {
	rec := httptest.NewRecorder()
	ExportProfile(&memExportStore{})(rec, authedRequest(http.MethodGet, "/export/profile", "", "u1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Consents []core.Consent       `json:"consents"`
		Sessions []core.TriageSession `json:"triage_sessions"`
		Profile  *core.Profile        `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotNil(t, body.Consents)
	assert.NotNil(t, body.Sessions)
	assert.Nil(t, body.Profile)
}
