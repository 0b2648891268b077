package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/core"
)

type memSLAStore struct {
	rules []core.SLARule
}

func (m *memSLAStore) UpsertSLARule(ctx context.Context, r *core.SLARule) error {
	for i := range m.rules {
		if m.rules[i].Category == r.Category && m.rules[i].Level == r.Level {
			m.rules[i].TimeLimitHours = r.TimeLimitHours
			return nil
		}
	}
	m.rules = append(m.rules, *r)
	return nil
}

func (m *memSLAStore) ListSLARules(ctx context.Context) ([]core.SLARule, error) {
	return m.rules, nil
}

func TestPutSLARule(t *testing.T) {
	store := &memSLAStore{}
	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodPost, "/sla-rules",
		`{"category":"medication_error","level":"district","time_limit_hours":24}`, "admin")
	PutSLARule(store)(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.rules, 1)
	assert.Equal(t, core.LevelDistrict, store.rules[0].Level)
	assert.Equal(t, 24, store.rules[0].TimeLimitHours)
}

func TestPutSLARuleValidation(t *testing.T) {
	store := &memSLAStore{}
	cases := []string{
		`{"category":"x","level":"galactic","time_limit_hours":24}`,
		`{"category":"","level":"district","time_limit_hours":24}`,
		`{"category":"x","level":"district","time_limit_hours":0}`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		PutSLARule(store)(rec, authedRequest(http.MethodPost, "/sla-rules", body, "admin"))
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}
	assert.Empty(t, store.rules)
}

func TestListSLARules(t *testing.T) {
	store := &memSLAStore{rules: []core.SLARule{
		{ID: "r1", Category: "medication_error", Level: core.LevelDistrict, TimeLimitHours: 24},
		{ID: "r2", Category: "medication_error", Level: core.LevelState, TimeLimitHours: 12},
	}}
	rec := httptest.NewRecorder()
	ListSLARules(store)(rec, authedRequest(http.MethodGet, "/sla-rules", "", "officer"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Rules []core.SLARule `json:"rules"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Len(t, body.Rules, 2)
}
