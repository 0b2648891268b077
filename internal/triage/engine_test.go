package triage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/core"
)

type memStore struct {
	sessions map[string]*core.TriageSession
	order    []string
	audit    []core.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]*core.TriageSession{}}
}

func (m *memStore) CreateTriageSession(ctx context.Context, t *core.TriageSession) error {
	cp := *t
	m.sessions[t.ID] = &cp
	m.order = append(m.order, t.ID)
	return nil
}

func (m *memStore) GetTriageSession(ctx context.Context, id string) (*core.TriageSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListTriageSessions(ctx context.Context, ownerID string, limit int) ([]core.TriageSession, error) {
	var out []core.TriageSession
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.sessions[m.order[i]]
		if s.OwnerID == ownerID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) LastAuditEntryForUpdate(ctx context.Context) (*core.AuditEntry, error) {
	if len(m.audit) == 0 {
		return nil, nil
	}
	e := m.audit[len(m.audit)-1]
	return &e, nil
}

func (m *memStore) InsertAuditEntry(ctx context.Context, e *core.AuditEntry) error {
	m.audit = append(m.audit, *e)
	return nil
}

func (m *memStore) AuditEntriesRange(ctx context.Context, from, to int64) ([]core.AuditEntry, error) {
	return m.audit, nil
}

func (m *memStore) AuditEntriesForEntity(ctx context.Context, entityType, entityID string) ([]core.AuditEntry, error) {
	return nil, nil
}

type memRunner struct{ store *memStore }

func (r *memRunner) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(r.store)
}

type memEmitter struct {
	events []string
}

func (m *memEmitter) Emit(ctx context.Context, userID, eventType string, payload map[string]interface{}) {
	m.events = append(m.events, eventType)
}

func newTestEngine() (*Engine, *memStore, *memEmitter) {
	store := newMemStore()
	emitter := &memEmitter{}
	e := NewEngine(&memRunner{store: store}, emitter, nil)
	e.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return e, store, emitter
}

func TestEmergencyOnRedFlag(t *testing.T) {
	e, _, _ := newTestEngine()

	a, err := e.Evaluate("I have crushing chest pain and I cannot breathe properly", "en")
	require.NoError(t, err)
	assert.Equal(t, core.TriageEmergency, a.Category)
	assert.Equal(t, []string{"chest_pain", "breathing_difficulty"}, a.RedFlags)
	assert.Contains(t, strings.ToLower(a.Guidance), Disclaimer)
}

func TestRedFlagCanonicalNames(t *testing.T) {
	e, _, _ := newTestEngine()

	cases := map[string]string{
		"my father is unconscious and not responding":       "unconscious",
		"she had a seizure this morning":                    "seizure",
		"the wound is bleeding heavily and won't stop":      "severe_bleeding",
		"sudden weakness on the left side and face droop":   "stroke_signs",
		"I keep thinking about hurting myself":              "self_harm",
		"high fever with a stiff neck since last night":     "fever_stiff_neck",
		"I am pregnant and noticed bleeding since the noon": "pregnancy_bleeding",
	}
	for text, flag := range cases {
		a, err := e.Evaluate(text, "en")
		require.NoError(t, err, text)
		assert.Equal(t, core.TriageEmergency, a.Category, text)
		assert.Contains(t, a.RedFlags, flag, text)
	}
}

func TestPHCWithoutRedFlags(t *testing.T) {
	e, _, _ := newTestEngine()

	a, err := e.Evaluate("fever not going away since four days, feeling very weak", "en")
	require.NoError(t, err)
	assert.Equal(t, core.TriagePHC, a.Category)
	assert.Empty(t, a.RedFlags)
}

func TestSelfCareDefault(t *testing.T) {
	e, _, _ := newTestEngine()

	a, err := e.Evaluate("mild runny nose and sneezing since yesterday", "en")
	require.NoError(t, err)
	assert.Equal(t, core.TriageSelfCare, a.Category)
	assert.Empty(t, a.RedFlags)
	assert.Contains(t, strings.ToLower(a.Guidance), Disclaimer)
}

func TestGuidanceNeverClaimsDiagnosis(t *testing.T) {
	for _, byLang := range guidanceTemplates {
		for lang, text := range byLang {
			assert.Contains(t, strings.ToLower(text), Disclaimer, lang)
			assert.False(t, forbiddenTerms.MatchString(text), "template for %s contains a diagnosis claim", lang)
		}
	}
	assert.Contains(t, strings.ToLower(fallbackGuidance), Disclaimer)
}

func TestSafeGuidanceFallsBack(t *testing.T) {
	assert.Equal(t, fallbackGuidance, safeGuidance("Go to hospital now."))
	assert.Equal(t, fallbackGuidance, safeGuidance("You have malaria. This is guidance, not a diagnosis."))
	ok := "Rest at home. This is guidance, not a diagnosis."
	assert.Equal(t, ok, safeGuidance(ok))
}

func TestUnknownLanguageFallsBackToEnglish(t *testing.T) {
	e, _, _ := newTestEngine()
	a, err := e.Evaluate("mild cough", "ta")
	require.NoError(t, err)
	assert.Equal(t, guidanceTemplates[core.TriageSelfCare]["en"], a.Guidance)
}

func TestEvaluateValidation(t *testing.T) {
	e, _, _ := newTestEngine()

	_, err := e.Evaluate("", "en")
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = e.Evaluate(strings.Repeat("a", maxSymptomsLen+1), "en")
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestRunPersistsAuditsAndEmits(t *testing.T) {
	e, store, emitter := newTestEngine()
	ctx := context.Background()

	session, err := e.Run(ctx, "u1", "severe chest pain", "en")
	require.NoError(t, err)
	assert.Equal(t, core.TriageEmergency, session.Category)

	stored := store.sessions[session.ID]
	require.NotNil(t, stored)
	assert.Equal(t, "u1", stored.OwnerID)

	require.Len(t, store.audit, 1)
	assert.Equal(t, "triage.run", store.audit[0].Action)

	assert.Equal(t, []string{"triage_emergency"}, emitter.events)

	_, err = e.Run(ctx, "u1", "mild cold", "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"triage_emergency", "triage_completed"}, emitter.events)
}

func TestGetEnforcesOwnership(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()

	session, err := e.Run(ctx, "u1", "mild cold", "en")
	require.NoError(t, err)

	got, err := e.Get(ctx, "u1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = e.Get(ctx, "u2", session.ID)
	require.Error(t, err)
	assert.Equal(t, core.KindForbidden, core.KindOf(err))

	_, err = e.Get(ctx, "u1", "missing")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}
