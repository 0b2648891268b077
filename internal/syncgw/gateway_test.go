package syncgw

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/core"
)

type memStore struct {
	syncEvents map[string]*core.SyncEvent
	profiles   map[string]*core.Profile
	vitals     []string
	moods      []int
	water      []int
	audit      []core.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		syncEvents: map[string]*core.SyncEvent{},
		profiles:   map[string]*core.Profile{},
	}
}

func (m *memStore) GetSyncEvent(ctx context.Context, eventID string) (*core.SyncEvent, error) {
	e, ok := m.syncEvents[eventID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) RecordSyncEvent(ctx context.Context, e *core.SyncEvent) error {
	if _, ok := m.syncEvents[e.EventID]; ok {
		return nil
	}
	cp := *e
	m.syncEvents[e.EventID] = &cp
	return nil
}

func (m *memStore) GetProfile(ctx context.Context, userID string) (*core.Profile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpsertProfile(ctx context.Context, p *core.Profile) error {
	cp := *p
	m.profiles[p.UserID] = &cp
	return nil
}

func (m *memStore) InsertVitalsLog(ctx context.Context, id, userID, kind, value string, unit *string, measuredAt time.Time) error {
	m.vitals = append(m.vitals, kind+"="+value)
	return nil
}

func (m *memStore) InsertMoodLog(ctx context.Context, id, userID string, moodScale int, loggedAt time.Time) error {
	m.moods = append(m.moods, moodScale)
	return nil
}

func (m *memStore) InsertWaterLog(ctx context.Context, id, userID string, amountML int, loggedAt time.Time) error {
	m.water = append(m.water, amountML)
	return nil
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

func newTestGateway(t *testing.T) (*Gateway, *memStore) {
	t.Helper()
	store := newMemStore()
	g, err := NewGateway(&memRunner{store: store}, 0, nil)
	require.NoError(t, err)
	return g, store
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func ts(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func TestAcceptAndReplayIsDuplicate(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	item := Item{
		EventID:    "evt-1",
		EntityType: "water",
		Operation:  "create",
		ClientTime: ts("2026-03-01T08:00:00Z"),
		Payload:    raw(t, map[string]interface{}{"amount_ml": 250, "logged_at": "2026-03-01T08:00:00Z"}),
	}

	res, err := g.ProcessBatch(ctx, "u1", "dev-a", []Item{item})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, core.SyncAccepted, res[0].Outcome)
	assert.Equal(t, []int{250}, store.water)

	// The device lost the ack and uploads the same event again.
	res, err = g.ProcessBatch(ctx, "u1", "dev-a", []Item{item})
	require.NoError(t, err)
	assert.Equal(t, core.SyncDuplicate, res[0].Outcome)
	assert.Equal(t, []int{250}, store.water, "replay must not double-apply")
}

func TestProfileLastWriteWins(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	older := Item{
		EventID:    "evt-old",
		EntityType: "profile",
		Operation:  "update",
		ClientTime: ts("2026-03-01T08:00:00Z"),
		Payload:    raw(t, map[string]interface{}{"full_name": "Asha K", "pincode": "560001"}),
	}
	newer := Item{
		EventID:    "evt-new",
		EntityType: "profile",
		Operation:  "update",
		ClientTime: ts("2026-03-01T09:30:00Z"),
		Payload:    raw(t, map[string]interface{}{"full_name": "Asha Kumari", "pincode": "560002"}),
	}

	// The newer write arrives first (device B synced before device A).
	res, err := g.ProcessBatch(ctx, "u1", "dev-b", []Item{newer})
	require.NoError(t, err)
	assert.Equal(t, core.SyncAccepted, res[0].Outcome)

	res, err = g.ProcessBatch(ctx, "u1", "dev-a", []Item{older})
	require.NoError(t, err)
	assert.Equal(t, core.SyncRejected("stale"), res[0].Outcome)

	p := store.profiles["u1"]
	require.NotNil(t, p)
	assert.Equal(t, "Asha Kumari", *p.FullName)
	assert.Equal(t, "560002", *p.Pincode)
}

func TestProfileEqualTimeTieBreaksOnEventID(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()
	same := ts("2026-03-01T08:00:00Z")

	a := Item{
		EventID:    "evt-aaa",
		EntityType: "profile",
		Operation:  "update",
		ClientTime: same,
		Payload:    raw(t, map[string]interface{}{"full_name": "From A"}),
	}
	b := Item{
		EventID:    "evt-bbb",
		EntityType: "profile",
		Operation:  "update",
		ClientTime: same,
		Payload:    raw(t, map[string]interface{}{"full_name": "From B"}),
	}

	res, err := g.ProcessBatch(ctx, "u1", "dev-b", []Item{b})
	require.NoError(t, err)
	assert.Equal(t, core.SyncAccepted, res[0].Outcome)

	// evt-aaa < evt-bbb, so A loses the tie.
	res, err = g.ProcessBatch(ctx, "u1", "dev-a", []Item{a})
	require.NoError(t, err)
	assert.Equal(t, core.SyncRejected("stale"), res[0].Outcome)
	assert.Equal(t, "From B", *store.profiles["u1"].FullName)
}

func TestAppendOnlyRejectsUpdates(t *testing.T) {
	g, _ := newTestGateway(t)
	res, err := g.ProcessBatch(context.Background(), "u1", "dev-a", []Item{{
		EventID:    "evt-2",
		EntityType: "vitals",
		Operation:  "update",
		ClientTime: ts("2026-03-01T08:00:00Z"),
		Payload:    raw(t, map[string]interface{}{"kind": "pulse", "value": "72", "measured_at": "2026-03-01T08:00:00Z"}),
	}})
	require.NoError(t, err)
	assert.Equal(t, core.SyncRejected("append_only"), res[0].Outcome)
}

func TestOperationsAreCaseInsensitive(t *testing.T) {
	g, store := newTestGateway(t)
	res, err := g.ProcessBatch(context.Background(), "u1", "dev-a", []Item{{
		EventID:    "evt-up",
		EntityType: "water",
		Operation:  "CREATE",
		ClientTime: ts("2026-03-01T08:00:00Z"),
		Payload:    raw(t, map[string]interface{}{"amount_ml": 150, "logged_at": "2026-03-01T08:00:00Z"}),
	}})
	require.NoError(t, err)
	assert.Equal(t, core.SyncAccepted, res[0].Outcome)
	assert.Equal(t, []int{150}, store.water)
	assert.Equal(t, "CREATE", store.syncEvents["evt-up"].Operation)
}

func TestUnknownOperationIsRejected(t *testing.T) {
	g, _ := newTestGateway(t)
	res, err := g.ProcessBatch(context.Background(), "u1", "dev-a", []Item{{
		EventID:    "evt-op",
		EntityType: "water",
		Operation:  "MERGE",
		ClientTime: ts("2026-03-01T08:00:00Z"),
		Payload:    raw(t, map[string]interface{}{"amount_ml": 100, "logged_at": "2026-03-01T08:00:00Z"}),
	}})
	require.NoError(t, err)
	assert.Equal(t, core.SyncRejected("invalid_payload"), res[0].Outcome)
}

func TestProfileDeleteClearsFields(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	res, err := g.ProcessBatch(ctx, "u1", "dev-a", []Item{{
		EventID:    "evt-set",
		EntityType: "profile",
		Operation:  "CREATE",
		ClientTime: ts("2026-03-01T08:00:00Z"),
		Payload:    raw(t, map[string]interface{}{"full_name": "Asha K", "pincode": "560001"}),
	}})
	require.NoError(t, err)
	require.Equal(t, core.SyncAccepted, res[0].Outcome)

	res, err = g.ProcessBatch(ctx, "u1", "dev-a", []Item{{
		EventID:    "evt-del",
		EntityType: "profile",
		Operation:  "DELETE",
		ClientTime: ts("2026-03-01T09:00:00Z"),
		Payload:    raw(t, map[string]interface{}{}),
	}})
	require.NoError(t, err)
	require.Equal(t, core.SyncAccepted, res[0].Outcome)

	p := store.profiles["u1"]
	require.NotNil(t, p)
	assert.Nil(t, p.FullName)
	assert.Nil(t, p.Pincode)

	// A write older than the delete stays stale.
	res, err = g.ProcessBatch(ctx, "u1", "dev-b", []Item{{
		EventID:    "evt-late",
		EntityType: "profile",
		Operation:  "UPDATE",
		ClientTime: ts("2026-03-01T08:30:00Z"),
		Payload:    raw(t, map[string]interface{}{"full_name": "Back Again"}),
	}})
	require.NoError(t, err)
	assert.Equal(t, core.SyncRejected("stale"), res[0].Outcome)
}

func TestConfiguredBatchSize(t *testing.T) {
	store := newMemStore()
	g, err := NewGateway(&memRunner{store: store}, 2, nil)
	require.NoError(t, err)

	_, err = g.ProcessBatch(context.Background(), "u1", "dev-a", make([]Item, 3))
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestRejectionReasons(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	okTime := ts("2026-03-01T08:00:00Z")

	cases := []struct {
		name string
		item Item
		want core.SyncOutcome
	}{
		{
			name: "unknown entity",
			item: Item{EventID: "e1", EntityType: "ghost", Operation: "create", ClientTime: okTime, Payload: raw(t, map[string]interface{}{})},
			want: core.SyncRejected("invalid_entity"),
		},
		{
			name: "user mismatch",
			item: Item{EventID: "e2", UserID: "someone-else", EntityType: "water", Operation: "create", ClientTime: okTime, Payload: raw(t, map[string]interface{}{"amount_ml": 100, "logged_at": "2026-03-01T08:00:00Z"})},
			want: core.SyncRejected("user_mismatch"),
		},
		{
			name: "schema violation",
			item: Item{EventID: "e3", EntityType: "mood", Operation: "create", ClientTime: okTime, Payload: raw(t, map[string]interface{}{"mood_scale": 11, "logged_at": "2026-03-01T08:00:00Z"})},
			want: core.SyncRejected("invalid_payload"),
		},
		{
			name: "missing event id",
			item: Item{EntityType: "water", Operation: "create", ClientTime: okTime, Payload: raw(t, map[string]interface{}{"amount_ml": 100, "logged_at": "2026-03-01T08:00:00Z"})},
			want: core.SyncRejected("invalid_payload"),
		},
		{
			name: "missing client time",
			item: Item{EventID: "e5", EntityType: "water", Operation: "create", Payload: raw(t, map[string]interface{}{"amount_ml": 100, "logged_at": "2026-03-01T08:00:00Z"})},
			want: core.SyncRejected("invalid_payload"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.ProcessBatch(ctx, "u1", "dev-a", []Item{tc.item})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res[0].Outcome)
		})
	}
}

func TestBatchSizeLimit(t *testing.T) {
	g, _ := newTestGateway(t)
	items := make([]Item, MaxBatchSize+1)
	_, err := g.ProcessBatch(context.Background(), "u1", "dev-a", items)
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestEveryItemIsAudited(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	_, err := g.ProcessBatch(ctx, "u1", "dev-a", []Item{
		{EventID: "e1", EntityType: "water", Operation: "create", ClientTime: ts("2026-03-01T08:00:00Z"), Payload: raw(t, map[string]interface{}{"amount_ml": 100, "logged_at": "2026-03-01T08:00:00Z"})},
		{EventID: "e2", EntityType: "ghost", Operation: "create", ClientTime: ts("2026-03-01T08:00:00Z"), Payload: raw(t, map[string]interface{}{})},
	})
	require.NoError(t, err)

	require.Len(t, store.audit, 2)
	assert.Equal(t, "sync.accepted", store.audit[0].Action)
	assert.Equal(t, "sync.rejected:invalid_entity", store.audit[1].Action)
	assert.Equal(t, int64(2), store.audit[1].Seq)
}
