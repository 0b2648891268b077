package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/database"
)

type memStore struct {
	profiles   map[string]*core.Profile
	rawEvents  []core.AnalyticsEvent
	aggregates map[string]*core.AggregatedEvent
	failFlush  bool
}

func newMemStore() *memStore {
	return &memStore{
		profiles:   map[string]*core.Profile{},
		aggregates: map[string]*core.AggregatedEvent{},
	}
}

func aggKey(a *core.AggregatedEvent) string {
	return a.EventType + "|" + a.Category + "|" + a.TimeBucket.Format(time.RFC3339) +
		"|" + a.GeoCell + "|" + a.AgeBucket + "|" + a.Gender
}

func (m *memStore) GetProfile(ctx context.Context, userID string) (*core.Profile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) InsertAnalyticsEvent(ctx context.Context, e *core.AnalyticsEvent) error {
	if m.failFlush {
		return assert.AnError
	}
	m.rawEvents = append(m.rawEvents, *e)
	return nil
}

func (m *memStore) IncrementAggregate(ctx context.Context, a *core.AggregatedEvent) error {
	k := aggKey(a)
	if cur, ok := m.aggregates[k]; ok {
		cur.Count += a.Count
		return nil
	}
	cp := *a
	m.aggregates[k] = &cp
	return nil
}

func (m *memStore) QueryAggregates(ctx context.Context, f database.AggregateFilter) ([]core.AggregatedEvent, error) {
	var out []core.AggregatedEvent
	for _, a := range m.aggregates {
		if a.Count < f.MinCount {
			continue
		}
		if f.EventType != "" && a.EventType != f.EventType {
			continue
		}
		if f.GeoCell != "" && a.GeoCell != f.GeoCell {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

type memRunner struct{ store *memStore }

func (r *memRunner) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(r.store)
}

type memGate struct{ granted map[string]bool }

func (g *memGate) IsGranted(ctx context.Context, userID string, category core.ConsentCategory, scope core.ConsentScope, asOf time.Time) (bool, error) {
	return g.granted[userID], nil
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func newTestPipeline(bufferSize int) (*Pipeline, *memStore, *memGate) {
	store := newMemStore()
	gate := &memGate{granted: map[string]bool{"u1": true}}
	p := NewPipeline(&memRunner{store: store}, gate, Config{
		KThreshold: 5,
		BufferSize: bufferSize,
	}, nil)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 10, 7, 30, 0, time.UTC) }
	store.profiles["u1"] = &core.Profile{
		UserID: "u1", Age: intp(29), Sex: strp("female"), Pincode: strp("560001"),
	}
	return p, store, gate
}

func TestEmitDeidentifies(t *testing.T) {
	p, store, _ := newTestPipeline(100)
	ctx := context.Background()

	p.Emit(ctx, "u1", "triage_completed", map[string]interface{}{"category": "self_care"})
	require.NoError(t, p.Flush(ctx))

	require.Len(t, store.aggregates, 1)
	for _, a := range store.aggregates {
		assert.Equal(t, "triage_completed", a.EventType)
		assert.Equal(t, "self_care", a.Category)
		assert.Equal(t, "pincode_560xxx", a.GeoCell)
		assert.Equal(t, "19-35", a.AgeBucket)
		assert.Equal(t, "female", a.Gender)
		// 10:07:30 floors to the 15-minute boundary.
		assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), a.TimeBucket)
		assert.Equal(t, int64(1), a.Count)
	}
}

func TestEmitWithoutConsentIsDropped(t *testing.T) {
	p, store, gate := newTestPipeline(100)
	ctx := context.Background()

	gate.granted["u2"] = false
	p.Emit(ctx, "u2", "triage_completed", nil)
	require.NoError(t, p.Flush(ctx))

	assert.Empty(t, store.aggregates)
	assert.Empty(t, store.rawEvents)
}

func TestEmitUnknownEventTypeIsDropped(t *testing.T) {
	p, store, _ := newTestPipeline(100)
	p.Emit(context.Background(), "u1", "secret_new_event", nil)
	require.NoError(t, p.Flush(context.Background()))
	assert.Empty(t, store.aggregates)
}

func TestEmitDisallowedKeyIsDropped(t *testing.T) {
	p, store, _ := newTestPipeline(100)
	ctx := context.Background()

	p.Emit(ctx, "u1", "triage_completed", map[string]interface{}{"phone": "9999999999"})
	p.Emit(ctx, "u1", "triage_completed", map[string]interface{}{
		"nested": map[string]interface{}{"full_name": "x"},
	})
	require.NoError(t, p.Flush(ctx))
	assert.Empty(t, store.aggregates)
}

func TestEmitCategoryOutsideAllowListIsDropped(t *testing.T) {
	p, store, _ := newTestPipeline(100)
	ctx := context.Background()

	p.Emit(ctx, "u1", "triage_completed", map[string]interface{}{"category": "totally_bogus_category"})
	require.NoError(t, p.Flush(ctx))
	assert.Empty(t, store.aggregates)

	p.Emit(ctx, "u1", "triage_completed", map[string]interface{}{"category": "emergency"})
	require.NoError(t, p.Flush(ctx))
	require.Len(t, store.aggregates, 1)
}

func TestValidateEvent(t *testing.T) {
	assert.NoError(t, ValidateEvent("triage_completed", map[string]interface{}{"category": "phc"}))
	assert.NoError(t, ValidateEvent("daily_wellness_logged", nil))

	cases := []struct {
		name      string
		eventType string
		payload   map[string]interface{}
	}{
		{"unknown event type", "page_viewed", nil},
		{"disallowed key", "triage_completed", map[string]interface{}{"phone": "9999999999"}},
		{"category outside allow-list", "triage_completed", map[string]interface{}{"category": "totally_bogus_category"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEvent(tc.eventType, tc.payload)
			require.Error(t, err)
			assert.Equal(t, core.KindValidation, core.KindOf(err))
		})
	}
}

func TestMissingProfileBucketsUnknown(t *testing.T) {
	p, store, gate := newTestPipeline(100)
	gate.granted["u3"] = true
	ctx := context.Background()

	p.Emit(ctx, "u3", "daily_wellness_logged", nil)
	require.NoError(t, p.Flush(ctx))

	require.Len(t, store.aggregates, 1)
	for _, a := range store.aggregates {
		assert.Equal(t, "unknown", a.GeoCell)
		assert.Equal(t, "unknown", a.AgeBucket)
		assert.Equal(t, "unknown", a.Gender)
	}
}

func TestBufferFlushesWhenFull(t *testing.T) {
	p, store, _ := newTestPipeline(3)
	ctx := context.Background()

	p.Emit(ctx, "u1", "triage_completed", nil)
	p.Emit(ctx, "u1", "triage_completed", nil)
	assert.Empty(t, store.aggregates, "below threshold, nothing flushed")

	p.Emit(ctx, "u1", "triage_completed", nil)
	require.Len(t, store.aggregates, 1)
	for _, a := range store.aggregates {
		assert.Equal(t, int64(3), a.Count)
	}
	assert.Zero(t, p.BufferLen())
}

func TestFlushFailureRequeues(t *testing.T) {
	p, store, _ := newTestPipeline(100)
	ctx := context.Background()

	p.Emit(ctx, "u1", "triage_completed", nil)
	store.failFlush = true
	require.Error(t, p.Flush(ctx))
	assert.Equal(t, 1, p.BufferLen())

	store.failFlush = false
	require.NoError(t, p.Flush(ctx))
	assert.Zero(t, p.BufferLen())
	assert.Len(t, store.aggregates, 1)
}

func TestQueryAppliesKThreshold(t *testing.T) {
	p, store, _ := newTestPipeline(100)
	ctx := context.Background()

	// 6 events in one bucket, 2 in another.
	for i := 0; i < 6; i++ {
		p.Emit(ctx, "u1", "triage_completed", map[string]interface{}{"category": "self_care"})
	}
	p.Emit(ctx, "u1", "triage_emergency", map[string]interface{}{"category": "emergency"})
	p.Emit(ctx, "u1", "triage_emergency", map[string]interface{}{"category": "emergency"})
	require.NoError(t, p.Flush(ctx))
	require.Len(t, store.aggregates, 2)

	rows, err := p.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1, "the 2-count bucket is suppressed")
	assert.Equal(t, "triage_completed", rows[0].EventType)
	assert.Equal(t, int64(6), rows[0].Count)
}

func TestAgeBuckets(t *testing.T) {
	cases := map[int]string{
		0: "0-5", 5: "0-5", 6: "6-12", 12: "6-12", 13: "13-18", 18: "13-18",
		19: "19-35", 35: "19-35", 36: "36-60", 60: "36-60", 61: "60+", 95: "60+",
	}
	for age, want := range cases {
		a := age
		assert.Equal(t, want, ageBucket(&a), "age %d", age)
	}
	assert.Equal(t, "unknown", ageBucket(nil))
	neg := -1
	assert.Equal(t, "unknown", ageBucket(&neg))
}

func TestGeoCell(t *testing.T) {
	p := "560001"
	assert.Equal(t, "pincode_560xxx", geoCell(&p, 3))
	bad := "56001"
	assert.Equal(t, "unknown", geoCell(&bad, 3))
	alpha := "56000a"
	assert.Equal(t, "unknown", geoCell(&alpha, 3))
	assert.Equal(t, "unknown", geoCell(nil, 3))
}
