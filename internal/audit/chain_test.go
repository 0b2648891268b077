package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/hashing"
)

type memStore struct {
	entries []core.AuditEntry
}

func (m *memStore) LastAuditEntryForUpdate(ctx context.Context) (*core.AuditEntry, error) {
	if len(m.entries) == 0 {
		return nil, nil
	}
	e := m.entries[len(m.entries)-1]
	return &e, nil
}

func (m *memStore) InsertAuditEntry(ctx context.Context, e *core.AuditEntry) error {
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memStore) AuditEntriesRange(ctx context.Context, from, to int64) ([]core.AuditEntry, error) {
	var out []core.AuditEntry
	for _, e := range m.entries {
		if e.Seq >= from && (to <= 0 || e.Seq <= to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) AuditEntriesForEntity(ctx context.Context, entityType, entityID string) ([]core.AuditEntry, error) {
	var out []core.AuditEntry
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func strp(s string) *string { return &s }

func newTestChain() (*Chain, *memStore) {
	store := &memStore{}
	c := NewChain(store)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	c.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return c, store
}

func TestAppendChainsFromZeroHash(t *testing.T) {
	c, _ := newTestChain()
	ctx := context.Background()

	first, err := c.Append(ctx, Record{Action: "consent.grant", EntityType: "consent", EntityID: strp("c1")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, hashing.ZeroHash, first.PrevHash)
	assert.Len(t, first.EntryHash, 64)

	second, err := c.Append(ctx, Record{Action: "complaint.submit", EntityType: "complaint", EntityID: strp("k1")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, first.EntryHash, second.PrevHash)
}

func TestAppendRejectsEmptyAction(t *testing.T) {
	c, _ := newTestChain()
	_, err := c.Append(context.Background(), Record{EntityType: "consent"})
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestVerifyCleanChain(t *testing.T) {
	c, _ := newTestChain()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := c.Append(ctx, Record{Action: "sync.accept", EntityType: "sync_event", EntityID: strp("e")})
		require.NoError(t, err)
	}

	res, err := c.Verify(ctx, 1, 0)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, int64(5), res.Checked)
	assert.Zero(t, res.FirstBrokenSeq)
}

func TestVerifyDetectsTamperedContent(t *testing.T) {
	c, store := newTestChain()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := c.Append(ctx, Record{Action: "sync.accept", EntityType: "sync_event"})
		require.NoError(t, err)
	}

	// Rewrite entry 3 in place; its stored hash no longer matches.
	store.entries[2].Action = "sync.reject"

	res, err := c.Verify(ctx, 1, 0)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, int64(3), res.FirstBrokenSeq)
}

func TestVerifyDetectsBrokenLink(t *testing.T) {
	c, store := newTestChain()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Append(ctx, Record{Action: "sync.accept", EntityType: "sync_event"})
		require.NoError(t, err)
	}

	// Recompute entry 2's hash after tampering so only the link to entry 3
	// breaks.
	store.entries[1].Action = "sync.reject"
	h, err := entryDigest(&store.entries[1])
	require.NoError(t, err)
	store.entries[1].EntryHash = h

	res, err := c.Verify(ctx, 1, 0)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, int64(3), res.FirstBrokenSeq)
}

func TestVerifyEmptyRange(t *testing.T) {
	c, _ := newTestChain()
	res, err := c.Verify(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Zero(t, res.Checked)
}

func TestVerifyMidChainRange(t *testing.T) {
	c, _ := newTestChain()
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := c.Append(ctx, Record{Action: "sync.accept", EntityType: "sync_event"})
		require.NoError(t, err)
	}

	res, err := c.Verify(ctx, 3, 5)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, int64(3), res.Checked)
}

func TestEntityTrail(t *testing.T) {
	c, _ := newTestChain()
	ctx := context.Background()
	_, err := c.Append(ctx, Record{Action: "complaint.submit", EntityType: "complaint", EntityID: strp("k1")})
	require.NoError(t, err)
	_, err = c.Append(ctx, Record{Action: "consent.grant", EntityType: "consent", EntityID: strp("c1")})
	require.NoError(t, err)
	_, err = c.Append(ctx, Record{Action: "complaint.resolve", EntityType: "complaint", EntityID: strp("k1")})
	require.NoError(t, err)

	trail, err := c.EntityTrail(ctx, "complaint", "k1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "complaint.submit", trail[0].Action)
	assert.Equal(t, "complaint.resolve", trail[1].Action)
}
