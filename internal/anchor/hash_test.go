package anchor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/core"
)

func sampleComplaint() *core.Complaint {
	return &core.Complaint{
		ID:               "c-1",
		Category:         "medication_error",
		PayloadEncrypted: []byte("blob"),
		Status:           core.ComplaintSubmitted,
		EscalationLevel:  core.LevelDistrict,
		CreatedAt:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		SLADeadline:      time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestBuildHashesDeterministic(t *testing.T) {
	h1, err := BuildHashes(sampleComplaint())
	require.NoError(t, err)
	h2, err := BuildHashes(sampleComplaint())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1.ComplaintHash, 64)
	assert.Len(t, h1.SLAHash, 64)
	assert.Len(t, h1.StatusHash, 64)
	assert.NotEqual(t, h1.ComplaintHash, h1.SLAHash)
}

func TestStatusHashChangesWithLifecycle(t *testing.T) {
	c := sampleComplaint()
	before, err := BuildHashes(c)
	require.NoError(t, err)

	c.Status = core.ComplaintResolved
	after, err := BuildHashes(c)
	require.NoError(t, err)

	assert.Equal(t, before.ComplaintHash, after.ComplaintHash)
	assert.NotEqual(t, before.StatusHash, after.StatusHash)

	closure := "abc123"
	c.Status = core.ComplaintClosed
	c.ClosureHash = &closure
	closed, err := BuildHashes(c)
	require.NoError(t, err)
	assert.NotEqual(t, after.StatusHash, closed.StatusHash)
}

func TestPIIGuardRejectsDisallowedKeys(t *testing.T) {
	for _, key := range []string{"user_id", "phone", "full_name", "gps", "description"} {
		_, err := hashPayload(map[string]interface{}{key: "x"})
		require.Error(t, err, key)
		assert.Equal(t, core.KindValidation, core.KindOf(err))
	}

	// Nested payloads are guarded too.
	_, err := hashPayload(map[string]interface{}{
		"outer": map[string]interface{}{"email": "a@b.c"},
	})
	require.Error(t, err)

	_, err = hashPayload(map[string]interface{}{
		"list": []interface{}{map[string]interface{}{"latitude": 12.9}},
	})
	require.Error(t, err)

	_, err = hashPayload(map[string]interface{}{"category": "x", "status": "y"})
	assert.NoError(t, err)
}

func TestHexToBytes32(t *testing.T) {
	h, err := BuildHashes(sampleComplaint())
	require.NoError(t, err)

	b, err := hexToBytes32(h.ComplaintHash)
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, b)

	_, err = hexToBytes32("zz")
	require.Error(t, err)
	_, err = hexToBytes32("abcd")
	require.Error(t, err)
}

func TestComplaintHashStableAcrossLifecycle(t *testing.T) {
	// The complaint hash keys the on-chain registry entry, so it must not
	// move when the complaint's status or escalation level does.
	before, err := BuildHashes(sampleComplaint())
	require.NoError(t, err)

	c := sampleComplaint()
	c.Status = core.ComplaintResolved
	c.EscalationLevel = core.LevelState
	c.UpdatedAt = c.UpdatedAt.Add(48 * time.Hour)
	after, err := BuildHashes(c)
	require.NoError(t, err)

	assert.Equal(t, before.ComplaintHash, after.ComplaintHash)
	assert.NotEqual(t, before.StatusHash, after.StatusHash)
}

func TestValidateCreatedAtWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.NoError(t, validateCreatedAt(now.Add(-time.Hour), now))
	assert.NoError(t, validateCreatedAt(now.Add(30*time.Minute), now))

	err := validateCreatedAt(now.Add(-31*24*time.Hour), now)
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	err = validateCreatedAt(now.Add(2*time.Hour), now)
	require.Error(t, err)
}
