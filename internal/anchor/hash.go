// Package anchor mirrors complaint lifecycle hashes onto a blockchain
// registry. Only salted-free SHA-256 digests ever leave the service; the
// PII guard makes putting raw fields on chain a hard error, not a review
// comment.
package anchor

import (
	"encoding/hex"
	"time"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/hashing"
)

// disallowedKeys must never appear in a payload that is about to be hashed
// for anchoring. The hash itself would not leak them, but their presence
// means a caller built the payload from the wrong source.
var disallowedKeys = map[string]bool{
	"user_id": true, "username": true, "phone": true, "email": true,
	"complaint_id": true, "full_name": true, "name": true, "address": true,
	"gps": true, "latitude": true, "longitude": true, "evidence": true,
	"filename": true, "url": true, "comment": true, "text": true,
	"description": true,
}

// guardPII rejects payloads carrying identifying keys at any depth.
func guardPII(v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, inner := range t {
			if disallowedKeys[k] {
				return core.Ef(core.KindValidation, "anchor payload contains disallowed key %q", k)
			}
			if err := guardPII(inner); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, inner := range t {
			if err := guardPII(inner); err != nil {
				return err
			}
		}
	}
	return nil
}

// hashPayload applies the PII guard and returns the canonical SHA-256.
func hashPayload(payload map[string]interface{}) (string, error) {
	if err := guardPII(payload); err != nil {
		return "", err
	}
	return hashing.Sum256(payload)
}

// Hashes is the triple anchored for one complaint.
type Hashes struct {
	ComplaintHash string
	SLAHash       string
	StatusHash    string
}

// BuildHashes derives the anchor triple from the complaint row. The inputs
// are structural facts only: category, timestamps, status, level. The
// encrypted payload is hashed as an opaque blob.
func BuildHashes(c *core.Complaint) (*Hashes, error) {
	complaintHash, err := hashPayload(map[string]interface{}{
		"category":     c.Category,
		"created_at":   c.CreatedAt.UTC().Unix(),
		"payload_hash": hashing.Sum256Bytes(c.PayloadEncrypted),
	})
	if err != nil {
		return nil, err
	}

	slaHash, err := hashPayload(map[string]interface{}{
		"category":         c.Category,
		"sla_deadline":     c.SLADeadline.UTC().Unix(),
		"escalation_level": string(c.EscalationLevel),
	})
	if err != nil {
		return nil, err
	}

	statusPayload := map[string]interface{}{
		"status":           string(c.Status),
		"escalation_level": string(c.EscalationLevel),
		"updated_at":       c.UpdatedAt.UTC().Unix(),
	}
	if c.ClosureHash != nil {
		statusPayload["closure_hash"] = *c.ClosureHash
	}
	statusHash, err := hashPayload(statusPayload)
	if err != nil {
		return nil, err
	}

	return &Hashes{
		ComplaintHash: complaintHash,
		SLAHash:       slaHash,
		StatusHash:    statusHash,
	}, nil
}

// hexToBytes32 converts a 64-char hex digest to the contract's bytes32.
func hexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, core.Ef(core.KindValidation, "not a 32-byte hex digest: %q", s)
	}
	copy(out[:], b)
	return out, nil
}

// createdAtWindow bounds how stale or futuristic an anchored complaint may
// be; the contract enforces the same rule on chain.
const (
	maxCreatedAtAge  = 30 * 24 * time.Hour
	maxCreatedAtSkew = time.Hour
)

// validateCreatedAt rejects timestamps the contract would revert on, before
// gas is spent.
func validateCreatedAt(createdAt, now time.Time) error {
	if createdAt.Before(now.Add(-maxCreatedAtAge)) {
		return core.E(core.KindValidation, "complaint too old to anchor")
	}
	if createdAt.After(now.Add(maxCreatedAtSkew)) {
		return core.E(core.KindValidation, "complaint created_at is in the future")
	}
	return nil
}
