package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sahay/backend/internal/core"
)

const anchorColumns = `id, complaint_id, complaint_hash, sla_hash, status_hash,
	status_nonce, tx_hash, status, created_at, last_updated_at`

// UpsertChainAnchor keeps exactly one anchor row per complaint; re-anchoring
// bumps the nonce and resets status to pending.
func (s *Store) UpsertChainAnchor(ctx context.Context, a *core.ChainAnchor) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO chain_anchors (`+anchorColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (complaint_id) DO UPDATE SET
			complaint_hash = EXCLUDED.complaint_hash,
			sla_hash = EXCLUDED.sla_hash,
			status_hash = EXCLUDED.status_hash,
			status_nonce = EXCLUDED.status_nonce,
			tx_hash = EXCLUDED.tx_hash,
			status = EXCLUDED.status,
			last_updated_at = EXCLUDED.last_updated_at`,
		a.ID, a.ComplaintID, a.ComplaintHash, a.SLAHash, a.StatusHash,
		a.StatusNonce, a.TxHash, string(a.Status), a.CreatedAt, a.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert chain anchor: %w", err)
	}
	return nil
}

func (s *Store) GetChainAnchor(ctx context.Context, complaintID string) (*core.ChainAnchor, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+anchorColumns+` FROM chain_anchors WHERE complaint_id = $1`, complaintID)
	return scanAnchor(row)
}

// GetChainAnchorForUpdate locks the anchor row so only one worker submits a
// transaction for the complaint at a time.
func (s *Store) GetChainAnchorForUpdate(ctx context.Context, complaintID string) (*core.ChainAnchor, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+anchorColumns+` FROM chain_anchors WHERE complaint_id = $1 FOR UPDATE`, complaintID)
	return scanAnchor(row)
}

func scanAnchor(row *sql.Row) (*core.ChainAnchor, error) {
	var a core.ChainAnchor
	err := row.Scan(&a.ID, &a.ComplaintID, &a.ComplaintHash, &a.SLAHash, &a.StatusHash,
		&a.StatusNonce, &a.TxHash, &a.Status, &a.CreatedAt, &a.LastUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chain anchor: %w", err)
	}
	return &a, nil
}

func (s *Store) UpdateAnchorStatus(ctx context.Context, complaintID string, status core.AnchorStatus, txHash *string, nonce uint64, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE chain_anchors
		 SET status = $2, tx_hash = $3, status_nonce = $4, last_updated_at = $5
		 WHERE complaint_id = $1`,
		complaintID, string(status), txHash, nonce, at)
	if err != nil {
		return fmt.Errorf("update anchor status: %w", err)
	}
	return nil
}

// ListAnchorsByStatus feeds the retry sweep.
func (s *Store) ListAnchorsByStatus(ctx context.Context, status core.AnchorStatus, limit int) ([]core.ChainAnchor, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+anchorColumns+` FROM chain_anchors
		 WHERE status = $1 ORDER BY last_updated_at ASC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list anchors: %w", err)
	}
	defer rows.Close()

	var out []core.ChainAnchor
	for rows.Next() {
		var a core.ChainAnchor
		if err := rows.Scan(&a.ID, &a.ComplaintID, &a.ComplaintHash, &a.SLAHash, &a.StatusHash,
			&a.StatusNonce, &a.TxHash, &a.Status, &a.CreatedAt, &a.LastUpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
