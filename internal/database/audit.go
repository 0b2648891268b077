package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sahay/backend/internal/core"
)

// LastAuditEntryForUpdate returns the chain head under a row lock so that
// concurrent appends serialize. Nil when the chain is empty.
func (s *Store) LastAuditEntryForUpdate(ctx context.Context) (*core.AuditEntry, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT seq, actor_user_id, action, entity_type, entity_id, ip, device_id, ts, prev_hash, entry_hash
		 FROM audit_log ORDER BY seq DESC LIMIT 1 FOR UPDATE`)
	return scanAuditEntry(row)
}

func scanAuditEntry(row *sql.Row) (*core.AuditEntry, error) {
	var e core.AuditEntry
	err := row.Scan(&e.Seq, &e.ActorUserID, &e.Action, &e.EntityType, &e.EntityID,
		&e.IP, &e.DeviceID, &e.TS, &e.PrevHash, &e.EntryHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}
	return &e, nil
}

// InsertAuditEntry appends one pre-hashed entry. Seq is assigned by the
// caller, not the sequence, so the chain order and row order always agree.
func (s *Store) InsertAuditEntry(ctx context.Context, e *core.AuditEntry) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO audit_log (seq, actor_user_id, action, entity_type, entity_id, ip, device_id, ts, prev_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.Seq, e.ActorUserID, e.Action, e.EntityType, e.EntityID, e.IP, e.DeviceID, e.TS, e.PrevHash, e.EntryHash)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	// BIGSERIAL keeps allocating even with explicit values; advance it so a
	// future default insert cannot collide.
	_, err = s.q.ExecContext(ctx,
		`SELECT setval(pg_get_serial_sequence('audit_log', 'seq'), $1, true)`, e.Seq)
	if err != nil {
		return fmt.Errorf("advance audit seq: %w", err)
	}
	return nil
}

// AuditEntriesRange streams entries with from <= seq <= to in ascending
// order. to <= 0 means no upper bound.
func (s *Store) AuditEntriesRange(ctx context.Context, from, to int64) ([]core.AuditEntry, error) {
	query := `SELECT seq, actor_user_id, action, entity_type, entity_id, ip, device_id, ts, prev_hash, entry_hash
		 FROM audit_log WHERE seq >= $1`
	args := []interface{}{from}
	if to > 0 {
		query += ` AND seq <= $2`
		args = append(args, to)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit range: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var e core.AuditEntry
		if err := rows.Scan(&e.Seq, &e.ActorUserID, &e.Action, &e.EntityType, &e.EntityID,
			&e.IP, &e.DeviceID, &e.TS, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AuditEntriesForEntity lists the trail for one entity, oldest first.
func (s *Store) AuditEntriesForEntity(ctx context.Context, entityType, entityID string) ([]core.AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT seq, actor_user_id, action, entity_type, entity_id, ip, device_id, ts, prev_hash, entry_hash
		 FROM audit_log WHERE entity_type = $1 AND entity_id = $2 ORDER BY seq ASC`,
		entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("audit for entity: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var e core.AuditEntry
		if err := rows.Scan(&e.Seq, &e.ActorUserID, &e.Action, &e.EntityType, &e.EntityID,
			&e.IP, &e.DeviceID, &e.TS, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
