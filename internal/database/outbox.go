package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sahay/backend/internal/core"
)

func (s *Store) EnqueueMessage(ctx context.Context, m *core.OutboundMessage) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO outbound_messages (id, user_id, channel, payload, status, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.UserID, m.Channel, m.Payload, string(m.Status), m.Attempts, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	return nil
}

// ClaimPendingMessages locks a batch of pending rows for delivery. SKIP
// LOCKED lets multiple dispatchers drain the table without contention.
func (s *Store) ClaimPendingMessages(ctx context.Context, limit int) ([]core.OutboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, user_id, channel, payload, status, attempts, created_at
		 FROM outbound_messages
		 WHERE status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending messages: %w", err)
	}
	defer rows.Close()

	var out []core.OutboundMessage
	for rows.Next() {
		var m core.OutboundMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.Channel, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkMessage(ctx context.Context, id string, status core.MessageStatus, attempts int) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE outbound_messages SET status = $2, attempts = $3 WHERE id = $1`,
		id, string(status), attempts)
	if err != nil {
		return fmt.Errorf("mark message: %w", err)
	}
	return nil
}

// ============================================================================
// MATERIALIZED VIEW REFRESH LOG
// ============================================================================

func (s *Store) LogViewRefresh(ctx context.Context, viewName string, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO mv_refresh_log (view_name, refreshed_at) VALUES ($1, $2)`,
		viewName, at)
	if err != nil {
		return fmt.Errorf("log view refresh: %w", err)
	}
	return nil
}

// LastViewRefresh returns the most recent refresh time across all views, or
// the zero time when no refresh has run yet.
func (s *Store) LastViewRefresh(ctx context.Context) (time.Time, error) {
	var t *time.Time
	err := s.q.QueryRowContext(ctx,
		`SELECT MAX(refreshed_at) FROM mv_refresh_log`).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("last view refresh: %w", err)
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}
