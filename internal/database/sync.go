package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sahay/backend/internal/core"
)

// GetSyncEvent returns a previously recorded event by its idempotency key.
func (s *Store) GetSyncEvent(ctx context.Context, eventID string) (*core.SyncEvent, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT event_id, user_id, device_id, entity_type, operation, client_time, server_time, payload, outcome
		 FROM sync_events WHERE event_id = $1`, eventID)

	var e core.SyncEvent
	err := row.Scan(&e.EventID, &e.UserID, &e.DeviceID, &e.EntityType, &e.Operation,
		&e.ClientTime, &e.ServerTime, &e.Payload, &e.Outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan sync event: %w", err)
	}
	return &e, nil
}

// RecordSyncEvent stores the envelope and its outcome. ON CONFLICT DO NOTHING
// keeps the first recorded outcome authoritative for replays.
func (s *Store) RecordSyncEvent(ctx context.Context, e *core.SyncEvent) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO sync_events (event_id, user_id, device_id, entity_type, operation, client_time, server_time, payload, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.UserID, e.DeviceID, e.EntityType, e.Operation,
		e.ClientTime, e.ServerTime, e.Payload, e.Outcome)
	if err != nil {
		return fmt.Errorf("record sync event: %w", err)
	}
	return nil
}

// ============================================================================
// APPEND-ONLY TRACKING ENTITIES
// ============================================================================

func (s *Store) InsertVitalsLog(ctx context.Context, id, userID, kind, value string, unit *string, measuredAt time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO vitals_logs (id, user_id, kind, value, unit, measured_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID, kind, value, unit, measuredAt)
	if err != nil {
		return fmt.Errorf("insert vitals log: %w", err)
	}
	return nil
}

func (s *Store) InsertMoodLog(ctx context.Context, id, userID string, moodScale int, loggedAt time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO mood_logs (id, user_id, mood_scale, logged_at) VALUES ($1, $2, $3, $4)`,
		id, userID, moodScale, loggedAt)
	if err != nil {
		return fmt.Errorf("insert mood log: %w", err)
	}
	return nil
}

func (s *Store) InsertWaterLog(ctx context.Context, id, userID string, amountML int, loggedAt time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO water_logs (id, user_id, amount_ml, logged_at) VALUES ($1, $2, $3, $4)`,
		id, userID, amountML, loggedAt)
	if err != nil {
		return fmt.Errorf("insert water log: %w", err)
	}
	return nil
}
