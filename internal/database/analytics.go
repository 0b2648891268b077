package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sahay/backend/internal/core"
)

func (s *Store) InsertAnalyticsEvent(ctx context.Context, e *core.AnalyticsEvent) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO analytics_events (id, audit_user_id, event_type, payload_json, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.AuditUserID, e.EventType, e.PayloadJSON, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

// IncrementAggregate adds n to one bucketed count row, creating it on first
// sight. The composite key makes the flush idempotent-per-batch at row level.
func (s *Store) IncrementAggregate(ctx context.Context, a *core.AggregatedEvent) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO aggregated_events
			(event_type, category, time_bucket, geo_cell, age_bucket, gender, count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (event_type, category, time_bucket, geo_cell, age_bucket, gender)
		 DO UPDATE SET
			count = aggregated_events.count + EXCLUDED.count,
			updated_at = EXCLUDED.updated_at`,
		a.EventType, a.Category, a.TimeBucket, a.GeoCell, a.AgeBucket, a.Gender, a.Count, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("increment aggregate: %w", err)
	}
	return nil
}

// AggregateFilter narrows a k-anonymous query. Zero values mean "any".
type AggregateFilter struct {
	EventType string
	Category  string
	GeoCell   string
	From      time.Time
	To        time.Time
	MinCount  int64 // k-anonymity threshold, applied in SQL
}

// QueryAggregates returns bucketed rows with count >= MinCount only. Rows
// below the threshold never leave the database layer.
func (s *Store) QueryAggregates(ctx context.Context, f AggregateFilter) ([]core.AggregatedEvent, error) {
	query := `SELECT event_type, category, time_bucket, geo_cell, age_bucket, gender, count, updated_at
		 FROM aggregated_events WHERE count >= $1`
	args := []interface{}{f.MinCount}

	n := 2
	add := func(clause string, v interface{}) {
		query += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, v)
		n++
	}
	if f.EventType != "" {
		add("event_type", f.EventType)
	}
	if f.Category != "" {
		add("category", f.Category)
	}
	if f.GeoCell != "" {
		add("geo_cell", f.GeoCell)
	}
	if !f.From.IsZero() {
		query += fmt.Sprintf(" AND time_bucket >= $%d", n)
		args = append(args, f.From)
		n++
	}
	if !f.To.IsZero() {
		query += fmt.Sprintf(" AND time_bucket < $%d", n)
		args = append(args, f.To)
		n++
	}
	query += " ORDER BY time_bucket ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var out []core.AggregatedEvent
	for rows.Next() {
		var a core.AggregatedEvent
		if err := rows.Scan(&a.EventType, &a.Category, &a.TimeBucket, &a.GeoCell,
			&a.AgeBucket, &a.Gender, &a.Count, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
