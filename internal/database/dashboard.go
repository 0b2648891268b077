package database

import (
	"context"
	"fmt"
	"time"
)

// Materialized views over aggregated_events. Every view repeats the
// k-anonymity HAVING clause so a view can never expose a bucket the base
// query would suppress; the threshold is inlined at creation time.
var dashboardViewDDL = map[string]string{
	"mv_health_trends": `CREATE MATERIALIZED VIEW IF NOT EXISTS mv_health_trends AS
		SELECT event_type, category, date_trunc('day', time_bucket) AS day,
		       geo_cell, SUM(count) AS total
		FROM aggregated_events
		WHERE event_type IN ('triage_completed', 'triage_emergency', 'daily_wellness_logged', 'vaccination_recorded')
		GROUP BY event_type, category, day, geo_cell
		HAVING SUM(count) >= %d`,

	"mv_complaint_stats": `CREATE MATERIALIZED VIEW IF NOT EXISTS mv_complaint_stats AS
		SELECT category, date_trunc('day', time_bucket) AS day,
		       geo_cell, event_type, SUM(count) AS total
		FROM aggregated_events
		WHERE event_type IN ('complaint_submitted', 'complaint_resolved', 'complaint_escalated')
		GROUP BY category, day, geo_cell, event_type
		HAVING SUM(count) >= %d`,

	"mv_neuro_screenings": `CREATE MATERIALIZED VIEW IF NOT EXISTS mv_neuro_screenings AS
		SELECT age_bucket, gender, date_trunc('week', time_bucket) AS week,
		       geo_cell, SUM(count) AS total
		FROM aggregated_events
		WHERE event_type = 'neuroscreen_completed'
		GROUP BY age_bucket, gender, week, geo_cell
		HAVING SUM(count) >= %d`,

	"mv_tele_activity": `CREATE MATERIALIZED VIEW IF NOT EXISTS mv_tele_activity AS
		SELECT event_type, date_trunc('day', time_bucket) AS day,
		       geo_cell, SUM(count) AS total
		FROM aggregated_events
		WHERE event_type IN ('tele_request_created', 'tele_consultation_completed')
		GROUP BY event_type, day, geo_cell
		HAVING SUM(count) >= %d`,
}

// DashboardViewNames lists the managed views in refresh order.
var DashboardViewNames = []string{
	"mv_health_trends", "mv_complaint_stats", "mv_neuro_screenings", "mv_tele_activity",
}

// CreateDashboardViews materializes all dashboard views with the given
// k-anonymity threshold, plus the unique indexes CONCURRENTLY refresh needs.
func (s *Store) CreateDashboardViews(ctx context.Context, k int64) error {
	for _, name := range DashboardViewNames {
		stmt := fmt.Sprintf(dashboardViewDDL[name], k)
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create view %s: %w", name, err)
		}
	}
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_mv_health_trends
			ON mv_health_trends (event_type, category, day, geo_cell)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_mv_complaint_stats
			ON mv_complaint_stats (category, day, geo_cell, event_type)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_mv_neuro_screenings
			ON mv_neuro_screenings (age_bucket, gender, week, geo_cell)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_mv_tele_activity
			ON mv_tele_activity (event_type, day, geo_cell)`,
	}
	for _, stmt := range indexes {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create view index: %w", err)
		}
	}
	return nil
}

// RefreshDashboardView rebuilds one view without blocking readers.
func (s *Store) RefreshDashboardView(ctx context.Context, name string) error {
	if _, ok := dashboardViewDDL[name]; !ok {
		return fmt.Errorf("unknown dashboard view %q", name)
	}
	_, err := s.q.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY `+name)
	if err != nil {
		return fmt.Errorf("refresh view %s: %w", name, err)
	}
	return nil
}

// DashboardRow is one pre-aggregated, k-filtered view row.
type DashboardRow struct {
	EventType string    `json:"event_type,omitempty"`
	Category  string    `json:"category,omitempty"`
	AgeBucket string    `json:"age_bucket,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	Period    time.Time `json:"period"`
	GeoCell   string    `json:"geo_cell"`
	Total     int64     `json:"total"`
}

func (s *Store) QueryHealthTrends(ctx context.Context, geoCell string, from, to time.Time) ([]DashboardRow, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT event_type, category, day, geo_cell, total FROM mv_health_trends
		 WHERE ($1 = '' OR geo_cell = $1) AND day >= $2 AND day < $3
		 ORDER BY day ASC`, geoCell, from, to)
	if err != nil {
		return nil, fmt.Errorf("query health trends: %w", err)
	}
	defer rows.Close()

	var out []DashboardRow
	for rows.Next() {
		var r DashboardRow
		if err := rows.Scan(&r.EventType, &r.Category, &r.Period, &r.GeoCell, &r.Total); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) QueryComplaintStats(ctx context.Context, geoCell string, from, to time.Time) ([]DashboardRow, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT category, day, geo_cell, event_type, total FROM mv_complaint_stats
		 WHERE ($1 = '' OR geo_cell = $1) AND day >= $2 AND day < $3
		 ORDER BY day ASC`, geoCell, from, to)
	if err != nil {
		return nil, fmt.Errorf("query complaint stats: %w", err)
	}
	defer rows.Close()

	var out []DashboardRow
	for rows.Next() {
		var r DashboardRow
		if err := rows.Scan(&r.Category, &r.Period, &r.GeoCell, &r.EventType, &r.Total); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) QueryNeuroScreenings(ctx context.Context, geoCell string, from, to time.Time) ([]DashboardRow, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT age_bucket, gender, week, geo_cell, total FROM mv_neuro_screenings
		 WHERE ($1 = '' OR geo_cell = $1) AND week >= $2 AND week < $3
		 ORDER BY week ASC`, geoCell, from, to)
	if err != nil {
		return nil, fmt.Errorf("query neuro screenings: %w", err)
	}
	defer rows.Close()

	var out []DashboardRow
	for rows.Next() {
		var r DashboardRow
		if err := rows.Scan(&r.AgeBucket, &r.Gender, &r.Period, &r.GeoCell, &r.Total); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) QueryTeleActivity(ctx context.Context, geoCell string, from, to time.Time) ([]DashboardRow, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT event_type, day, geo_cell, total FROM mv_tele_activity
		 WHERE ($1 = '' OR geo_cell = $1) AND day >= $2 AND day < $3
		 ORDER BY day ASC`, geoCell, from, to)
	if err != nil {
		return nil, fmt.Errorf("query tele activity: %w", err)
	}
	defer rows.Close()

	var out []DashboardRow
	for rows.Next() {
		var r DashboardRow
		if err := rows.Scan(&r.EventType, &r.Period, &r.GeoCell, &r.Total); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
