// Package dashboard serves the officer-facing pre-aggregated views. All
// numbers come from materialized views over the k-filtered aggregates, so a
// dashboard can never show a smaller population than the analytics API
// would.
package dashboard

import (
	"context"
	"log"
	"time"

	"github.com/sahay/backend/internal/database"
	"github.com/sahay/backend/internal/metrics"
)

type Service struct {
	store   *database.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(store *database.Store, m *metrics.Metrics) *Service {
	return &Service{store: store, metrics: m, now: time.Now}
}

// Init creates the materialized views. Called once at boot, after Migrate.
func (s *Service) Init(ctx context.Context, kThreshold int) error {
	return s.store.CreateDashboardViews(ctx, int64(kThreshold))
}

// RefreshAll rebuilds every view and records each refresh. One failing view
// does not stop the others.
func (s *Service) RefreshAll(ctx context.Context) error {
	var firstErr error
	for _, name := range database.DashboardViewNames {
		if err := s.store.RefreshDashboardView(ctx, name); err != nil {
			log.Printf("dashboard: refresh %s failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.store.LogViewRefresh(ctx, name, s.now().UTC()); err != nil {
			log.Printf("dashboard: log refresh %s failed: %v", name, err)
		}
		if s.metrics != nil {
			s.metrics.ViewRefreshes.WithLabelValues(name).Inc()
		}
	}
	return firstErr
}

// Stats reports view freshness for the dashboard header.
type Stats struct {
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	FreshWithin     string     `json:"fresh_within"`
	Fresh           bool       `json:"fresh"`
}

// freshWindow is how recent the newest refresh must be for the dashboard to
// call its numbers fresh.
const freshWindow = 15 * time.Minute

// Stats returns the newest refresh time across all views.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	last, err := s.store.LastViewRefresh(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{FreshWithin: freshWindow.String()}
	if !last.IsZero() {
		out.LastRefreshedAt = &last
		out.Fresh = s.now().UTC().Sub(last) <= freshWindow
	}
	return out, nil
}

// Window defaults the query range to the last 30 days.
func normalizeWindow(from, to time.Time, now time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-30 * 24 * time.Hour)
	}
	return from, to
}

func (s *Service) HealthTrends(ctx context.Context, geoCell string, from, to time.Time) ([]database.DashboardRow, error) {
	from, to = normalizeWindow(from, to, s.now().UTC())
	return s.store.QueryHealthTrends(ctx, geoCell, from, to)
}

func (s *Service) ComplaintStats(ctx context.Context, geoCell string, from, to time.Time) ([]database.DashboardRow, error) {
	from, to = normalizeWindow(from, to, s.now().UTC())
	return s.store.QueryComplaintStats(ctx, geoCell, from, to)
}

func (s *Service) NeuroScreenings(ctx context.Context, geoCell string, from, to time.Time) ([]database.DashboardRow, error) {
	from, to = normalizeWindow(from, to, s.now().UTC())
	return s.store.QueryNeuroScreenings(ctx, geoCell, from, to)
}

func (s *Service) TeleActivity(ctx context.Context, geoCell string, from, to time.Time) ([]database.DashboardRow, error) {
	from, to = normalizeWindow(from, to, s.now().UTC())
	return s.store.QueryTeleActivity(ctx, geoCell, from, to)
}
