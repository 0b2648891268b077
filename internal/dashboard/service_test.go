package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/database"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewService(database.NewWithDB(db), nil)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestRefreshAllRefreshesEveryView(t *testing.T) {
	s, mock := newTestService(t)

	for _, name := range database.DashboardViewNames {
		mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY ` + name).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO mv_refresh_log`).
			WithArgs(name, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	require.NoError(t, s.RefreshAll(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshAllContinuesPastFailure(t *testing.T) {
	s, mock := newTestService(t)

	// First view fails; the remaining three still refresh.
	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY mv_health_trends`).
		WillReturnError(errors.New("deadlock detected"))
	for _, name := range database.DashboardViewNames[1:] {
		mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY ` + name).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO mv_refresh_log`).
			WithArgs(name, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	err := s.RefreshAll(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsFreshness(t *testing.T) {
	s, mock := newTestService(t)

	recent := time.Date(2026, 3, 1, 11, 50, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT MAX\(refreshed_at\) FROM mv_refresh_log`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(recent))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st.LastRefreshedAt)
	assert.True(t, st.Fresh)
	assert.Equal(t, recent, *st.LastRefreshedAt)
}

func TestStatsStale(t *testing.T) {
	s, mock := newTestService(t)

	old := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT MAX\(refreshed_at\) FROM mv_refresh_log`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(old))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Fresh)
}

func TestStatsNoRefreshYet(t *testing.T) {
	s, mock := newTestService(t)

	mock.ExpectQuery(`SELECT MAX\(refreshed_at\) FROM mv_refresh_log`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st.LastRefreshedAt)
	assert.False(t, st.Fresh)
}

func TestQueryWindowDefaults(t *testing.T) {
	s, mock := newTestService(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(-30 * 24 * time.Hour)
	mock.ExpectQuery(`SELECT event_type, category, day, geo_cell, total FROM mv_health_trends`).
		WithArgs("pincode_560xxx", from, now).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "category", "day", "geo_cell", "total"}).
			AddRow("triage_completed", "self_care", now.Truncate(24*time.Hour), "pincode_560xxx", int64(12)))

	rows, err := s.HealthTrends(context.Background(), "pincode_560xxx", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(12), rows[0].Total)
	require.NoError(t, mock.ExpectationsWereMet())
}
