package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryLockReleasesOnSameSession(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	store := NewWithDB(db)

	mock.ExpectQuery(`pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`pg_advisory_unlock`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	release, err := store.TryAdvisoryLock(ctx, "sla_escalation")
	require.NoError(t, err)
	require.NotNil(t, release)

	require.NoError(t, release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockHeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	store := NewWithDB(db)

	// The loser never issues an unlock; its connection goes straight back
	// to the pool.
	mock.ExpectQuery(`pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	release, err := store.TryAdvisoryLock(context.Background(), "sla_escalation")
	require.NoError(t, err)
	assert.Nil(t, release)
	assert.NoError(t, mock.ExpectationsWereMet())
}
