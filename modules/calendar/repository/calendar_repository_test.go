package repository

import (
	"regexp"
	"testing"

	"calendar-sync-api/core/database"
	"calendar-sync-api/core/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (CalendarRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCalendarRepository(database.New(db)), mock
}

func TestActivateConnectionDeactivatesEveryProvider(t *testing.T) {
	repo, mock := newMock(t)
	userID, calendlyID, googleID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM calendar_connections\s+WHERE user_id = \$1\s+ORDER BY id\s+FOR UPDATE`).
		WithArgs(userID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(calendlyID.String()).AddRow(googleID.String()))
	mock.ExpectQuery(`UPDATE calendar_connections\s+SET is_active = false, updated_at = NOW\(\)\s+WHERE user_id = \$1 AND id <> \$2 AND is_active = true`).
		WithArgs(userID.String(), calendlyID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(googleID.String()))
	mock.ExpectExec(regexp.QuoteMeta(`SET is_active = true, last_error = NULL`)).
		WithArgs(calendlyID.String(), userID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deactivated, err := repo.ActivateConnection(t.Context(), userID, calendlyID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{googleID}, deactivated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateConnectionOfAnotherUserIsNotFound(t *testing.T) {
	repo, mock := newMock(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM calendar_connections`).
		WithArgs(userID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.NewString()))
	mock.ExpectRollback()

	_, err := repo.ActivateConnection(t.Context(), userID, uuid.New())
	assert.True(t, errors.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
