package repository

import (
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"calendar-sync-api/core/database"
	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/meeting/entity"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "user_id", "tenant_id", "connection_id", "provider", "external_id", "title",
	"start_time", "end_time", "attendees", "meeting_url", "location", "description", "is_deleted", "deleted_at",
	"sync_status", "last_calendar_sync", "recall_bot_id", "recall_status", "recall_error", "transcript",
	"created_at", "updated_at"}

func newMock(t *testing.T) (MeetingRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewMeetingRepository(database.New(db)), mock
}

func meetingRow(id, userID uuid.UUID, externalID string, deleted bool, extra ...driver.Value) []driver.Value {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	row := []driver.Value{id.String(), userID.String(), uuid.NewString(), nil, "calendly", externalID, "Review",
		now, now.Add(30 * time.Minute), []byte(`[]`), "https://zoom.us/j/1", nil, nil, deleted, nil,
		"active", now, nil, nil, nil, nil, now, now}
	return append(row, extra...)
}

func TestUpsertInsertsNewRow(t *testing.T) {
	repo, mock := newMock(t)
	id, userID := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO meetings AS m`)).
		WillReturnRows(sqlmock.NewRows(append(columns, "inserted")).AddRow(meetingRow(id, userID, "calendly_E1", false, true)...))

	res, err := repo.Upsert(t.Context(), dto.Scope{UserID: userID, Provider: coreEntity.ProviderCalendly},
		&dto.MeetingEvent{ExternalID: "calendly_E1", Title: "Review"}, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.False(t, res.Skipped)
	assert.Equal(t, id, res.Meeting.ID)
	assert.Empty(t, res.Meeting.Attendees)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOnDeletedKeyIsSkipped(t *testing.T) {
	repo, mock := newMock(t)
	id, userID := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO meetings AS m`)).
		WillReturnRows(sqlmock.NewRows(append(columns, "inserted")))
	mock.ExpectQuery(`SELECT .+ FROM meetings\s+WHERE user_id = \$1 AND provider = \$2 AND external_id = \$3`).
		WithArgs(userID.String(), "calendly", "calendly_E1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(meetingRow(id, userID, "calendly_E1", true)...))

	res, err := repo.Upsert(t.Context(), dto.Scope{UserID: userID, Provider: coreEntity.ProviderCalendly},
		&dto.MeetingEvent{ExternalID: "calendly_E1"}, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.True(t, res.Meeting.IsDeleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTombstoneOfMissingKeyIsNotFound(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE meetings SET is_deleted = true`)).
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.Tombstone(t.Context(), entity.Key{UserID: uuid.New(), Provider: coreEntity.ProviderGoogle, ExternalID: "g1"}, time.Now())
	assert.True(t, errors.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachBotRequiresFreeSlot(t *testing.T) {
	repo, mock := newMock(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE meetings SET recall_bot_id = $2`)).
		WithArgs(id.String(), "bot-1", entity.RecallStatusRecording).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AttachBot(t.Context(), id, "bot-1", entity.RecallStatusRecording)
	assert.True(t, errors.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountQualifyingTranscriptsExcludesFailureReasons(t *testing.T) {
	repo, mock := newMock(t)
	userID := uuid.New()

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM meetings.+LENGTH\(BTRIM\(transcript, \$4\)\) >= \$2`).
		WithArgs(userID.String(), 100, sqlmock.AnyArg(), " \t\n\r\v\f").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountQualifyingTranscripts(t.Context(), userID, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
