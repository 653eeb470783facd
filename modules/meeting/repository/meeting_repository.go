package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"calendar-sync-api/core/database"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/params"
	"calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/meeting/entity"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const meetingColumns = `id, user_id, tenant_id, connection_id, provider, external_id, title, start_time, end_time,
	attendees, meeting_url, location, description, is_deleted, deleted_at, sync_status, last_calendar_sync,
	recall_bot_id, recall_status, recall_error, transcript, created_at, updated_at`

// UpsertResult reports what an upsert did to the row keyed by (user, provider, external id).
type UpsertResult struct {
	Meeting  *entity.Meeting
	Inserted bool
	// Skipped is set when the key is tombstoned; deleted rows are never revived.
	Skipped bool
}

type MeetingRepository interface {
	Upsert(ctx context.Context, scope dto.Scope, ev *dto.MeetingEvent, syncedAt time.Time) (*UpsertResult, error)
	// Tombstone marks a live row deleted and returns it. It returns ErrRecordNotFound
	// when the key is absent or already deleted.
	Tombstone(ctx context.Context, key entity.Key, at time.Time) (*entity.Meeting, error)
	GetByKey(ctx context.Context, key entity.Key) (*entity.Meeting, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Meeting, error)
	GetForUser(ctx context.Context, userID, id uuid.UUID) (*entity.Meeting, error)
	GetByBotID(ctx context.Context, botID string) (*entity.Meeting, error)
	ListByUser(ctx context.Context, userID uuid.UUID, q params.QueryParams) ([]entity.Meeting, int, error)
	// AttachBot records a scheduled bot on a meeting that has none yet.
	AttachBot(ctx context.Context, id uuid.UUID, botID, status string) error
	// ApplyBotStatus moves the bot status from the value the caller read to update.Status.
	// It returns ErrRecordNotFound when a concurrent writer changed the status first.
	ApplyBotStatus(ctx context.Context, update dto.BotStatusUpdate, from *string) (*entity.Meeting, error)
	SetSyncStatus(ctx context.Context, id uuid.UUID, status entity.SyncStatus) error
	CountQualifyingTranscripts(ctx context.Context, userID uuid.UUID, minTranscriptLen int) (int, error)
}

type meetingRepository struct {
	db database.IDatabase
}

func NewMeetingRepository(db database.IDatabase) MeetingRepository {
	return &meetingRepository{db: db}
}

type upsertRow struct {
	entity.Meeting
	Inserted bool `db:"inserted"`
}

func (r *meetingRepository) Upsert(ctx context.Context, scope dto.Scope, ev *dto.MeetingEvent, syncedAt time.Time) (*UpsertResult, error) {
	// The conflict update never touches recall_* or transcript, and the WHERE clause
	// leaves tombstoned rows alone, in which case no row is returned.
	query := `
		INSERT INTO meetings AS m (user_id, tenant_id, connection_id, provider, external_id, title, start_time,
			end_time, attendees, meeting_url, location, description, sync_status, last_calendar_sync)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'active', $13)
		ON CONFLICT (user_id, provider, external_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			connection_id = EXCLUDED.connection_id,
			title = EXCLUDED.title,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			attendees = EXCLUDED.attendees,
			meeting_url = EXCLUDED.meeting_url,
			location = EXCLUDED.location,
			description = EXCLUDED.description,
			last_calendar_sync = EXCLUDED.last_calendar_sync,
			updated_at = NOW()
		WHERE m.is_deleted = false
		RETURNING ` + meetingColumns + `, (xmax = 0) AS inserted
	`
	var connectionID *uuid.UUID
	if scope.ConnectionID != uuid.Nil {
		id := scope.ConnectionID
		connectionID = &id
	}

	var row upsertRow
	err := r.db.GetContext(ctx, &row, query,
		scope.UserID, scope.TenantID, connectionID, scope.Provider, ev.ExternalID, ev.Title, ev.Start,
		ev.End, ev.Attendees, ev.MeetingURL, ev.Location, ev.Description, syncedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			existing, gerr := r.GetByKey(ctx, entity.Key{UserID: scope.UserID, Provider: scope.Provider, ExternalID: ev.ExternalID})
			if gerr != nil {
				return nil, gerr
			}
			return &UpsertResult{Meeting: existing, Skipped: true}, nil
		}
		logger.Error("MeetingRepository:Upsert", "user_id", scope.UserID, "external_id", ev.ExternalID, "error", err)
		return nil, err
	}
	m := row.Meeting
	return &UpsertResult{Meeting: &m, Inserted: row.Inserted}, nil
}

func (r *meetingRepository) Tombstone(ctx context.Context, key entity.Key, at time.Time) (*entity.Meeting, error) {
	return r.get(ctx, `
		UPDATE meetings SET is_deleted = true, deleted_at = $4, updated_at = NOW()
		WHERE user_id = $1 AND provider = $2 AND external_id = $3 AND is_deleted = false
		RETURNING `+meetingColumns, key.UserID, key.Provider, key.ExternalID, at)
}

func (r *meetingRepository) get(ctx context.Context, query string, args ...any) (*entity.Meeting, error) {
	var m entity.Meeting
	if err := r.db.GetContext(ctx, &m, query, args...); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrRecordNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *meetingRepository) GetByKey(ctx context.Context, key entity.Key) (*entity.Meeting, error) {
	return r.get(ctx, `SELECT `+meetingColumns+` FROM meetings
		WHERE user_id = $1 AND provider = $2 AND external_id = $3`, key.UserID, key.Provider, key.ExternalID)
}

func (r *meetingRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Meeting, error) {
	return r.get(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)
}

func (r *meetingRepository) GetForUser(ctx context.Context, userID, id uuid.UUID) (*entity.Meeting, error) {
	return r.get(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1 AND user_id = $2`, id, userID)
}

func (r *meetingRepository) GetByBotID(ctx context.Context, botID string) (*entity.Meeting, error) {
	return r.get(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE recall_bot_id = $1`, botID)
}

func (r *meetingRepository) ListByUser(ctx context.Context, userID uuid.UUID, q params.QueryParams) ([]entity.Meeting, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM meetings
		WHERE user_id = $1 AND is_deleted = false AND ($2 = '' OR title ILIKE '%' || $2 || '%')`,
		userID, q.Search); err != nil {
		return nil, 0, err
	}

	var meetings []entity.Meeting
	err := r.db.SelectContext(ctx, &meetings, `
		SELECT `+meetingColumns+` FROM meetings
		WHERE user_id = $1 AND is_deleted = false AND ($2 = '' OR title ILIKE '%' || $2 || '%')
		ORDER BY start_time DESC
		LIMIT $3 OFFSET $4`, userID, q.Search, q.PageSize, q.Offset())
	if err != nil {
		return nil, 0, err
	}
	return meetings, total, nil
}

func (r *meetingRepository) AttachBot(ctx context.Context, id uuid.UUID, botID, status string) error {
	res, err := r.db.ExecResultContext(ctx, `
		UPDATE meetings SET recall_bot_id = $2, recall_status = $3, recall_error = NULL,
			sync_status = 'active', updated_at = NOW()
		WHERE id = $1 AND recall_bot_id IS NULL AND is_deleted = false`, id, botID, status)
	if err != nil {
		logger.Error("MeetingRepository:AttachBot", "meeting_id", id, "error", err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrRecordNotFound
	}
	return nil
}

func (r *meetingRepository) ApplyBotStatus(ctx context.Context, update dto.BotStatusUpdate, from *string) (*entity.Meeting, error) {
	return r.get(ctx, `
		UPDATE meetings SET
			recall_status = $2,
			recall_error = COALESCE($3, recall_error),
			transcript = COALESCE($4, transcript),
			updated_at = NOW()
		WHERE recall_bot_id = $1 AND recall_status IS NOT DISTINCT FROM $5
		RETURNING `+meetingColumns, update.BotID, update.Status, update.Error, update.Transcript, from)
}

func (r *meetingRepository) SetSyncStatus(ctx context.Context, id uuid.UUID, status entity.SyncStatus) error {
	return r.db.ExecContext(ctx, `UPDATE meetings SET sync_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

func (r *meetingRepository) CountQualifyingTranscripts(ctx context.Context, userID uuid.UUID, minTranscriptLen int) (int, error) {
	patterns := make([]string, 0, len(entity.NonQualifyingRecallErrors()))
	for _, e := range entity.NonQualifyingRecallErrors() {
		patterns = append(patterns, "%"+e+"%")
	}

	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM meetings
		WHERE user_id = $1
			AND recall_bot_id IS NOT NULL
			AND recall_status IN ('completed', 'done')
			AND transcript IS NOT NULL
			AND LENGTH(BTRIM(transcript, $4)) >= $2
			AND (recall_error IS NULL OR NOT (LOWER(recall_error) LIKE ANY ($3)))`,
		userID, minTranscriptLen, pq.Array(patterns), entity.TranscriptTrimSet)
	if err != nil {
		logger.Error("MeetingRepository:CountQualifyingTranscripts", "user_id", userID, "error", err)
		return 0, err
	}
	return count, nil
}
