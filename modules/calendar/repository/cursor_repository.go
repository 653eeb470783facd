package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"calendar-sync-api/core/database"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/modules/calendar/entity"

	"github.com/google/uuid"
)

type CursorRepository interface {
	GetCursor(ctx context.Context, connectionID uuid.UUID) (*entity.SyncCursor, error)
	SaveCursor(ctx context.Context, cursor *entity.SyncCursor) error
	ResetCursor(ctx context.Context, connectionID uuid.UUID) error
}

type cursorRepository struct {
	db database.IDatabase
}

func NewCursorRepository(db database.IDatabase) CursorRepository {
	return &cursorRepository{db: db}
}

func (r *cursorRepository) GetCursor(ctx context.Context, connectionID uuid.UUID) (*entity.SyncCursor, error) {
	var c entity.SyncCursor
	err := r.db.GetContext(ctx, &c, `
		SELECT connection_id, cursor, page_token, updated_at
		FROM sync_cursors WHERE connection_id = $1`, connectionID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrRecordNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *cursorRepository) SaveCursor(ctx context.Context, cursor *entity.SyncCursor) error {
	return r.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (connection_id, cursor, page_token, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (connection_id) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			page_token = EXCLUDED.page_token,
			updated_at = NOW()`,
		cursor.ConnectionID, cursor.Cursor, cursor.PageToken)
}

func (r *cursorRepository) ResetCursor(ctx context.Context, connectionID uuid.UUID) error {
	return r.db.ExecContext(ctx, `DELETE FROM sync_cursors WHERE connection_id = $1`, connectionID)
}
