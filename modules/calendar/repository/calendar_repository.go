package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"calendar-sync-api/core/database"
	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/modules/calendar/entity"

	"github.com/google/uuid"
)

const connectionColumns = `id, user_id, tenant_id, provider, access_token, refresh_token,
	token_expires_at, provider_account_email, provider_account_uri, provider_organization_uri,
	is_active, transcription_enabled, sync_method, last_sync_at, last_error, created_at, updated_at`

type CalendarRepository interface {
	CreateConnection(ctx context.Context, conn *entity.CalendarConnection) (*entity.CalendarConnection, error)
	GetConnectionByID(ctx context.Context, id uuid.UUID) (*entity.CalendarConnection, error)
	GetConnectionForUser(ctx context.Context, userID, id uuid.UUID) (*entity.CalendarConnection, error)
	GetActiveConnection(ctx context.Context, userID uuid.UUID, provider coreEntity.Provider) (*entity.CalendarConnection, error)
	GetConnectionsByUserID(ctx context.Context, userID uuid.UUID) ([]entity.CalendarConnection, error)
	ListActiveBySyncMethod(ctx context.Context, method entity.SyncMethod) ([]entity.CalendarConnection, error)

	// ActivateConnection makes id the only active connection of userID, whatever the
	// provider, and returns the ids of the siblings it deactivated.
	ActivateConnection(ctx context.Context, userID, id uuid.UUID) ([]uuid.UUID, error)
	DeactivateConnection(ctx context.Context, userID, id uuid.UUID) error
	MarkInactive(ctx context.Context, id uuid.UUID, reason string) error
	SetSyncMethod(ctx context.Context, id uuid.UUID, method entity.SyncMethod) error
	SetTranscriptionEnabled(ctx context.Context, userID, id uuid.UUID, enabled bool) error
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error
	RecordSync(ctx context.Context, id uuid.UUID, at time.Time, syncErr error) error
	DeleteConnection(ctx context.Context, userID, id uuid.UUID) error
}

type calendarRepository struct {
	db database.IDatabase
}

func NewCalendarRepository(db database.IDatabase) CalendarRepository {
	return &calendarRepository{db: db}
}

// CreateConnection inserts conn inactive. Activation goes through ActivateConnection so the
// one-active-connection rule is enforced in one place.
func (r *calendarRepository) CreateConnection(ctx context.Context, conn *entity.CalendarConnection) (*entity.CalendarConnection, error) {
	query := `
		INSERT INTO calendar_connections (user_id, tenant_id, provider, access_token, refresh_token,
			token_expires_at, provider_account_email, provider_account_uri, provider_organization_uri,
			is_active, transcription_enabled, sync_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10, $11)
		RETURNING id, created_at, updated_at
	`
	conn.IsActive = false
	if conn.SyncMethod == "" {
		conn.SyncMethod = entity.SyncMethodPolling
	}
	err := r.db.QueryRowContext(
		ctx, query,
		conn.UserID, conn.TenantID, conn.Provider, conn.AccessToken, conn.RefreshToken,
		conn.TokenExpiresAt, conn.ProviderAccountEmail, conn.ProviderAccountURI, conn.ProviderOrganizationURI,
		conn.TranscriptionEnabled, conn.SyncMethod,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		logger.Error("CalendarRepository:CreateConnection", "user_id", conn.UserID, "provider", conn.Provider, "error", err)
		return nil, err
	}
	return conn, nil
}

func (r *calendarRepository) get(ctx context.Context, query string, args ...any) (*entity.CalendarConnection, error) {
	var conn entity.CalendarConnection
	if err := r.db.GetContext(ctx, &conn, query, args...); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrRecordNotFound
		}
		return nil, err
	}
	return &conn, nil
}

func (r *calendarRepository) GetConnectionByID(ctx context.Context, id uuid.UUID) (*entity.CalendarConnection, error) {
	return r.get(ctx, `SELECT `+connectionColumns+` FROM calendar_connections WHERE id = $1`, id)
}

func (r *calendarRepository) GetConnectionForUser(ctx context.Context, userID, id uuid.UUID) (*entity.CalendarConnection, error) {
	return r.get(ctx, `SELECT `+connectionColumns+` FROM calendar_connections WHERE id = $1 AND user_id = $2`, id, userID)
}

func (r *calendarRepository) GetActiveConnection(ctx context.Context, userID uuid.UUID, provider coreEntity.Provider) (*entity.CalendarConnection, error) {
	return r.get(ctx, `
		SELECT `+connectionColumns+` FROM calendar_connections
		WHERE user_id = $1 AND provider = $2 AND is_active = true`, userID, provider)
}

func (r *calendarRepository) GetConnectionsByUserID(ctx context.Context, userID uuid.UUID) ([]entity.CalendarConnection, error) {
	var connections []entity.CalendarConnection
	err := r.db.SelectContext(ctx, &connections, `
		SELECT `+connectionColumns+` FROM calendar_connections
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return connections, nil
}

func (r *calendarRepository) ListActiveBySyncMethod(ctx context.Context, method entity.SyncMethod) ([]entity.CalendarConnection, error) {
	var connections []entity.CalendarConnection
	err := r.db.SelectContext(ctx, &connections, `
		SELECT `+connectionColumns+` FROM calendar_connections
		WHERE is_active = true AND sync_method = $1
		ORDER BY created_at`, method)
	if err != nil {
		return nil, err
	}
	return connections, nil
}

func (r *calendarRepository) ActivateConnection(ctx context.Context, userID, id uuid.UUID) ([]uuid.UUID, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock every connection of the user in a stable order so concurrent activations serialize.
	var locked []uuid.UUID
	if err := tx.SelectContext(ctx, &locked, `
		SELECT id FROM calendar_connections
		WHERE user_id = $1
		ORDER BY id
		FOR UPDATE`, userID); err != nil {
		return nil, err
	}
	if !slices.Contains(locked, id) {
		return nil, errors.ErrRecordNotFound
	}

	var deactivated []uuid.UUID
	if err := tx.SelectContext(ctx, &deactivated, `
		UPDATE calendar_connections
		SET is_active = false, updated_at = NOW()
		WHERE user_id = $1 AND id <> $2 AND is_active = true
		RETURNING id`, userID, id); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE calendar_connections
		SET is_active = true, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit activation: %w", err)
	}
	return deactivated, nil
}

func (r *calendarRepository) DeactivateConnection(ctx context.Context, userID, id uuid.UUID) error {
	return r.execOne(ctx, `
		UPDATE calendar_connections SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`, id, userID)
}

func (r *calendarRepository) MarkInactive(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.ExecContext(ctx, `
		UPDATE calendar_connections SET is_active = false, last_error = $2, updated_at = NOW()
		WHERE id = $1`, id, reason)
}

func (r *calendarRepository) SetSyncMethod(ctx context.Context, id uuid.UUID, method entity.SyncMethod) error {
	return r.db.ExecContext(ctx, `
		UPDATE calendar_connections SET sync_method = $2, updated_at = NOW()
		WHERE id = $1`, id, method)
}

func (r *calendarRepository) SetTranscriptionEnabled(ctx context.Context, userID, id uuid.UUID, enabled bool) error {
	return r.execOne(ctx, `
		UPDATE calendar_connections SET transcription_enabled = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`, id, userID, enabled)
}

func (r *calendarRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error {
	return r.db.ExecContext(ctx, `
		UPDATE calendar_connections
		SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = NOW()
		WHERE id = $1`, id, accessToken, refreshToken, expiresAt)
}

func (r *calendarRepository) RecordSync(ctx context.Context, id uuid.UUID, at time.Time, syncErr error) error {
	var lastError *string
	if syncErr != nil {
		msg := syncErr.Error()
		lastError = &msg
	}
	return r.db.ExecContext(ctx, `
		UPDATE calendar_connections SET last_sync_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1`, id, at, lastError)
}

// DeleteConnection physically removes the row. Cursor and subscription rows cascade.
func (r *calendarRepository) DeleteConnection(ctx context.Context, userID, id uuid.UUID) error {
	return r.execOne(ctx, `DELETE FROM calendar_connections WHERE id = $1 AND user_id = $2`, id, userID)
}

func (r *calendarRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecResultContext(ctx, query, args...)
	if err != nil {
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
