package service

import (
	"context"
	"sync"
	"time"

	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/metrics"
	"calendar-sync-api/modules/calendar/entity"
	"calendar-sync-api/modules/calendar/repository"
	meetingDto "calendar-sync-api/modules/meeting/dto"
	notificationDto "calendar-sync-api/modules/notification/dto"
	"calendar-sync-api/modules/provider/client"
	providerDto "calendar-sync-api/modules/provider/dto"
	tokenService "calendar-sync-api/modules/token/service"

	"github.com/google/uuid"
)

type ConnectionStore interface {
	GetConnectionByID(ctx context.Context, id uuid.UUID) (*entity.CalendarConnection, error)
	ListActiveBySyncMethod(ctx context.Context, method entity.SyncMethod) ([]entity.CalendarConnection, error)
	MarkInactive(ctx context.Context, id uuid.UUID, reason string) error
	RecordSync(ctx context.Context, id uuid.UUID, at time.Time, syncErr error) error
}

type Ingestor interface {
	Ingest(ctx context.Context, scope meetingDto.Scope, ev providerDto.ProviderEvent) (*meetingDto.ApplyResult, error)
}

type ConnectionNotifier interface {
	NotifyConnection(ctx context.Context, n notificationDto.ConnectionNotification)
}

// RunResult summarizes one polling run.
type RunResult struct {
	Pages       int
	Events      int
	Transitions map[meetingDto.Transition]int
	// Skipped counts events that could not be translated.
	Skipped     int
	CursorReset bool
	Cursor      string
	CompletedAt time.Time
}

// Poller pulls a connection's events page by page from its sync cursor. Runs of the
// same connection are serialized.
type Poller struct {
	clients     *client.Registry
	tokens      tokenService.TokenStore
	connections ConnectionStore
	cursors     repository.CursorRepository
	ingestor    Ingestor
	notifier    ConnectionNotifier
	locksMu     sync.Mutex
	locks       map[uuid.UUID]*connLock
	now         func() time.Time
}

// connLock is dropped from the map once no poll holds or waits for it.
type connLock struct {
	mu   sync.Mutex
	refs int
}

func NewPoller(
	clients *client.Registry,
	tokens tokenService.TokenStore,
	connections ConnectionStore,
	cursors repository.CursorRepository,
	ingestor Ingestor,
	notifier ConnectionNotifier,
) *Poller {
	return &Poller{
		clients:     clients,
		tokens:      tokens,
		connections: connections,
		cursors:     cursors,
		ingestor:    ingestor,
		notifier:    notifier,
		locks:       make(map[uuid.UUID]*connLock),
		now:         time.Now,
	}
}

func (p *Poller) lock(id uuid.UUID) func() {
	p.locksMu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &connLock{}
		p.locks[id] = l
	}
	l.refs++
	p.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, id)
		}
		p.locksMu.Unlock()
	}
}

// Poll runs one sync of conn. The cursor is saved after every page that applied
// cleanly, so a failed run resumes at the page that failed.
func (p *Poller) Poll(ctx context.Context, conn *entity.CalendarConnection) (*RunResult, error) {
	unlock := p.lock(conn.ID)
	defer unlock()

	start := p.now()
	res, err := p.poll(ctx, conn)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.IsCode(err, errors.ErrAuthExpired):
		outcome = "auth_expired"
		p.authExpired(ctx, conn, err)
	case errors.IsCode(err, errors.ErrPartialBatchFailure):
		outcome = "partial"
	case errors.IsRetryable(err):
		outcome = "retryable"
	default:
		outcome = "error"
	}
	metrics.SyncRunsTotal.WithLabelValues(conn.Provider.String(), outcome).Inc()
	metrics.SyncRunDuration.WithLabelValues(conn.Provider.String()).Observe(p.now().Sub(start).Seconds())

	if outcome != "auth_expired" {
		if rerr := p.connections.RecordSync(ctx, conn.ID, p.now().UTC(), err); rerr != nil {
			logger.Warn("Poller:RecordSync:Error", "connection_id", conn.ID, "error", rerr)
		}
	}
	if err != nil {
		logger.Warn("Poller:Poll:Failed", "connection_id", conn.ID, "provider", conn.Provider, "outcome", outcome, "error", err)
		return res, err
	}
	logger.Info("Poller:Poll", "connection_id", conn.ID, "provider", conn.Provider, "pages", res.Pages, "events", res.Events, "skipped", res.Skipped)
	return res, nil
}

func (p *Poller) poll(ctx context.Context, conn *entity.CalendarConnection) (*RunResult, error) {
	res := &RunResult{Transitions: make(map[meetingDto.Transition]int)}
	c, err := p.clients.Get(conn.Provider)
	if err != nil {
		return res, err
	}
	token, err := p.tokens.GetValidAccessTokenForConnection(ctx, conn)
	if err != nil {
		return res, err
	}

	var cursor, pageToken string
	saved, err := p.cursors.GetCursor(ctx, conn.ID)
	switch {
	case err == nil:
		cursor, pageToken = saved.Cursor, saved.PageToken
	case !errors.IsNotFound(err):
		return res, err
	}

	scope := meetingDto.Scope{UserID: conn.UserID, TenantID: conn.TenantID, ConnectionID: conn.ID, Provider: conn.Provider}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := c.FetchEvents(ctx, token, conn, cursor, pageToken)
		if err != nil {
			if errors.IsCode(err, errors.ErrCursorExpired) && !res.CursorReset {
				logger.Warn("Poller:CursorExpired", "connection_id", conn.ID, "provider", conn.Provider)
				if err := p.cursors.ResetCursor(ctx, conn.ID); err != nil {
					return res, err
				}
				res.CursorReset = true
				cursor, pageToken = "", ""
				continue
			}
			return res, err
		}
		res.Pages++

		if err := p.apply(ctx, scope, page.Events, res); err != nil {
			return res, err
		}

		if page.NextPageToken != "" {
			pageToken = page.NextPageToken
			if err := p.cursors.SaveCursor(ctx, &entity.SyncCursor{ConnectionID: conn.ID, Cursor: cursor, PageToken: pageToken}); err != nil {
				return res, err
			}
			continue
		}

		if page.NextCursor != "" {
			cursor = page.NextCursor
		}
		if err := p.cursors.SaveCursor(ctx, &entity.SyncCursor{ConnectionID: conn.ID, Cursor: cursor}); err != nil {
			return res, err
		}
		res.Cursor = cursor
		res.CompletedAt = p.now().UTC()
		return res, nil
	}
}

// apply ingests every event of a page. Untranslatable events are skipped; any other
// failure still lets the rest of the page apply but fails the page.
func (p *Poller) apply(ctx context.Context, scope meetingDto.Scope, events []providerDto.ProviderEvent, res *RunResult) error {
	var (
		failed  int
		lastErr error
	)
	for _, ev := range events {
		res.Events++
		out, err := p.ingestor.Ingest(ctx, scope, ev)
		if err != nil {
			switch errors.CodeOf(err) {
			case errors.ErrInvalidRequestData, errors.ErrInvalidInput, errors.ErrUnsupportedEventType:
				res.Skipped++
				logger.Warn("Poller:Apply:Skip", "connection_id", scope.ConnectionID, "error", err)
				continue
			}
			failed++
			lastErr = err
			logger.Error("Poller:Apply:Error", "connection_id", scope.ConnectionID, "error", err)
			continue
		}
		res.Transitions[out.Transition]++
	}
	if failed > 0 {
		return errors.NewAppError(errors.ErrPartialBatchFailure, "events failed to apply", lastErr)
	}
	return nil
}

func (p *Poller) authExpired(ctx context.Context, conn *entity.CalendarConnection, cause error) {
	if err := p.connections.MarkInactive(ctx, conn.ID, string(errors.ErrAuthExpired)); err != nil {
		logger.Error("Poller:MarkInactive:Error", "connection_id", conn.ID, "error", err)
	}
	conn.IsActive = false
	logger.Warn("Poller:AuthExpired", "connection_id", conn.ID, "user_id", conn.UserID, "provider", conn.Provider, "error", cause)
	if p.notifier != nil {
		p.notifier.NotifyConnection(ctx, notificationDto.ConnectionNotification{
			Type:         notificationDto.NotificationReconnectRequired,
			ConnectionID: conn.ID,
			UserID:       conn.UserID,
			Provider:     conn.Provider.String(),
		})
	}
}
