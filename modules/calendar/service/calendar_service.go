package service

import (
	"context"
	"strings"

	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/modules/calendar/dto"
	"calendar-sync-api/modules/calendar/entity"
	"calendar-sync-api/modules/calendar/repository"
	pollingService "calendar-sync-api/modules/polling/service"
	subscriptionService "calendar-sync-api/modules/subscription/service"

	"github.com/google/uuid"
)

// SubscriptionManager is the part of the subscription manager the connection API drives.
type SubscriptionManager interface {
	Create(ctx context.Context, conn *entity.CalendarConnection) (*subscriptionService.CreateResult, error)
	VerifyActive(ctx context.Context, conn *entity.CalendarConnection) (bool, error)
	Delete(ctx context.Context, conn *entity.CalendarConnection) error
	Stop(ctx context.Context, conn *entity.CalendarConnection) error
	UsePolling(ctx context.Context, conn *entity.CalendarConnection) error
}

type PollScheduler interface {
	Cancel(connectionID uuid.UUID)
}

type Poller interface {
	Poll(ctx context.Context, conn *entity.CalendarConnection) (*pollingService.RunResult, error)
}

// TokenSealer encrypts tokens before they are stored.
type TokenSealer interface {
	Seal(accessToken, refreshToken string) (string, string, error)
}

type CalendarService interface {
	Connect(ctx context.Context, userID, tenantID uuid.UUID, req *dto.ConnectRequest) (*dto.ConnectionResponse, error)
	GetConnections(ctx context.Context, userID uuid.UUID) ([]dto.ConnectionResponse, error)
	Activate(ctx context.Context, userID, id uuid.UUID) (*dto.ConnectionResponse, error)
	Deactivate(ctx context.Context, userID, id uuid.UUID) (*dto.ConnectionResponse, error)
	SetTranscription(ctx context.Context, userID, id uuid.UUID, enabled bool) (*dto.ConnectionResponse, error)
	WebhookStatus(ctx context.Context, userID, id uuid.UUID) (*dto.WebhookStatusResponse, error)
	SyncNow(ctx context.Context, userID, id uuid.UUID) (*dto.SyncResponse, error)
	Disconnect(ctx context.Context, userID, id uuid.UUID) error
}

type calendarService struct {
	repo      repository.CalendarRepository
	subs      repository.SubscriptionRepository
	tokens    TokenSealer
	manager   SubscriptionManager
	scheduler PollScheduler
	poller    Poller
}

func NewCalendarService(
	repo repository.CalendarRepository,
	subs repository.SubscriptionRepository,
	tokens TokenSealer,
	manager SubscriptionManager,
	scheduler PollScheduler,
	poller Poller,
) CalendarService {
	return &calendarService{
		repo:      repo,
		subs:      subs,
		tokens:    tokens,
		manager:   manager,
		scheduler: scheduler,
		poller:    poller,
	}
}

func (s *calendarService) load(ctx context.Context, userID, id uuid.UUID) (*entity.CalendarConnection, error) {
	conn, err := s.repo.GetConnectionForUser(ctx, userID, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewAppError(errors.ErrNotFound, "connection not found", err)
		}
		return nil, errors.NewAppError(errors.ErrGetFailed, "failed to get connection", err)
	}
	return conn, nil
}

func (s *calendarService) respond(ctx context.Context, userID, id uuid.UUID) (*dto.ConnectionResponse, error) {
	conn, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	resp := dto.ToConnectionResponse(conn)
	return &resp, nil
}

// Connect stores a new connection and makes it the user's active connection.
func (s *calendarService) Connect(ctx context.Context, userID, tenantID uuid.UUID, req *dto.ConnectRequest) (*dto.ConnectionResponse, error) {
	provider, ok := coreEntity.ParseProvider(req.Provider)
	if !ok {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "unsupported provider", nil)
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "access_token is required", nil)
	}

	access, refresh, err := s.tokens.Seal(req.AccessToken, req.RefreshToken)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to store tokens", err)
	}
	transcription := true
	if req.TranscriptionEnabled != nil {
		transcription = *req.TranscriptionEnabled
	}

	conn, err := s.repo.CreateConnection(ctx, &entity.CalendarConnection{
		UserID:                  userID,
		TenantID:                tenantID,
		Provider:                provider,
		AccessToken:             access,
		RefreshToken:            refresh,
		TokenExpiresAt:          req.ExpiresAt,
		ProviderAccountEmail:    req.AccountEmail,
		ProviderAccountURI:      req.ProviderAccountURI,
		ProviderOrganizationURI: req.ProviderOrganizationURI,
		TranscriptionEnabled:    transcription,
		SyncMethod:              entity.SyncMethodPolling,
	})
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to create connection", err)
	}
	logger.Info("CalendarService:Connect", "user_id", userID, "connection_id", conn.ID, "provider", provider)
	return s.Activate(ctx, userID, conn.ID)
}

func (s *calendarService) GetConnections(ctx context.Context, userID uuid.UUID) ([]dto.ConnectionResponse, error) {
	conns, err := s.repo.GetConnectionsByUserID(ctx, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrGetFailed, "failed to list connections", err)
	}
	out := make([]dto.ConnectionResponse, 0, len(conns))
	for i := range conns {
		out = append(out, dto.ToConnectionResponse(&conns[i]))
	}
	return out, nil
}

// Activate makes id the user's only active connection, across providers. Siblings stop their
// feed, then id gets a webhook or falls back to polling.
func (s *calendarService) Activate(ctx context.Context, userID, id uuid.UUID) (*dto.ConnectionResponse, error) {
	conn, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	wasActive := conn.IsActive

	siblings, err := s.repo.ActivateConnection(ctx, userID, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewAppError(errors.ErrNotFound, "connection not found", err)
		}
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to activate connection", err)
	}
	for _, siblingID := range siblings {
		s.stopFeed(ctx, siblingID)
	}

	if !wasActive {
		conn.IsActive = true
		if err := s.startFeed(ctx, conn); err != nil {
			return nil, err
		}
	}
	return s.respond(ctx, userID, id)
}

func (s *calendarService) startFeed(ctx context.Context, conn *entity.CalendarConnection) error {
	res, err := s.manager.Create(ctx, conn)
	if err == nil {
		logger.Info("CalendarService:StartFeed", "connection_id", conn.ID, "webhook", res.Subscribed)
		return nil
	}
	if errors.IsCode(err, errors.ErrAuthExpired) {
		if merr := s.repo.MarkInactive(ctx, conn.ID, string(errors.ErrAuthExpired)); merr != nil {
			logger.Error("CalendarService:StartFeed:MarkInactive", "connection_id", conn.ID, "error", merr)
		}
		return err
	}
	logger.Warn("CalendarService:StartFeed:WebhookFailed", "connection_id", conn.ID, "error", err)
	if err := s.manager.UsePolling(ctx, conn); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to start polling", err)
	}
	return nil
}

func (s *calendarService) stopFeed(ctx context.Context, id uuid.UUID) {
	conn, err := s.repo.GetConnectionByID(ctx, id)
	if err != nil {
		logger.Error("CalendarService:StopFeed:Get", "connection_id", id, "error", err)
		return
	}
	if err := s.manager.Stop(ctx, conn); err != nil {
		logger.Warn("CalendarService:StopFeed", "connection_id", id, "error", err)
	}
}

func (s *calendarService) Deactivate(ctx context.Context, userID, id uuid.UUID) (*dto.ConnectionResponse, error) {
	conn, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeactivateConnection(ctx, userID, id); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to deactivate connection", err)
	}
	conn.IsActive = false
	if err := s.manager.Stop(ctx, conn); err != nil {
		logger.Warn("CalendarService:Deactivate:Stop", "connection_id", id, "error", err)
	}
	return s.respond(ctx, userID, id)
}

func (s *calendarService) SetTranscription(ctx context.Context, userID, id uuid.UUID, enabled bool) (*dto.ConnectionResponse, error) {
	if err := s.repo.SetTranscriptionEnabled(ctx, userID, id, enabled); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewAppError(errors.ErrNotFound, "connection not found", err)
		}
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to update connection", err)
	}
	return s.respond(ctx, userID, id)
}

func (s *calendarService) WebhookStatus(ctx context.Context, userID, id uuid.UUID) (*dto.WebhookStatusResponse, error) {
	conn, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	resp := &dto.WebhookStatusResponse{ConnectionID: conn.ID.String(), SyncMethod: string(conn.SyncMethod)}

	sub, err := s.subs.GetByConnectionID(ctx, conn.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			return resp, nil
		}
		return nil, errors.NewAppError(errors.ErrGetFailed, "failed to get subscription", err)
	}
	resp.Subscribed = true
	resp.SubscriptionID = sub.ExternalSubscriptionID
	resp.ExpiresAt = sub.ExpiresAt

	active, err := s.manager.VerifyActive(ctx, conn)
	if err != nil {
		return nil, err
	}
	resp.Active = active
	return resp, nil
}

// SyncNow runs one poll of the connection regardless of its sync method.
func (s *calendarService) SyncNow(ctx context.Context, userID, id uuid.UUID) (*dto.SyncResponse, error) {
	conn, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "connection is not active", nil)
	}
	res, err := s.poller.Poll(ctx, conn)
	if err != nil {
		return nil, err
	}
	transitions := make(map[string]int, len(res.Transitions))
	for t, n := range res.Transitions {
		transitions[string(t)] = n
	}
	return &dto.SyncResponse{
		ConnectionID: conn.ID.String(),
		Pages:        res.Pages,
		Events:       res.Events,
		Skipped:      res.Skipped,
		Transitions:  transitions,
		CursorReset:  res.CursorReset,
		CompletedAt:  res.CompletedAt,
	}, nil
}

// Disconnect removes the remote subscription, then the polling task, then the row.
// A failed remote delete aborts so no subscription keeps firing at a deleted connection.
func (s *calendarService) Disconnect(ctx context.Context, userID, id uuid.UUID) error {
	conn, err := s.load(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.manager.Delete(ctx, conn); err != nil {
		logger.Error("CalendarService:Disconnect:Subscription", "connection_id", id, "error", err)
		code := errors.CodeOf(err)
		if code == "" {
			code = errors.ErrProviderRequest
		}
		return errors.NewAppError(code, "failed to remove webhook subscription", err)
	}
	s.scheduler.Cancel(conn.ID)
	if err := s.repo.DeleteConnection(ctx, userID, id); err != nil {
		if errors.IsNotFound(err) {
			return errors.NewAppError(errors.ErrNotFound, "connection not found", err)
		}
		return errors.NewAppError(errors.ErrInternalServer, "failed to delete connection", err)
	}
	logger.Info("CalendarService:Disconnect", "user_id", userID, "connection_id", id, "provider", conn.Provider)
	return nil
}
