package service

import (
	"context"

	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/params"
	"calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/meeting/repository"

	"github.com/google/uuid"
)

type MeetingServiceInterface interface {
	GetMyMeetings(ctx context.Context, userID uuid.UUID, q params.QueryParams) (*coreEntity.Pagination[dto.MeetingResponse], error)
	GetMeeting(ctx context.Context, userID, id uuid.UUID) (*dto.MeetingResponse, error)
}

// MeetingService serves the read side of the canonical meeting store.
type MeetingService struct {
	repo repository.MeetingRepository
}

func NewMeetingService(repo repository.MeetingRepository) MeetingServiceInterface {
	return &MeetingService{repo: repo}
}

func (s *MeetingService) GetMyMeetings(ctx context.Context, userID uuid.UUID, q params.QueryParams) (*coreEntity.Pagination[dto.MeetingResponse], error) {
	meetings, total, err := s.repo.ListByUser(ctx, userID, q)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrGetFailed, "failed to list meetings", err)
	}
	items := make([]dto.MeetingResponse, 0, len(meetings))
	for i := range meetings {
		items = append(items, dto.ToMeetingResponse(&meetings[i]))
	}
	return coreEntity.NewPagination(items, total, q.PageNumber, q.PageSize), nil
}

// GetMeeting only returns meetings owned by userID; another user's id reads as not found.
func (s *MeetingService) GetMeeting(ctx context.Context, userID, id uuid.UUID) (*dto.MeetingResponse, error) {
	m, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewAppError(errors.ErrNotFound, "meeting not found", err)
		}
		return nil, errors.NewAppError(errors.ErrGetFailed, "failed to get meeting", err)
	}
	resp := dto.ToMeetingResponse(m)
	return &resp, nil
}
