package service

import (
	"context"
	"time"

	"calendar-sync-api/core/cache"
	"calendar-sync-api/core/constants"
	"calendar-sync-api/core/logger"
	meetingDto "calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/notification/dto"
)

// NotificationService publishes state transitions to the meeting events channel.
// Delivery is best effort: a failed publish is logged and never fails the caller.
type NotificationService struct {
	cache   cache.Cache
	channel string
	now     func() time.Time
}

func NewNotificationService(c cache.Cache) *NotificationService {
	return &NotificationService{cache: c, channel: constants.RedisChannelMeetings, now: time.Now}
}

func (s *NotificationService) NotifyMeeting(ctx context.Context, n meetingDto.MeetingNotification) {
	if n.At.IsZero() {
		n.At = s.now().UTC()
	}
	if err := s.cache.Publish(ctx, s.channel, n); err != nil {
		logger.Warn("NotificationService:NotifyMeeting:Error", "type", n.Type, "meeting_id", n.MeetingID, "error", err)
	}
}

func (s *NotificationService) NotifyConnection(ctx context.Context, n dto.ConnectionNotification) {
	if n.At.IsZero() {
		n.At = s.now().UTC()
	}
	if err := s.cache.Publish(ctx, s.channel, n); err != nil {
		logger.Warn("NotificationService:NotifyConnection:Error", "type", n.Type, "connection_id", n.ConnectionID, "error", err)
	}
}
