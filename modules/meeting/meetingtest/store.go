// Package meetingtest provides an in-memory meeting store for tests of packages
// that write meetings.
package meetingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/params"
	"calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/meeting/entity"
	"calendar-sync-api/modules/meeting/repository"

	"github.com/google/uuid"
)

// Store implements repository.MeetingRepository with the same key and tombstone
// rules as the SQL implementation.
type Store struct {
	mu   sync.Mutex
	rows map[entity.Key]*entity.Meeting
}

var _ repository.MeetingRepository = (*Store)(nil)

func NewStore() *Store {
	return &Store{rows: make(map[entity.Key]*entity.Meeting)}
}

func clone(m *entity.Meeting) *entity.Meeting {
	c := *m
	c.Attendees = append(entity.Attendees(nil), m.Attendees...)
	return &c
}

// Put inserts or replaces a row as is.
func (s *Store) Put(m *entity.Meeting) *entity.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.rows[m.Key()] = clone(m)
	return clone(m)
}

// All returns every row, deleted ones included, ordered by external id.
func (s *Store) All() []*entity.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Meeting, 0, len(s.rows))
	for _, m := range s.rows {
		out = append(out, clone(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

func (s *Store) Upsert(_ context.Context, scope dto.Scope, ev *dto.MeetingEvent, syncedAt time.Time) (*repository.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entity.Key{UserID: scope.UserID, Provider: scope.Provider, ExternalID: ev.ExternalID}
	m, ok := s.rows[key]
	if ok && m.IsDeleted {
		return &repository.UpsertResult{Meeting: clone(m), Skipped: true}, nil
	}
	inserted := !ok
	if inserted {
		m = &entity.Meeting{
			ID:         uuid.New(),
			UserID:     scope.UserID,
			Provider:   scope.Provider,
			ExternalID: ev.ExternalID,
			SyncStatus: entity.SyncStatusActive,
			CreatedAt:  syncedAt,
		}
		s.rows[key] = m
	}
	m.TenantID = scope.TenantID
	if scope.ConnectionID != uuid.Nil {
		id := scope.ConnectionID
		m.ConnectionID = &id
	}
	m.Title = ev.Title
	m.StartTime = ev.Start
	m.EndTime = ev.End
	m.Attendees = append(entity.Attendees(nil), ev.Attendees...)
	m.MeetingURL = ev.MeetingURL
	m.Location = ev.Location
	m.Description = ev.Description
	m.LastCalendarSync = syncedAt
	m.UpdatedAt = syncedAt
	return &repository.UpsertResult{Meeting: clone(m), Inserted: inserted}, nil
}

func (s *Store) Tombstone(_ context.Context, key entity.Key, at time.Time) (*entity.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[key]
	if !ok || m.IsDeleted {
		return nil, errors.ErrRecordNotFound
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	return clone(m), nil
}

func (s *Store) find(match func(*entity.Meeting) bool) (*entity.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if match(m) {
			return clone(m), nil
		}
	}
	return nil, errors.ErrRecordNotFound
}

func (s *Store) GetByKey(_ context.Context, key entity.Key) (*entity.Meeting, error) {
	return s.find(func(m *entity.Meeting) bool { return m.Key() == key })
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*entity.Meeting, error) {
	return s.find(func(m *entity.Meeting) bool { return m.ID == id })
}

func (s *Store) GetForUser(_ context.Context, userID, id uuid.UUID) (*entity.Meeting, error) {
	return s.find(func(m *entity.Meeting) bool { return m.ID == id && m.UserID == userID })
}

func (s *Store) GetByBotID(_ context.Context, botID string) (*entity.Meeting, error) {
	return s.find(func(m *entity.Meeting) bool { return m.RecallBotID != nil && *m.RecallBotID == botID })
}

func (s *Store) ListByUser(_ context.Context, userID uuid.UUID, q params.QueryParams) ([]entity.Meeting, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []entity.Meeting
	for _, m := range s.rows {
		if m.UserID == userID && !m.IsDeleted {
			all = append(all, *clone(m))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })
	total := len(all)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *Store) AttachBot(_ context.Context, id uuid.UUID, botID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.ID == id && m.RecallBotID == nil && !m.IsDeleted {
			m.RecallBotID = &botID
			m.RecallStatus = &status
			m.RecallError = nil
			m.SyncStatus = entity.SyncStatusActive
			return nil
		}
	}
	return errors.ErrRecordNotFound
}

func (s *Store) ApplyBotStatus(_ context.Context, u dto.BotStatusUpdate, from *string) (*entity.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.RecallBotID == nil || *m.RecallBotID != u.BotID {
			continue
		}
		if (from == nil) != (m.RecallStatus == nil) || (from != nil && *from != *m.RecallStatus) {
			return nil, errors.ErrRecordNotFound
		}
		status := u.Status
		m.RecallStatus = &status
		if u.Error != nil {
			m.RecallError = u.Error
		}
		if u.Transcript != nil {
			m.Transcript = u.Transcript
		}
		return clone(m), nil
	}
	return nil, errors.ErrRecordNotFound
}

func (s *Store) SetSyncStatus(_ context.Context, id uuid.UUID, status entity.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.ID == id {
			m.SyncStatus = status
		}
	}
	return nil
}

func (s *Store) CountQualifyingTranscripts(_ context.Context, userID uuid.UUID, minTranscriptLen int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.rows {
		if m.UserID == userID && m.CountsTowardQuota(minTranscriptLen) {
			n++
		}
	}
	return n, nil
}
