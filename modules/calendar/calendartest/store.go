// Package calendartest provides in-memory calendar repositories for tests.
package calendartest

import (
	"context"
	"sort"
	"sync"
	"time"

	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/modules/calendar/entity"
	"calendar-sync-api/modules/calendar/repository"

	"github.com/google/uuid"
)

// Store implements the connection, subscription and cursor repositories over maps.
// Rows are copied on the way in and out.
type Store struct {
	mu            sync.Mutex
	connections   map[uuid.UUID]*entity.CalendarConnection
	subscriptions map[uuid.UUID]*entity.WebhookSubscription
	cursors       map[uuid.UUID]*entity.SyncCursor
	cursorSaves   []entity.SyncCursor
}

var (
	_ repository.CalendarRepository     = (*Store)(nil)
	_ repository.SubscriptionRepository = (*Store)(nil)
	_ repository.CursorRepository       = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		connections:   make(map[uuid.UUID]*entity.CalendarConnection),
		subscriptions: make(map[uuid.UUID]*entity.WebhookSubscription),
		cursors:       make(map[uuid.UUID]*entity.SyncCursor),
	}
}

// AddConnection stores conn as given, active flag included.
func (s *Store) AddConnection(conn *entity.CalendarConnection) *entity.CalendarConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	if conn.SyncMethod == "" {
		conn.SyncMethod = entity.SyncMethodPolling
	}
	c := *conn
	s.connections[c.ID] = &c
	return conn
}

// Connection returns a copy of the row with id, or nil.
func (s *Store) Connection(id uuid.UUID) *entity.CalendarConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// Subscriptions returns every subscription row.
func (s *Store) Subscriptions() []entity.WebhookSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.WebhookSubscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalSubscriptionID < out[j].ExternalSubscriptionID })
	return out
}

// CursorSaves returns every cursor written, in order.
func (s *Store) CursorSaves() []entity.SyncCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.SyncCursor(nil), s.cursorSaves...)
}

func (s *Store) CreateConnection(_ context.Context, conn *entity.CalendarConnection) (*entity.CalendarConnection, error) {
	conn.IsActive = false
	conn.CreatedAt = time.Now()
	conn.UpdatedAt = conn.CreatedAt
	return s.AddConnection(conn), nil
}

func (s *Store) find(match func(*entity.CalendarConnection) bool) (*entity.CalendarConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.connections {
		if match(c) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errors.ErrRecordNotFound
}

func (s *Store) GetConnectionByID(_ context.Context, id uuid.UUID) (*entity.CalendarConnection, error) {
	return s.find(func(c *entity.CalendarConnection) bool { return c.ID == id })
}

func (s *Store) GetConnectionForUser(_ context.Context, userID, id uuid.UUID) (*entity.CalendarConnection, error) {
	return s.find(func(c *entity.CalendarConnection) bool { return c.ID == id && c.UserID == userID })
}

func (s *Store) GetActiveConnection(_ context.Context, userID uuid.UUID, provider coreEntity.Provider) (*entity.CalendarConnection, error) {
	return s.find(func(c *entity.CalendarConnection) bool {
		return c.UserID == userID && c.Provider == provider && c.IsActive
	})
}

func (s *Store) list(match func(*entity.CalendarConnection) bool) []entity.CalendarConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.CalendarConnection
	for _, c := range s.connections {
		if match(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (s *Store) GetConnectionsByUserID(_ context.Context, userID uuid.UUID) ([]entity.CalendarConnection, error) {
	return s.list(func(c *entity.CalendarConnection) bool { return c.UserID == userID }), nil
}

func (s *Store) ListActiveBySyncMethod(_ context.Context, method entity.SyncMethod) ([]entity.CalendarConnection, error) {
	return s.list(func(c *entity.CalendarConnection) bool { return c.IsActive && c.SyncMethod == method }), nil
}

func (s *Store) ActivateConnection(_ context.Context, userID, id uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.connections[id]
	if !ok || target.UserID != userID {
		return nil, errors.ErrRecordNotFound
	}
	var deactivated []uuid.UUID
	for _, c := range s.connections {
		if c.ID != id && c.UserID == userID && c.IsActive {
			c.IsActive = false
			deactivated = append(deactivated, c.ID)
		}
	}
	target.IsActive = true
	target.LastError = nil
	return deactivated, nil
}

func (s *Store) update(id uuid.UUID, userID *uuid.UUID, fn func(c *entity.CalendarConnection)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok || (userID != nil && c.UserID != *userID) {
		return errors.ErrRecordNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeactivateConnection(_ context.Context, userID, id uuid.UUID) error {
	return s.update(id, &userID, func(c *entity.CalendarConnection) { c.IsActive = false })
}

func (s *Store) MarkInactive(_ context.Context, id uuid.UUID, reason string) error {
	err := s.update(id, nil, func(c *entity.CalendarConnection) {
		c.IsActive = false
		c.LastError = &reason
	})
	if errors.IsNotFound(err) {
		return nil
	}
	return err
}

func (s *Store) SetSyncMethod(_ context.Context, id uuid.UUID, method entity.SyncMethod) error {
	err := s.update(id, nil, func(c *entity.CalendarConnection) { c.SyncMethod = method })
	if errors.IsNotFound(err) {
		return nil
	}
	return err
}

func (s *Store) SetTranscriptionEnabled(_ context.Context, userID, id uuid.UUID, enabled bool) error {
	return s.update(id, &userID, func(c *entity.CalendarConnection) { c.TranscriptionEnabled = enabled })
}

func (s *Store) UpdateTokens(_ context.Context, id uuid.UUID, access, refresh string, expiresAt *time.Time) error {
	return s.update(id, nil, func(c *entity.CalendarConnection) {
		c.AccessToken, c.RefreshToken, c.TokenExpiresAt = access, refresh, expiresAt
	})
}

func (s *Store) RecordSync(_ context.Context, id uuid.UUID, at time.Time, syncErr error) error {
	err := s.update(id, nil, func(c *entity.CalendarConnection) {
		c.LastSyncAt = &at
		c.LastError = nil
		if syncErr != nil {
			msg := syncErr.Error()
			c.LastError = &msg
		}
	})
	if errors.IsNotFound(err) {
		return nil
	}
	return err
}

func (s *Store) DeleteConnection(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok || c.UserID != userID {
		return errors.ErrRecordNotFound
	}
	delete(s.connections, id)
	delete(s.subscriptions, id)
	delete(s.cursors, id)
	return nil
}

func (s *Store) Save(_ context.Context, sub *entity.WebhookSubscription) (*entity.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.subscriptions[sub.ConnectionID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.ID = uuid.New()
		sub.CreatedAt = time.Now()
	}
	if sub.Scope == "" {
		sub.Scope = entity.ScopeUser
	}
	sub.UpdatedAt = time.Now()
	cp := *sub
	s.subscriptions[sub.ConnectionID] = &cp
	return sub, nil
}

func (s *Store) findSub(match func(*entity.WebhookSubscription) bool) (*entity.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if match(sub) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, errors.ErrRecordNotFound
}

func (s *Store) GetByConnectionID(_ context.Context, connectionID uuid.UUID) (*entity.WebhookSubscription, error) {
	return s.findSub(func(sub *entity.WebhookSubscription) bool { return sub.ConnectionID == connectionID })
}

func (s *Store) GetByExternalID(_ context.Context, provider coreEntity.Provider, externalID string) (*entity.WebhookSubscription, error) {
	return s.findSub(func(sub *entity.WebhookSubscription) bool {
		return sub.Provider == provider && sub.ExternalSubscriptionID == externalID
	})
}

func (s *Store) ListActiveByProvider(_ context.Context, provider coreEntity.Provider) ([]entity.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.WebhookSubscription
	for _, sub := range s.subscriptions {
		if c, ok := s.connections[sub.ConnectionID]; ok && c.IsActive && sub.Provider == provider {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *Store) ListExpiringBefore(_ context.Context, t time.Time) ([]entity.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.WebhookSubscription
	for _, sub := range s.subscriptions {
		if sub.ExpiresBefore(t) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *Store) DeleteByConnectionID(_ context.Context, connectionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, connectionID)
	return nil
}

func (s *Store) GetCursor(_ context.Context, connectionID uuid.UUID) (*entity.SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[connectionID]
	if !ok {
		return nil, errors.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) SaveCursor(_ context.Context, cursor *entity.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cursor
	cp.UpdatedAt = time.Now()
	s.cursors[cursor.ConnectionID] = &cp
	s.cursorSaves = append(s.cursorSaves, cp)
	return nil
}

func (s *Store) ResetCursor(_ context.Context, connectionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, connectionID)
	return nil
}
