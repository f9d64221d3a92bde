// Package memberstest: хранилище участников в памяти для тестов.
package memberstest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/features/members"
)

// Store повторяет ограничения таблицы members: уникальные user_id и profile_id.
// Profiles: известные профили леджера (имитация внешнего ключа); nil, принимаются любые.
type Store struct {
	mu       sync.Mutex
	byUser   map[int64]*members.Member
	nextID   int64
	Profiles map[uuid.UUID]bool
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{byUser: make(map[int64]*members.Member)}
}

func (s *Store) Upsert(_ context.Context, m *members.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byUser[m.UserID]; ok {
		cur.Username, cur.FirstName, cur.LastName, cur.IsAdmin = m.Username, m.FirstName, m.LastName, m.IsAdmin
		return nil
	}
	s.nextID++
	cp := *m
	cp.ID = s.nextID
	s.byUser[m.UserID] = &cp
	return nil
}

func (s *Store) GetByUserID(_ context.Context, userID int64) (*members.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byUser[userID]
	if !ok {
		return nil, common.ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) Exists(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byUser[userID]
	return ok, nil
}

func (s *Store) LinkProfile(_ context.Context, userID int64, profileID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Profiles != nil && !s.Profiles[profileID] {
		return common.ErrProfileNotFound
	}
	m, ok := s.byUser[userID]
	if !ok {
		return common.ErrMemberNotFound
	}
	for _, other := range s.byUser {
		if other.UserID != userID && other.ProfileID != nil && *other.ProfileID == profileID {
			return common.ErrProfileAlreadyLinked
		}
	}
	id := profileID
	m.ProfileID = &id
	return nil
}

func (s *Store) MarkAdmins(_ context.Context, userIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	admins := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		admins[id] = true
	}
	for id, m := range s.byUser {
		m.IsAdmin = admins[id]
	}
	return nil
}
