// Package members: service.go содержит бизнес-логику управления участниками:
// регистрацию, проверку членства и привязку к пользователю леджера.
package members

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/common"
)

// Store: то, что сервису нужно от хранилища участников.
type Store interface {
	Upsert(ctx context.Context, m *Member) error
	GetByUserID(ctx context.Context, userID int64) (*Member, error)
	Exists(ctx context.Context, userID int64) (bool, error)
	LinkProfile(ctx context.Context, userID int64, profileID uuid.UUID) error
	MarkAdmins(ctx context.Context, userIDs []int64) error
}

// Service управляет участниками.
type Service struct {
	store    Store
	adminIDs []int64
	admins   map[int64]bool // ADMIN_IDS
}

// NewService создаёт сервис участников.
func NewService(store Store, adminIDs []int64) *Service {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Service{store: store, adminIDs: adminIDs, admins: admins}
}

// SyncAdmins приводит флаг is_admin в БД к списку ADMIN_IDS.
func (s *Service) SyncAdmins(ctx context.Context) error {
	return s.store.MarkAdmins(ctx, s.adminIDs)
}

// AdminIDs: Telegram ID администраторов из конфигурации.
func (s *Service) AdminIDs() []int64 {
	return s.adminIDs
}

// HandleNewMember регистрирует пользователя или обновляет его имя/username.
func (s *Service) HandleNewMember(ctx context.Context, userID int64, username, firstName, lastName string) error {
	member := &Member{
		UserID:    userID,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
		IsAdmin:   s.admins[userID],
	}
	if err := s.store.Upsert(ctx, member); err != nil {
		return fmt.Errorf("ошибка регистрации участника: %w", err)
	}

	log.WithFields(log.Fields{
		"user_id":  userID,
		"username": username,
	}).Info("Участник зарегистрирован")
	return nil
}

// IsMember проверяет, писал ли пользователь боту раньше.
func (s *Service) IsMember(ctx context.Context, userID int64) (bool, error) {
	return s.store.Exists(ctx, userID)
}

// GetByUserID возвращает участника по Telegram user ID.
func (s *Service) GetByUserID(ctx context.Context, userID int64) (*Member, error) {
	return s.store.GetByUserID(ctx, userID)
}

// EnsureMember гарантирует, что пользователь есть в базе.
// Используется при первом сообщении боту.
func (s *Service) EnsureMember(ctx context.Context, userID int64, username, firstName, lastName string) error {
	exists, err := s.store.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.HandleNewMember(ctx, userID, username, firstName, lastName)
}

// LinkedProfile возвращает пользователя леджера, к которому привязан участник.
func (s *Service) LinkedProfile(ctx context.Context, userID int64) (uuid.UUID, error) {
	m, err := s.store.GetByUserID(ctx, userID)
	if errors.Is(err, common.ErrMemberNotFound) {
		return uuid.Nil, common.ErrMemberNotLinked
	}
	if err != nil {
		return uuid.Nil, err
	}
	if !m.Linked() {
		return uuid.Nil, common.ErrMemberNotLinked
	}
	return *m.ProfileID, nil
}

// Link привязывает участника к профилю леджера (команда админа).
func (s *Service) Link(ctx context.Context, userID int64, profileID uuid.UUID) error {
	if profileID == uuid.Nil {
		return common.ErrProfileNotFound
	}
	if err := s.store.LinkProfile(ctx, userID, profileID); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"user_id":    userID,
		"profile_id": profileID,
	}).Info("Участник привязан к кошельку")
	return nil
}
