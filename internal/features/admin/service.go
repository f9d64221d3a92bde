// Package admin: service.go содержит аутентификацию, управление сессиями
// и state-машину пошаговых админ-действий.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/wallet-ledger/internal/common"
)

// Store: то, что сервису нужно от хранилища сессий.
type Store interface {
	CreateSession(ctx context.Context, session *AdminSession) error
	GetActiveSession(ctx context.Context, userID int64, now time.Time) (*AdminSession, error)
	DeactivateSession(ctx context.Context, userID int64) error
	UpdateActivity(ctx context.Context, userID int64, at time.Time) error
	LogAttempt(ctx context.Context, userID int64, success bool, at time.Time) error
	CountFailedAttempts(ctx context.Context, userID int64, since time.Time) (int, error)
}

// Service управляет доступом к админ-панели.
type Service struct {
	store        Store
	passwordHash string
	clock        common.Clock
	states       map[int64]*AdminState // Состояния диалогов (in-memory)
	statesMu     sync.RWMutex
}

// NewService создаёт сервис админ-панели.
func NewService(store Store, passwordHash string, clock common.Clock) *Service {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &Service{
		store:        store,
		passwordHash: passwordHash,
		clock:        clock,
		states:       make(map[int64]*AdminState),
	}
}

// VerifyPassword проверяет пароль администратора (Argon2id) и открывает сессию.
// MaxFailedAttempts неудачных попыток за LockoutPeriod блокируют вход.
func (s *Service) VerifyPassword(ctx context.Context, userID int64, password string) error {
	now := s.clock.Now()

	attempts, err := s.store.CountFailedAttempts(ctx, userID, now.Add(-LockoutPeriod))
	if err != nil {
		return err
	}
	if attempts >= MaxFailedAttempts {
		return common.ErrTooManyAttempts
	}

	match := s.passwordHash != "" && verifyArgon2id(password, s.passwordHash)
	if err := s.store.LogAttempt(ctx, userID, match, now); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось записать попытку входа")
	}
	if !match {
		log.WithField("user_id", userID).Warn("Неверный пароль админ-панели")
		return common.ErrWrongPassword
	}

	session := &AdminSession{
		UserID:          userID,
		SessionToken:    generateSecureToken(),
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(SessionTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return err
	}
	log.WithField("user_id", userID).Info("Админ вошёл в панель")
	return nil
}

// HasActiveSession проверяет, есть ли у пользователя активная сессия.
func (s *Service) HasActiveSession(ctx context.Context, userID int64) bool {
	session, err := s.store.GetActiveSession(ctx, userID, s.clock.Now())
	return err == nil && session != nil
}

// Touch продлевает активность сессии.
func (s *Service) Touch(ctx context.Context, userID int64) {
	if err := s.store.UpdateActivity(ctx, userID, s.clock.Now()); err != nil {
		log.WithError(err).WithField("user_id", userID).Debug("UpdateActivity failed")
	}
}

// Logout закрывает сессию и сбрасывает диалог.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	s.ClearState(userID)
	return s.store.DeactivateSession(ctx, userID)
}

// GetState возвращает текущее состояние диалога.
func (s *Service) GetState(userID int64) *AdminState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()

	state, ok := s.states[userID]
	if !ok {
		return nil
	}
	if s.clock.Now().After(state.ExpiresAt) {
		return nil
	}
	return state
}

// SetState устанавливает состояние диалога с таймаутом StateTTL.
func (s *Service) SetState(userID int64, stateName string, data interface{}) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	s.states[userID] = &AdminState{
		State:     stateName,
		Data:      data,
		ExpiresAt: s.clock.Now().Add(StateTTL),
	}
}

// ClearState сбрасывает состояние диалога.
func (s *Service) ClearState(userID int64) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	delete(s.states, userID)
}

// --- Криптографические утилиты ---

// Параметры Argon2id для новых хешей.
const (
	argonMemory      uint32 = 64 * 1024
	argonIterations  uint32 = 3
	argonParallelism uint8  = 2
	argonKeyLength   uint32 = 32
	argonSaltLength         = 16
)

// HashPassword строит хеш для ADMIN_PASSWORD_HASH.
// Формат: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2id проверяет пароль по хешу Argon2id.
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Сравниваем в постоянном времени
	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1
}

// generateSecureToken генерирует токен сессии.
func generateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}
