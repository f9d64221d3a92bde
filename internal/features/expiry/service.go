// Package expiry: чистильщик просроченных пополнений.
// Переводит pending-пополнения с истёкшим expires_at в expired одним
// условным UPDATE. Балансы не меняются.
package expiry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/events"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
	"serotonyl.ru/wallet-ledger/internal/metrics"
)

// Store: операция леджера, нужная чистильщику.
type Store interface {
	ExpirePendingDeposits(ctx context.Context, now time.Time) ([]*ledger.Transaction, error)
}

// Service: чистильщик.
type Service struct {
	store     Store
	publisher events.Publisher
}

// NewService создаёт чистильщика.
func NewService(store Store, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{store: store, publisher: publisher}
}

// SweepExpiredDeposits закрывает просроченные пополнения и возвращает их число.
// Безопасен при параллельном запуске и при гонке с подтверждением оплаты:
// каждую транзакцию переводит ровно один участник.
func (s *Service) SweepExpiredDeposits(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ExpirePendingDeposits(ctx, now)
	metrics.ObserveSweep(now, len(expired), err)
	if err != nil {
		log.WithError(err).Error("Ошибка при закрытии просроченных пополнений")
		return 0, err
	}

	for _, tx := range expired {
		events.Emit(ctx, s.publisher, events.FromTransaction(events.TypeExpired, tx, now))
	}

	if len(expired) > 0 {
		log.WithField("count", len(expired)).Info("Просроченные пополнения закрыты")
	} else {
		log.Debug("Просроченных пополнений нет")
	}
	return len(expired), nil
}
