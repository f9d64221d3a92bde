// Package ledger: service.go содержит чтение леджера для UI и бота,
// а также операции контроля: расхождения балансов и зависшие выводы.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Store: то, что сервису нужно от хранилища.
type Store interface {
	GetSummary(ctx context.Context, userID uuid.UUID) (*Summary, error)
	GetWalletByUser(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, f Filter) (*Page, error)
	ListStuckWithdrawals(ctx context.Context, before time.Time) ([]*Transaction, error)
	DriftReport(ctx context.Context) ([]Drift, error)
	ResyncProfile(ctx context.Context, userID uuid.UUID) error
}

// Service отдаёт сводку и историю кошелька.
type Service struct {
	store Store
}

// NewService создаёт сервис чтения леджера.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Summary возвращает сводку кошелька пользователя.
func (s *Service) Summary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	return s.store.GetSummary(ctx, userID)
}

// History возвращает страницу истории транзакций пользователя.
func (s *Service) History(ctx context.Context, userID uuid.UUID, f Filter) (*Page, error) {
	w, err := s.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, w.ID, f.Normalize())
}

// StuckWithdrawals: processing-выводы старше threshold.
func (s *Service) StuckWithdrawals(ctx context.Context, now time.Time, threshold time.Duration) ([]*Transaction, error) {
	return s.store.ListStuckWithdrawals(ctx, now.Add(-threshold))
}

// CheckDrift ищет расхождения и пишет каждое в лог.
func (s *Service) CheckDrift(ctx context.Context) ([]Drift, error) {
	drifts, err := s.store.DriftReport(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range drifts {
		log.WithFields(log.Fields{
			"user_id":         d.UserID,
			"wallet_id":       d.WalletID,
			"wallet_balance":  d.WalletBalance.String(),
			"profile_balance": d.ProfileBalance.String(),
			"ledger_balance":  d.LedgerBalance.String(),
		}).Warn("Расхождение балансов")
	}
	return drifts, nil
}

// ResyncProfile выравнивает профиль по кошельку.
func (s *Service) ResyncProfile(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.ResyncProfile(ctx, userID); err != nil {
		return err
	}
	log.WithField("user_id", userID).Info("Баланс профиля синхронизирован с кошельком")
	return nil
}
