// Package withdrawal: вывод средств на подключённый аккаунт провайдера.
// Средства сначала резервируются (reserved_balance), затем идёт перевод,
// и по его итогу транзакция проводится или закрывается с ошибкой.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/events"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
	"serotonyl.ru/wallet-ledger/internal/metrics"
	"serotonyl.ru/wallet-ledger/internal/provider"
)

// Итоги попытки вывода для метрик.
const (
	resultOK             = "ok"
	resultRejected       = "rejected"
	resultTransferFailed = "transfer_failed"
	resultStuck          = "stuck"
	resultError          = "error"
)

// Store: операции леджера, нужные выводам.
type Store interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*ledger.Profile, error)
	GetWalletByUser(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error)
	ReserveWithdrawal(ctx context.Context, w ledger.NewWithdrawal) (*ledger.Transaction, error)
	CompleteWithdrawal(ctx context.Context, id uuid.UUID, transferID, providerStatus string, at time.Time) (*ledger.Transaction, bool, error)
	FailWithdrawal(ctx context.Context, id uuid.UUID, description string, at time.Time) (*ledger.Transaction, bool, error)
}

// Service: выводы средств.
type Service struct {
	store     Store
	gateway   provider.Gateway
	publisher events.Publisher
	clock     common.Clock
}

// NewService создаёт сервис выводов.
func NewService(store Store, gateway provider.Gateway, publisher events.Publisher, clock common.Clock) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if clock == nil {
		clock = common.RealClock{}
	}
	return &Service{store: store, gateway: gateway, publisher: publisher, clock: clock}
}

// Withdraw выводит amount на подключённый аккаунт пользователя.
// При нарушении предусловий ничего не меняется. При отказе провайдера
// транзакция становится failed, резерв снимается, баланс не трогается.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency string) (*ledger.Transaction, error) {
	amount = common.NormalizeAmount(amount)
	if !amount.IsPositive() {
		metrics.ObserveWithdrawal(resultRejected)
		return nil, common.ErrInvalidAmount
	}

	wallet, profile, err := s.checkPreconditions(ctx, userID, amount)
	if err != nil {
		metrics.ObserveWithdrawal(resultRejected)
		return nil, err
	}

	now := s.clock.Now()
	tx, err := s.store.ReserveWithdrawal(ctx, ledger.NewWithdrawal{
		WalletID:    wallet.ID,
		Amount:      amount,
		Description: ledger.WithdrawalDescription,
		CreatedAt:   now,
	})
	if err != nil {
		if errors.Is(err, common.ErrInsufficientBalance) {
			metrics.ObserveWithdrawal(resultRejected)
		} else {
			metrics.ObserveWithdrawal(resultError)
		}
		return nil, err
	}
	// После резерва вывод доводится до конца, даже если клиент отключился
	// или истёк таймаут запроса: иначе перевод уйдёт, а леджер его не увидит.
	ctx = context.WithoutCancel(ctx)
	events.Emit(ctx, s.publisher, events.FromTransaction(events.TypeCreated, tx, now).WithUser(userID))

	logger := log.WithFields(log.Fields{
		"user_id":        userID,
		"transaction_id": tx.ID,
		"amount":         amount.StringFixed(2),
	})

	transfer, err := s.gateway.CreateTransfer(ctx, provider.TransferRequest{
		Amount:         amount,
		Currency:       common.ResolveCurrency(currency, wallet.Currency, profile.Currency),
		Destination:    profile.StripeAccountID,
		IdempotencyKey: tx.ID.String(),
		Metadata: map[string]string{
			provider.MetaUserID:        userID.String(),
			provider.MetaWalletID:      wallet.ID.String(),
			provider.MetaTransactionID: tx.ID.String(),
			provider.MetaType:          provider.TypeWalletWithdrawal,
		},
	})
	if err != nil {
		if !errors.Is(err, common.ErrTransferFailed) {
			err = fmt.Errorf("%w: %v", common.ErrTransferFailed, err)
		}
		s.fail(ctx, tx, userID, failureReason(err))
		metrics.ObserveWithdrawal(resultTransferFailed)
		logger.WithError(err).Warn("Провайдер отклонил перевод")
		return nil, err
	}

	done, applied, err := s.store.CompleteWithdrawal(ctx, tx.ID, transfer.ID, transfer.Status, s.clock.Now())
	if err != nil {
		// Деньги уже ушли, резерв остаётся до ручного разбора.
		metrics.ObserveWithdrawal(resultStuck)
		logger.WithError(err).WithField("transfer_id", transfer.ID).Error("Перевод выполнен, но вывод не проведён в леджере")
		return nil, fmt.Errorf("перевод %s выполнен, но не записан: %w", transfer.ID, err)
	}
	if !applied {
		logger.WithField("transfer_id", transfer.ID).Warn("Вывод уже закрыт другим процессом")
		current, err := s.store.GetTransaction(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != ledger.StatusCompleted {
			metrics.ObserveWithdrawal(resultTransferFailed)
			return current, fmt.Errorf("%w: вывод закрыт со статусом %s", common.ErrTransferFailed, current.Status)
		}
		metrics.ObserveWithdrawal(resultOK)
		return current, nil
	}

	metrics.ObserveWithdrawal(resultOK)
	events.Emit(ctx, s.publisher, events.FromTransaction(events.TypeCompleted, done, s.clock.Now()).WithUser(userID))
	logger.WithField("transfer_id", transfer.ID).Info("Вывод выполнен")
	return done, nil
}

// checkPreconditions проверяет кошелёк, аккаунт и доступный остаток.
func (s *Service) checkPreconditions(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*ledger.Wallet, *ledger.Profile, error) {
	wallet, err := s.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if profile.StripeAccountID == "" {
		return nil, nil, common.ErrProviderAccountNotLinked
	}
	if !profile.StripePayoutsEnabled {
		return nil, nil, common.ErrPayoutsNotEnabled
	}
	if wallet.Available().LessThan(amount) {
		return nil, nil, common.ErrInsufficientBalance
	}
	// копия баланса в профиле списывается вместе с кошельком: при расхождении
	// проводка после перевода может упасть на CHECK, поэтому выводим только после /resync
	if !profile.Balance.Equal(wallet.Balance) {
		log.WithFields(log.Fields{
			"user_id":         userID,
			"wallet_balance":  wallet.Balance.StringFixed(2),
			"profile_balance": profile.Balance.StringFixed(2),
		}).Warn("Вывод отклонён: баланс профиля расходится с кошельком")
		return nil, nil, common.ErrBalanceMismatch
	}
	return wallet, profile, nil
}

func (s *Service) fail(ctx context.Context, tx *ledger.Transaction, userID uuid.UUID, reason string) {
	now := s.clock.Now()
	failed, applied, err := s.store.FailWithdrawal(ctx, tx.ID, FailureDescription(reason), now)
	if err != nil {
		log.WithError(err).WithField("transaction_id", tx.ID).Error("Не удалось закрыть вывод после отказа провайдера")
		return
	}
	if applied {
		ev := events.FromTransaction(events.TypeFailed, failed, now).WithUser(userID)
		ev.ErrorMessage = reason
		events.Emit(ctx, s.publisher, ev)
	}
}

// CompleteWithdrawal вручную проводит зависший вывод, если перевод у провайдера прошёл.
func (s *Service) CompleteWithdrawal(ctx context.Context, id uuid.UUID, transferID string) (*ledger.Transaction, bool, error) {
	if _, err := s.withdrawalByID(ctx, id); err != nil {
		return nil, false, err
	}
	now := s.clock.Now()
	done, applied, err := s.store.CompleteWithdrawal(ctx, id, transferID, "completed", now)
	if err != nil || !applied {
		return done, applied, err
	}
	events.Emit(ctx, s.publisher, events.FromTransaction(events.TypeCompleted, done, now))
	log.WithFields(log.Fields{
		"transaction_id": id,
		"transfer_id":    transferID,
	}).Info("Зависший вывод проведён вручную")
	return done, true, nil
}

// FailWithdrawal вручную закрывает зависший вывод и снимает резерв.
func (s *Service) FailWithdrawal(ctx context.Context, id uuid.UUID, reason string) (*ledger.Transaction, bool, error) {
	if _, err := s.withdrawalByID(ctx, id); err != nil {
		return nil, false, err
	}
	now := s.clock.Now()
	failed, applied, err := s.store.FailWithdrawal(ctx, id, FailureDescription(reason), now)
	if err != nil || !applied {
		return failed, applied, err
	}
	ev := events.FromTransaction(events.TypeFailed, failed, now)
	ev.ErrorMessage = reason
	events.Emit(ctx, s.publisher, ev)
	log.WithFields(log.Fields{
		"transaction_id": id,
		"reason":         reason,
	}).Info("Зависший вывод закрыт вручную")
	return failed, true, nil
}

// withdrawalByID проверяет только тип: статус проверяет условный переход,
// и для уже закрытого вывода операция вернёт applied=false.
func (s *Service) withdrawalByID(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Type != ledger.TypeWithdrawal {
		return nil, fmt.Errorf("%w: транзакция %s не вывод", common.ErrIllegalTransition, id)
	}
	return tx, nil
}

// FailureDescription: описание неудачного вывода в истории.
func FailureDescription(reason string) string {
	return fmt.Sprintf("%s (ошибка: %s)", ledger.WithdrawalDescription, reason)
}

// failureReason вырезает из ошибки текст провайдера.
func failureReason(err error) string {
	msg := err.Error()
	return strings.TrimPrefix(msg, common.ErrTransferFailed.Error()+": ")
}
