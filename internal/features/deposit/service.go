// Package deposit: service.go содержит создание пополнений и сверку по вебхукам.
// Порядок проверки события: подпись → метаданные → транзакция → кошелёк → условный переход.
package deposit

import (
	"context"
	"errors"
	"fmt"
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

// Store: операции леджера, нужные пополнениям.
type Store interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*ledger.Profile, error)
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error)
	CreateDeposit(ctx context.Context, d ledger.NewDeposit) (*ledger.Transaction, error)
	AttachCheckoutSession(ctx context.Context, id uuid.UUID, sessionID string, at time.Time) error
	MarkCheckoutFailed(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkAwaitingPayment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error)
	CompleteDeposit(ctx context.Context, id uuid.UUID, providerStatus string, at time.Time) (*ledger.Transaction, bool, error)
	ExpireDeposit(ctx context.Context, id uuid.UUID, at time.Time) (*ledger.Transaction, bool, error)
}

// Service: пополнения кошелька.
type Service struct {
	store     Store
	gateway   provider.Gateway
	publisher events.Publisher
	clock     common.Clock
	ttl       time.Duration
}

// NewService создаёт сервис пополнений. ttl: время жизни checkout-сессии.
func NewService(store Store, gateway provider.Gateway, publisher events.Publisher, clock common.Clock, ttl time.Duration) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if clock == nil {
		clock = common.RealClock{}
	}
	return &Service{store: store, gateway: gateway, publisher: publisher, clock: clock, ttl: ttl}
}

// InitiateDeposit заводит pending-пополнение и создаёт checkout-сессию.
// Если провайдер отказал, транзакция помечается истёкшей по времени,
// и ближайший проход чистильщика переведёт её в expired.
func (s *Service) InitiateDeposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency string) (*Checkout, error) {
	amount = common.NormalizeAmount(amount)
	if !amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.store.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)
	tx, err := s.store.CreateDeposit(ctx, ledger.NewDeposit{
		WalletID:    wallet.ID,
		Amount:      amount,
		Description: ledger.DepositDescription,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пополнение: %w", err)
	}
	events.Emit(ctx, s.publisher, events.FromTransaction(events.TypeCreated, tx, now).WithUser(userID))

	session, err := s.gateway.CreateCheckoutSession(ctx, provider.CheckoutRequest{
		Amount:         amount,
		Currency:       common.ResolveCurrency(currency, wallet.Currency, profile.Currency),
		ExpiresAt:      expiresAt,
		IdempotencyKey: tx.ID.String(),
		Metadata: map[string]string{
			provider.MetaUserID:        userID.String(),
			provider.MetaWalletID:      wallet.ID.String(),
			provider.MetaTransactionID: tx.ID.String(),
		},
	})
	metrics.ObserveDepositInitiated(err)
	if err != nil {
		if markErr := s.store.MarkCheckoutFailed(ctx, tx.ID, now); markErr != nil {
			log.WithError(markErr).WithField("transaction_id", tx.ID).Error("Не удалось пометить пополнение после ошибки checkout")
		}
		log.WithError(err).WithFields(log.Fields{
			"user_id":        userID,
			"transaction_id": tx.ID,
		}).Warn("Провайдер не создал checkout-сессию")
		return nil, err
	}

	if err := s.store.AttachCheckoutSession(ctx, tx.ID, session.ID, now); err != nil {
		// Сессия уже создана, вебхук найдёт транзакцию по метаданным.
		log.WithError(err).WithField("transaction_id", tx.ID).Error("Не удалось сохранить id checkout-сессии")
	}

	log.WithFields(log.Fields{
		"user_id":        userID,
		"transaction_id": tx.ID,
		"amount":         amount.StringFixed(2),
		"session_id":     session.ID,
	}).Info("Создано пополнение")

	return &Checkout{TransactionID: tx.ID, URL: session.URL, ExpiresAt: expiresAt}, nil
}

// ConfirmDeposit обрабатывает подписанный вебхук провайдера.
// Повторная доставка, гонка с другой доставкой или с чистильщиком
// заканчиваются успехом без изменений леджера.
func (s *Service) ConfirmDeposit(ctx context.Context, payload []byte, signature string) (*Result, error) {
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, common.ErrInvalidSignature) {
			metrics.ObserveWebhookRejected("signature")
			return nil, err
		}
		metrics.ObserveWebhookRejected("malformed")
		if errors.Is(err, common.ErrMalformedEvent) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
	}

	res := &Result{EventID: ev.ID, EventType: ev.Type}
	switch ev.Type {
	case provider.EventCheckoutCompleted, provider.EventCheckoutAsyncSucceeded:
		return s.confirm(ctx, ev, res)
	case provider.EventCheckoutExpired, provider.EventCheckoutAsyncFailed:
		return s.expire(ctx, ev, res)
	default:
		res.Action = ActionIgnored
		log.WithFields(log.Fields{"event_id": ev.ID, "event_type": ev.Type}).Debug("Событие провайдера пропущено")
		return res, nil
	}
}

func (s *Service) confirm(ctx context.Context, ev *provider.WebhookEvent, res *Result) (*Result, error) {
	meta, tx, err := s.resolve(ctx, ev)
	if err != nil {
		return nil, err
	}
	res.TransactionID = tx.ID

	if ev.Type == provider.EventCheckoutCompleted && ev.PaymentStatus == provider.PaymentStatusUnpaid {
		// срок снимаем, иначе свип закроет пополнение до прихода async-события
		marked, err := s.store.MarkAwaitingPayment(ctx, tx.ID, s.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("не удалось отметить ожидание оплаты %s: %w", tx.ID, err)
		}
		if !marked {
			res.Action = ActionDuplicate
			metrics.ObserveDepositConfirmation(metrics.OutcomeDuplicate)
			return res, nil
		}
		res.Action = ActionUnpaid
		metrics.ObserveDepositConfirmation(metrics.OutcomeUnpaid)
		log.WithFields(log.Fields{
			"event_id":       ev.ID,
			"transaction_id": tx.ID,
		}).Info("Сессия завершена без оплаты, ждём подтверждения")
		return res, nil
	}

	providerStatus := ev.PaymentStatus
	if providerStatus == "" {
		providerStatus = "paid"
	}
	now := s.clock.Now()
	completed, applied, err := s.store.CompleteDeposit(ctx, tx.ID, providerStatus, now)
	if err != nil {
		return nil, fmt.Errorf("не удалось провести пополнение %s: %w", tx.ID, err)
	}
	if !applied {
		res.Action = ActionDuplicate
		metrics.ObserveDepositConfirmation(metrics.OutcomeDuplicate)
		log.WithFields(log.Fields{
			"event_id":       ev.ID,
			"transaction_id": tx.ID,
			"status":         tx.Status,
		}).Info("Пополнение уже обработано, повторное событие проигнорировано")
		return res, nil
	}

	res.Action = ActionCredited
	metrics.ObserveDepositConfirmation(metrics.OutcomeApplied)
	events.Emit(ctx, s.publisher, events.FromTransaction(events.TypeCompleted, completed, now).WithUser(meta.UserID))
	log.WithFields(log.Fields{
		"event_id":       ev.ID,
		"transaction_id": tx.ID,
		"user_id":        meta.UserID,
		"amount":         completed.Amount.StringFixed(2),
	}).Info("Пополнение зачислено")
	return res, nil
}

func (s *Service) expire(ctx context.Context, ev *provider.WebhookEvent, res *Result) (*Result, error) {
	meta, tx, err := s.resolve(ctx, ev)
	if err != nil {
		return nil, err
	}
	res.TransactionID = tx.ID

	now := s.clock.Now()
	expired, applied, err := s.store.ExpireDeposit(ctx, tx.ID, now)
	if err != nil {
		return nil, fmt.Errorf("не удалось закрыть пополнение %s: %w", tx.ID, err)
	}
	if !applied {
		res.Action = ActionDuplicate
		return res, nil
	}

	res.Action = ActionExpired
	metrics.ObserveDepositsExpired(metrics.SourceWebhook, 1)
	events.Emit(ctx, s.publisher, events.FromTransaction(events.TypeExpired, expired, now).WithUser(meta.UserID))
	log.WithFields(log.Fields{
		"event_id":       ev.ID,
		"transaction_id": tx.ID,
	}).Info("Checkout-сессия истекла, пополнение закрыто")
	return res, nil
}

// resolve проверяет метаданные и находит транзакцию события.
func (s *Service) resolve(ctx context.Context, ev *provider.WebhookEvent) (*metadata, *ledger.Transaction, error) {
	meta, err := parseMetadata(ev.Metadata)
	if err != nil {
		metrics.ObserveWebhookRejected("malformed")
		return nil, nil, err
	}

	tx, err := s.store.GetTransaction(ctx, meta.TransactionID)
	if errors.Is(err, common.ErrTransactionNotFound) {
		metrics.ObserveWebhookRejected("unknown_transaction")
		return nil, nil, fmt.Errorf("%w: %s", common.ErrUnknownTransaction, meta.TransactionID)
	}
	if err != nil {
		return nil, nil, err
	}

	if tx.WalletID != meta.WalletID || tx.Type != ledger.TypeDeposit {
		metrics.ObserveWebhookRejected("wallet_mismatch")
		log.WithFields(log.Fields{
			"event_id":       ev.ID,
			"transaction_id": tx.ID,
			"event_wallet":   meta.WalletID,
			"stored_wallet":  tx.WalletID,
			"type":           tx.Type,
		}).Warn("Событие не соответствует транзакции")
		return nil, nil, fmt.Errorf("%w: кошелёк не совпадает с транзакцией", common.ErrMalformedEvent)
	}
	return meta, tx, nil
}

func parseMetadata(m map[string]string) (*metadata, error) {
	var out metadata
	fields := []struct {
		key string
		dst *uuid.UUID
	}{
		{provider.MetaUserID, &out.UserID},
		{provider.MetaWalletID, &out.WalletID},
		{provider.MetaTransactionID, &out.TransactionID},
	}
	for _, f := range fields {
		raw, ok := m[f.key]
		if !ok || raw == "" {
			return nil, fmt.Errorf("%w: нет %s в метаданных", common.ErrMalformedEvent, f.key)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s не UUID", common.ErrMalformedEvent, f.key)
		}
		*f.dst = id
	}
	return &out, nil
}
