// Package provider описывает внешний платёжный шлюз: checkout-сессии,
// переводы на подключённые аккаунты и подписанные вебхуки.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Типы событий вебхука, которые понимает сверка пополнений.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutExpired        = "checkout.session.expired"
	EventCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
)

// Ключи метаданных, которые мы кладём в сессию и перевод.
const (
	MetaUserID        = "user_id"
	MetaWalletID      = "wallet_id"
	MetaTransactionID = "transaction_id"
	MetaType          = "type"
)

// TypeWalletWithdrawal: значение MetaType для выводов.
const TypeWalletWithdrawal = "wallet_withdrawal"

// PaymentStatusUnpaid: оплата ещё не прошла (асинхронные методы оплаты).
const PaymentStatusUnpaid = "unpaid"

// CheckoutRequest: параметры checkout-сессии пополнения.
type CheckoutRequest struct {
	Amount         decimal.Decimal
	Currency       string
	ExpiresAt      time.Time
	IdempotencyKey string
	Metadata       map[string]string
}

// CheckoutSession: созданная сессия.
type CheckoutSession struct {
	ID  string
	URL string
}

// TransferRequest: перевод на подключённый аккаунт.
type TransferRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Destination    string
	IdempotencyKey string
	Metadata       map[string]string
}

// Transfer: результат перевода.
type Transfer struct {
	ID     string
	Status string
}

// WebhookEvent: проверенное событие провайдера.
type WebhookEvent struct {
	ID            string
	Type          string
	SessionID     string
	PaymentStatus string
	Metadata      map[string]string
}

// Gateway: платёжный шлюз.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	// ParseWebhook проверяет подпись и разбирает событие.
	// При неверной подписи возвращает common.ErrInvalidSignature.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
