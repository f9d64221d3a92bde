// Package ledger: хранилище кошельков, профилей и транзакций.
// models.go описывает структуры данных и статусную модель транзакций.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type: тип транзакции.
type Type string

const (
	TypeIncome     Type = "income"
	TypeOutcome    Type = "outcome"
	TypeWithdrawal Type = "withdrawal"
	TypeDeposit    Type = "deposit"
	TypeFee        Type = "fee"
)

// Valid сообщает, известен ли тип.
func (t Type) Valid() bool {
	switch t {
	case TypeIncome, TypeOutcome, TypeWithdrawal, TypeDeposit, TypeFee:
		return true
	}
	return false
}

// Credit: увеличивает ли транзакция такого типа баланс.
func (t Type) Credit() bool {
	return t == TypeIncome || t == TypeDeposit
}

// Провайдеры, с которыми работает леджер.
const (
	ProviderStripe        = "stripe"         // checkout-пополнения
	ProviderStripeConnect = "stripe_connect" // выводы на подключённый аккаунт
)

// ProviderStatusAwaitingPayment: сессия завершена, асинхронная оплата ещё идёт.
// Такие пополнения свип не трогает, их закрывает только событие провайдера.
const ProviderStatusAwaitingPayment = "awaiting_payment"

// Тексты описаний, которые видит пользователь в истории.
const (
	DepositDescription    = "Stripe пополнение кошелька"
	WithdrawalDescription = "Вывод средств на Stripe аккаунт"
	ExpiredSuffix         = " (превышено время ожидания оплаты)"
)

// Wallet: кошелёк пользователя (один на пользователя).
type Wallet struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Balance         decimal.Decimal `json:"balance"`          // Текущий баланс
	ReservedBalance decimal.Decimal `json:"reserved_balance"` // Заблокировано под выводы в процессе
	TotalEarned     decimal.Decimal `json:"total_earned"`
	TotalWithdrawn  decimal.Decimal `json:"total_withdrawn"`
	Currency        string          `json:"currency"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Available: сколько можно вывести прямо сейчас.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.ReservedBalance)
}

// Profile: денормализованная копия баланса и данные платёжного аккаунта.
type Profile struct {
	ID                   uuid.UUID       `json:"id"`
	Balance              decimal.Decimal `json:"balance"`
	Currency             string          `json:"currency"`
	StripeAccountID      string          `json:"stripe_account_id,omitempty"`
	StripePayoutsEnabled bool            `json:"stripe_payouts_enabled"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Transaction: одна запись леджера.
type Transaction struct {
	ID                uuid.UUID       `json:"id"`
	WalletID          uuid.UUID       `json:"wallet_id"`
	Type              Type            `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	Status            Status          `json:"status"`
	Description       string          `json:"description"`
	ReferenceType     *string         `json:"reference_type,omitempty"`
	ReferenceID       *string         `json:"reference_id,omitempty"`
	Provider          *string         `json:"provider,omitempty"`
	ProviderPaymentID *string         `json:"provider_payment_id,omitempty"`
	ProviderStatus    *string         `json:"provider_status,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
}

// Summary: сводка кошелька для UI.
type Summary struct {
	Wallet         *Wallet         `json:"wallet"`
	PendingBalance decimal.Decimal `json:"pending_balance"` // Сумма pending/processing транзакций
	ProfileBalance decimal.Decimal `json:"profile_balance"`
}

// Filter: фильтр и пагинация истории транзакций.
type Filter struct {
	Type   Type
	Status Status
	Limit  int
	Offset int
}

// Лимиты пагинации истории.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize приводит лимиты к допустимым значениям.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Page: страница истории.
type Page struct {
	Items  []*Transaction `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Drift: расхождение балансов одного пользователя.
type Drift struct {
	UserID         uuid.UUID       `json:"user_id"`
	WalletID       uuid.UUID       `json:"wallet_id"`
	WalletBalance  decimal.Decimal `json:"wallet_balance"`
	ProfileBalance decimal.Decimal `json:"profile_balance"`
	LedgerBalance  decimal.Decimal `json:"ledger_balance"` // Σ completed кредитов − Σ completed дебетов
}

// ProfileMismatch: кошелёк и профиль расходятся.
func (d Drift) ProfileMismatch() bool {
	return !d.WalletBalance.Equal(d.ProfileBalance)
}

// LedgerMismatch: кошелёк расходится с суммой проведённых транзакций.
func (d Drift) LedgerMismatch() bool {
	return !d.WalletBalance.Equal(d.LedgerBalance)
}

// NewDeposit: параметры pending-пополнения.
type NewDeposit struct {
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Description string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// NewWithdrawal: параметры processing-вывода.
type NewWithdrawal struct {
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time
}

// WithdrawalOutcome: результат перевода у провайдера.
type WithdrawalOutcome struct {
	TransferID     string
	ProviderStatus string
	FailureReason  string // пусто при успехе
}
