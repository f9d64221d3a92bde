// Package deposit: пополнение кошелька через checkout провайдера
// и сверка по вебхукам: ровно одно зачисление на транзакцию при любом
// числе доставок события.
package deposit

import (
	"time"

	"github.com/google/uuid"
)

// Checkout: созданное пополнение, на которое отправляем пользователя.
type Checkout struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	URL           string    `json:"url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Action: что сделала сверка с событием.
type Action string

const (
	ActionCredited  Action = "credited"  // выиграли переход и зачислили
	ActionDuplicate Action = "duplicate" // транзакция уже не pending, ничего не меняли
	ActionUnpaid    Action = "unpaid"    // сессия завершена без оплаты, ждём async-события или истечения
	ActionExpired   Action = "expired"   // провайдер закрыл сессию, pending → expired
	ActionIgnored   Action = "ignored"   // тип события нас не интересует
)

// Result: итог обработки вебхука.
type Result struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	TransactionID uuid.UUID `json:"transaction_id,omitempty"`
	Action        Action    `json:"action"`
}

// Applied: изменило ли событие леджер.
func (r *Result) Applied() bool {
	return r.Action == ActionCredited || r.Action == ActionExpired
}

// metadata: проверенные метаданные события.
type metadata struct {
	UserID        uuid.UUID
	WalletID      uuid.UUID
	TransactionID uuid.UUID
}
