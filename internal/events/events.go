// Package events публикует события о транзакциях леджера во внешнюю шину
// (Redis pub/sub или Kafka). Публикация идёт после коммита и не влияет
// на результат операции: ошибки только логируются.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/config"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
)

// Типы событий.
const (
	TypeCreated   = "transaction.created"
	TypeCompleted = "transaction.completed"
	TypeFailed    = "transaction.failed"
	TypeExpired   = "transaction.expired"
)

// Бэкенды публикации.
const (
	BackendNone  = "none"
	BackendRedis = "redis"
	BackendKafka = "kafka"
)

// Event: событие об изменении транзакции.
type Event struct {
	EventType       string          `json:"event_type"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
	WalletID        uuid.UUID       `json:"wallet_id"`
	UserID          *uuid.UUID      `json:"user_id,omitempty"`
	TransactionType string          `json:"transaction_type"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// FromTransaction собирает событие из транзакции.
func FromTransaction(eventType string, t *ledger.Transaction, at time.Time) Event {
	return Event{
		EventType:       eventType,
		TransactionID:   t.ID,
		WalletID:        t.WalletID,
		TransactionType: string(t.Type),
		Status:          string(t.Status),
		Amount:          t.Amount,
		Description:     t.Description,
		Timestamp:       at,
	}
}

// WithUser проставляет пользователя.
func (e Event) WithUser(userID uuid.UUID) Event {
	e.UserID = &userID
	return e
}

// Marshal сериализует событие в JSON.
func (e Event) Marshal() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("сериализация события: %w", err)
	}
	return payload, nil
}

// Publisher: шина событий.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New создаёт издателя по настройке EVENTS_BACKEND.
func New(ctx context.Context, cfg *config.Config) (Publisher, error) {
	switch cfg.EventsBackend {
	case BackendRedis:
		return NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel)
	case BackendKafka:
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case BackendNone, "":
		return NopPublisher{}, nil
	default:
		return nil, fmt.Errorf("неизвестный EVENTS_BACKEND: %q", cfg.EventsBackend)
	}
}

// Emit публикует события, логируя ошибки. Результат операции от шины не зависит.
func Emit(ctx context.Context, p Publisher, evs ...Event) {
	if p == nil {
		return
	}
	for _, e := range evs {
		if err := p.Publish(ctx, e); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"event_type":     e.EventType,
				"transaction_id": e.TransactionID,
			}).Warn("Не удалось опубликовать событие")
		}
	}
}

// NopPublisher ничего не публикует.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
