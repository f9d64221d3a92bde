package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/wallet-ledger/internal/config"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
)

func TestFromTransactionMarshal(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tx := &ledger.Transaction{
		ID: uuid.New(), WalletID: uuid.New(), Type: ledger.TypeDeposit,
		Amount: decimal.RequireFromString("50.25"), Status: ledger.StatusCompleted,
	}
	user := uuid.New()

	payload, err := FromTransaction(TypeCompleted, tx, at).WithUser(user).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["event_type"] != TypeCompleted || got["transaction_type"] != "deposit" || got["status"] != "completed" {
		t.Fatalf("unexpected payload %s", payload)
	}
	if got["amount"] != "50.25" {
		t.Fatalf("amount = %v", got["amount"])
	}
	if got["user_id"] != user.String() {
		t.Fatalf("user_id = %v", got["user_id"])
	}
}

func TestNewSelectsBackend(t *testing.T) {
	p, err := New(context.Background(), &config.Config{EventsBackend: BackendNone})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(NopPublisher); !ok {
		t.Fatalf("got %T, want NopPublisher", p)
	}

	p, err = New(context.Background(), &config.Config{EventsBackend: BackendKafka, KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "t"})
	if err != nil {
		t.Fatalf("New kafka: %v", err)
	}
	if _, ok := p.(*KafkaPublisher); !ok {
		t.Fatalf("got %T, want *KafkaPublisher", p)
	}
	_ = p.Close()

	if _, err := New(context.Background(), &config.Config{EventsBackend: "nats"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestEmitSwallowsErrors(t *testing.T) {
	rec := &Recorder{Err: errors.New("шина недоступна")}
	Emit(context.Background(), rec, Event{EventType: TypeFailed})
	if len(rec.Events()) != 0 {
		t.Fatal("failed publish must not be recorded")
	}

	rec.Err = nil
	Emit(context.Background(), rec, Event{EventType: TypeFailed}, Event{EventType: TypeExpired})
	if rec.Count(TypeFailed) != 1 || rec.Count(TypeExpired) != 1 {
		t.Fatalf("events = %+v", rec.Events())
	}
	Emit(context.Background(), nil, Event{EventType: TypeFailed})
}
