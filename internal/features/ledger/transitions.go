package ledger

import "fmt"

// Status: статус транзакции.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// transitions: единственные разрешённые переходы.
// Та же таблица зашита в триггер transactions_guard_update.
var transitions = map[Status][]Status{
	StatusPending:    {StatusCompleted, StatusExpired},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// Valid сообщает, известен ли статус.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal: после этого статуса запись не меняется.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusPending && s != StatusProcessing
}

// CanTransition проверяет переход по таблице.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus разбирает статус из строки запроса.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("неизвестный статус %q", s)
	}
	return st, nil
}

// ParseType разбирает тип из строки запроса.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("неизвестный тип %q", s)
	}
	return t, nil
}
