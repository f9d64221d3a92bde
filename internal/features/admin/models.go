// Package admin реализует операторскую панель бота с парольной аутентификацией.
// models.go описывает структуры сессий, попыток входа и состояния диалога.
package admin

import "time"

// AdminSession: активная сессия администратора.
type AdminSession struct {
	ID              int64     `db:"id"`
	UserID          int64     `db:"user_id"`
	SessionToken    string    `db:"session_token"`
	AuthenticatedAt time.Time `db:"authenticated_at"`
	ExpiresAt       time.Time `db:"expires_at"`
	LastActivity    time.Time `db:"last_activity"`
	IsActive        bool      `db:"is_active"`
}

// Лимиты аутентификации.
const (
	MaxFailedAttempts = 3
	LockoutPeriod     = time.Hour
	SessionTTL        = 24 * time.Hour
	StateTTL          = 5 * time.Minute
)

// AdminState: состояние диалога с админом (конечный автомат).
// Разбор зависших выводов идёт по шагам: список → выбор → решение.
type AdminState struct {
	State     string
	Data      interface{} // список выводов или выбранный вывод
	ExpiresAt time.Time
}

// Возможные состояния админ-диалога
const (
	StateNone             = ""
	StateAwaitingPassword = "awaiting_password"
	StateResolveSelect    = "resolve_select" // Ждём номер вывода из списка
	StateResolveAction    = "resolve_action" // Ждём ID перевода или «отказ <причина>»
)

// Кнопки клавиатуры панели.
const (
	ButtonSweep  = "Закрыть просроченные"
	ButtonDrift  = "Проверить балансы"
	ButtonStuck  = "Зависшие выводы"
	ButtonLogout = "Выйти"
)
