// Package members управляет участниками Telegram: регистрацией, флагом админа
// и привязкой к пользователю леджера.
// models.go описывает структуры данных таблицы members.
package members

import (
	"time"

	"github.com/google/uuid"
)

// Member: пользователь Telegram, который писал боту.
type Member struct {
	ID        int64      `db:"id"`
	UserID    int64      `db:"user_id"`    // Telegram user ID (уникальный)
	Username  string     `db:"username"`   // @username (может быть пустым)
	FirstName string     `db:"first_name"` // Имя пользователя
	LastName  string     `db:"last_name"`  // Фамилия (может быть пустой)
	ProfileID *uuid.UUID `db:"profile_id"` // Пользователь леджера; nil, не привязан
	IsAdmin   bool       `db:"is_admin"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// Linked: привязан ли участник к кошельку.
func (m *Member) Linked() bool {
	return m.ProfileID != nil
}

// DisplayName возвращает отображаемое имя пользователя.
// Если есть @username, возвращает его, иначе, имя + фамилию.
func (m *Member) DisplayName() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	name := m.FirstName
	if m.LastName != "" {
		name += " " + m.LastName
	}
	return name
}
