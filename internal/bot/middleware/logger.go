// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	"unicode/utf8"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// maxLoggedText: сколько символов текста попадает в лог.
const maxLoggedText = 50

// LogMessage логирует входящее сообщение: user_id, chat_id, username, начало текста.
// Суммы и пароли целиком в лог не попадают.
func LogMessage(message *telego.Message) {
	if message == nil || message.From == nil {
		return
	}

	log.WithFields(log.Fields{
		"user_id":   message.From.ID,
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
		"username":  message.From.Username,
		"text":      Truncate(message.Text, maxLoggedText),
	}).Debug("Входящее сообщение")
}

// Truncate обрезает строку до n символов (не байт).
func Truncate(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}
