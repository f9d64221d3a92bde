package bot

import (
	"context"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
)

// Sender отправляет сообщения через Telegram Bot API.
type Sender struct {
	api *telego.Bot
}

// NewSender создаёт отправителя поверх клиента telego.
func NewSender(api *telego.Bot) *Sender {
	return &Sender{api: api}
}

// Send отправляет текст; ошибки только логируются.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) {
	if _, err := s.api.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// SendKeyboard отправляет текст с reply-клавиатурой.
func (s *Sender) SendKeyboard(ctx context.Context, chatID int64, text string, rows [][]string) {
	keyboard := make([][]telego.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]telego.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tu.KeyboardButton(label))
		}
		keyboard = append(keyboard, tu.KeyboardRow(buttons...))
	}

	msg := tu.Message(tu.ID(chatID), text).
		WithReplyMarkup(tu.Keyboard(keyboard...).WithResizeKeyboard())
	if _, err := s.api.SendMessage(ctx, msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки клавиатуры")
	}
}

// Notifier возвращает функцию рассылки уведомлений: в чат операторов,
// если он задан, иначе каждому админу в личку.
func Notifier(ctx context.Context, send func(ctx context.Context, chatID int64, text string), adminChatID int64, adminIDs []int64) func(string) {
	targets := adminIDs
	if adminChatID != 0 {
		targets = []int64{adminChatID}
	}
	return func(text string) {
		for _, id := range targets {
			send(ctx, id, text)
		}
	}
}
