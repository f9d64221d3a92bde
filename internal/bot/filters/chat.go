// Package filters решает, какие сообщения бот обрабатывает.
package filters

import (
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает личные сообщения от людей и разрешённые группы.
type ChatFilter struct {
	allowGroups map[int64]bool // группы, где бот отвечает (например, чат операторов)
}

func NewChatFilter(allowedGroupIDs ...int64) *ChatFilter {
	allow := make(map[int64]bool, len(allowedGroupIDs))
	for _, id := range allowedGroupIDs {
		allow[id] = true
	}
	return &ChatFilter{allowGroups: allow}
}

func (f *ChatFilter) CheckAccess(message *telego.Message) bool {
	if message == nil {
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Debug("nil message.From (service/channel message?)")
		return false
	}

	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
		"user_id":   message.From.ID,
	})

	if message.From.IsBot {
		logger.Debug("deny: sender is a bot")
		return false
	}
	if message.Chat.Type == telego.ChatTypePrivate {
		return true
	}
	if f.allowGroups[message.Chat.ID] {
		logger.Debug("allow: whitelisted group")
		return true
	}
	logger.Debug("deny: not a private chat")
	return false
}
