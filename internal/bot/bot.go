// Package bot содержит Telegram-фронт кошелька: long polling, фильтры,
// маршрутизацию команд к обработчикам фич.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/bot/filters"
	"serotonyl.ru/wallet-ledger/internal/bot/middleware"
)

// HelpText: ответ на /start и /help.
const HelpText = `👛 Кошелёк

/баланс: баланс и резерв
/история: последние операции
/пополнить <сумма> [валюта]: ссылка на оплату
/вывести <сумма> [валюта]: вывод на подключённый аккаунт

Кошелёк привязывает администратор: сообщите ему ваш Telegram ID.`

// MemberRegistry регистрирует пишущих боту пользователей.
type MemberRegistry interface {
	EnsureMember(ctx context.Context, userID int64, username, firstName, lastName string) error
}

// NewMembersHandler обрабатывает вступление в чат.
type NewMembersHandler interface {
	HandleNewChatMembers(ctx context.Context, users []telego.User)
}

// WalletCommands: команды кошелька.
type WalletCommands interface {
	HandleBalance(ctx context.Context, chatID, telegramID int64)
	HandleHistory(ctx context.Context, chatID, telegramID int64)
	HandleDeposit(ctx context.Context, chatID, telegramID int64, args []string)
	HandleWithdraw(ctx context.Context, chatID, telegramID int64, args []string)
}

// AdminPanel: админ-панель в личке; false, сообщение не для панели.
type AdminPanel interface {
	HandleAdminMessage(ctx context.Context, chatID, userID int64, text string) bool
}

// Messenger отправляет ответы.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string)
}

// Deps: обработчики, к которым бот маршрутизирует апдейты.
type Deps struct {
	Members    MemberRegistry
	NewMembers NewMembersHandler
	Wallet     WalletCommands
	Admin      AdminPanel
	Messenger  Messenger
	ChatFilter *filters.ChatFilter
}

// Options: параметры polling и лимитов.
type Options struct {
	MaxInflight       int
	UpdateTimeout     int // секунды long polling
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Bot: главная структура бота, объединяющая все компоненты.
type Bot struct {
	api  *telego.Bot
	deps Deps
	opts Options

	rateLimiter *middleware.RateLimiter
	parser      *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
	wg       sync.WaitGroup
}

// New создаёт бота. api может быть nil в тестах маршрутизации.
func New(api *telego.Bot, deps Deps, opts Options) *Bot {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 64
	}
	if deps.ChatFilter == nil {
		deps.ChatFilter = filters.NewChatFilter()
	}
	return &Bot{
		api:         api,
		deps:        deps,
		opts:        opts,
		rateLimiter: middleware.NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		parser:      NewCommandParser(),
		inflight:    make(chan struct{}, opts.MaxInflight),
	}
}

// Start запускает long polling и блокируется до отмены ctx.
// Перед возвратом дожидается обработки уже принятых апдейтов.
func (b *Bot) Start(ctx context.Context) error {
	defer b.rateLimiter.Close()

	updates, err := b.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        b.opts.UpdateTimeout,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("ошибка запуска long polling: %w", err)
	}

	log.WithFields(log.Fields{
		"max_inflight": b.opts.MaxInflight,
		"timeout_sec":  b.opts.UpdateTimeout,
	}).Info("Бот запущен и ожидает сообщения...")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			return nil

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return nil
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			b.wg.Add(1)
			go func(upd telego.Update) {
				defer func() {
					<-b.inflight
					b.wg.Done()
				}()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update telego.Update) {
	defer middleware.RecoverFromPanic(update.UpdateID)

	message := update.Message
	if message == nil {
		return
	}

	if len(message.NewChatMembers) > 0 {
		b.deps.NewMembers.HandleNewChatMembers(ctx, message.NewChatMembers)
		return
	}

	if message.Text == "" {
		return
	}

	middleware.LogMessage(message)

	if !b.deps.ChatFilter.CheckAccess(message) {
		return
	}

	userID := message.From.ID
	chatID := message.Chat.ID

	if !b.rateLimiter.Allow(userID) {
		log.WithField("user_id", userID).Debug("rate limited")
		return
	}

	if err := b.deps.Members.EnsureMember(ctx, userID,
		message.From.Username, message.From.FirstName, message.From.LastName,
	); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("EnsureMember failed")
	}

	// В личке сначала админ-панель: пароль и шаги диалога не являются командами
	if message.Chat.Type == telego.ChatTypePrivate {
		if b.deps.Admin.HandleAdminMessage(ctx, chatID, userID, message.Text) {
			return
		}
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}
	log.WithFields(log.Fields{
		"cmd":     cmd,
		"args_n":  len(args),
		"user_id": userID,
	}).Debug("routing command")

	b.routeCommand(ctx, chatID, userID, cmd, args)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, chatID, userID int64, cmd string, args []string) {
	switch cmd {
	case "start", "help", "помощь":
		b.deps.Messenger.Send(ctx, chatID, fmt.Sprintf("%s\n\nВаш Telegram ID: %d", HelpText, userID))

	case "баланс", "balance":
		b.deps.Wallet.HandleBalance(ctx, chatID, userID)

	case "история", "history":
		b.deps.Wallet.HandleHistory(ctx, chatID, userID)

	case "пополнить", "deposit":
		b.deps.Wallet.HandleDeposit(ctx, chatID, userID, args)

	case "вывести", "withdraw":
		b.deps.Wallet.HandleWithdraw(ctx, chatID, userID, args)
	}
}

// CommandParser парсит команды с префиксами "/", "!" и ".".
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!", "."},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// Суффикс @имя_бота у команды отбрасывается.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if i := strings.IndexByte(command, '@'); i > 0 {
		command = command[:i]
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
