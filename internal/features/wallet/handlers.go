// Package wallet: Telegram-команды кошелька для привязанных участников:
// /баланс, /история, /пополнить <сумма>, /вывести <сумма>.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/features/deposit"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
)

// HistorySize: сколько последних операций показывает /история.
const HistorySize = 10

// Sender отправляет ответы в Telegram.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string)
}

// Linker находит пользователя леджера по Telegram ID.
type Linker interface {
	LinkedProfile(ctx context.Context, telegramID int64) (uuid.UUID, error)
}

// Reader: чтение кошелька.
type Reader interface {
	Summary(ctx context.Context, userID uuid.UUID) (*ledger.Summary, error)
	History(ctx context.Context, userID uuid.UUID, f ledger.Filter) (*ledger.Page, error)
}

// Depositor создаёт сессию оплаты.
type Depositor interface {
	InitiateDeposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency string) (*deposit.Checkout, error)
}

// Withdrawer выводит средства на подключённый аккаунт.
type Withdrawer interface {
	Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency string) (*ledger.Transaction, error)
}

// Handler обрабатывает команды кошелька.
type Handler struct {
	linker     Linker
	reader     Reader
	depositor  Depositor
	withdrawer Withdrawer
	sender     Sender
}

// NewHandler создаёт обработчик команд кошелька.
func NewHandler(linker Linker, reader Reader, depositor Depositor, withdrawer Withdrawer, sender Sender) *Handler {
	return &Handler{
		linker:     linker,
		reader:     reader,
		depositor:  depositor,
		withdrawer: withdrawer,
		sender:     sender,
	}
}

// HandleBalance: /баланс.
//
// Формат ответа:
//
//	💰 Баланс: 150.00 USD
//	🔒 В резерве: 20.00 USD
//	⏳ Ожидает оплаты: 10.00 USD
//	Доступно к выводу: 130.00 USD
func (h *Handler) HandleBalance(ctx context.Context, chatID, telegramID int64) {
	userID, ok := h.resolve(ctx, chatID, telegramID)
	if !ok {
		return
	}
	s, err := h.reader.Summary(ctx, userID)
	if err != nil {
		h.replyError(ctx, chatID, err, "❌ Ошибка получения баланса")
		return
	}

	cur := s.Wallet.Currency
	text := fmt.Sprintf("💰 Баланс: %s\n🔒 В резерве: %s\n⏳ Ожидает оплаты: %s\nДоступно к выводу: %s",
		common.FormatMoney(s.Wallet.Balance, cur),
		common.FormatMoney(s.Wallet.ReservedBalance, cur),
		common.FormatMoney(s.PendingBalance, cur),
		common.FormatMoney(s.Wallet.Available(), cur),
	)
	h.sender.Send(ctx, chatID, text)
}

// HandleHistory: /история, последние HistorySize операций.
func (h *Handler) HandleHistory(ctx context.Context, chatID, telegramID int64) {
	userID, ok := h.resolve(ctx, chatID, telegramID)
	if !ok {
		return
	}
	page, err := h.reader.History(ctx, userID, ledger.Filter{Limit: HistorySize})
	if err != nil {
		h.replyError(ctx, chatID, err, "❌ Ошибка получения истории транзакций")
		return
	}
	h.sender.Send(ctx, chatID, FormatHistory(page))
}

// HandleDeposit: /пополнить <сумма> [валюта].
func (h *Handler) HandleDeposit(ctx context.Context, chatID, telegramID int64, args []string) {
	amount, currency, ok := h.parseAmount(ctx, chatID, args, "/пополнить")
	if !ok {
		return
	}
	userID, ok := h.resolve(ctx, chatID, telegramID)
	if !ok {
		return
	}
	checkout, err := h.depositor.InitiateDeposit(ctx, userID, amount, currency)
	if err != nil {
		h.replyError(ctx, chatID, err, "❌ Не удалось создать оплату, попробуйте позже")
		return
	}
	h.sender.Send(ctx, chatID, fmt.Sprintf(
		"💳 Оплата на %s\n%s\n\nСсылка действует до %s",
		amount.StringFixed(2), checkout.URL, common.FormatDateTime(checkout.ExpiresAt)))
}

// HandleWithdraw: /вывести <сумма> [валюта].
func (h *Handler) HandleWithdraw(ctx context.Context, chatID, telegramID int64, args []string) {
	amount, currency, ok := h.parseAmount(ctx, chatID, args, "/вывести")
	if !ok {
		return
	}
	userID, ok := h.resolve(ctx, chatID, telegramID)
	if !ok {
		return
	}
	tx, err := h.withdrawer.Withdraw(ctx, userID, amount, currency)
	if err != nil {
		h.replyError(ctx, chatID, err, "❌ Ошибка вывода средств")
		return
	}
	h.sender.Send(ctx, chatID, fmt.Sprintf("✅ Выведено %s", tx.Amount.StringFixed(2)))
}

func (h *Handler) resolve(ctx context.Context, chatID, telegramID int64) (uuid.UUID, bool) {
	userID, err := h.linker.LinkedProfile(ctx, telegramID)
	if err != nil {
		h.replyError(ctx, chatID, err, "❌ Ошибка поиска кошелька")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) parseAmount(ctx context.Context, chatID int64, args []string, cmd string) (decimal.Decimal, string, bool) {
	if len(args) < 1 || len(args) > 2 {
		h.sender.Send(ctx, chatID, fmt.Sprintf("❌ Формат: %s <сумма> [валюта]", cmd))
		return decimal.Zero, "", false
	}
	amount, err := decimal.NewFromString(strings.Replace(args[0], ",", ".", 1))
	if err != nil || !amount.IsPositive() {
		h.sender.Send(ctx, chatID, "❌ Сумма должна быть положительным числом")
		return decimal.Zero, "", false
	}
	currency := ""
	if len(args) == 2 {
		currency = args[1]
	}
	return amount, currency, true
}

// replyError показывает пользователю доменную ошибку или общий текст fallback.
func (h *Handler) replyError(ctx context.Context, chatID int64, err error, fallback string) {
	switch {
	case errors.Is(err, common.ErrMemberNotLinked):
		h.sender.Send(ctx, chatID, "❌ Аккаунт не привязан к кошельку. Обратитесь к администратору.")
	case errors.Is(err, common.ErrTransferFailed):
		h.sender.Send(ctx, chatID, "❌ "+err.Error()+"\nСредства остались на кошельке.")
	case errors.Is(err, common.ErrInvalidAmount),
		errors.Is(err, common.ErrInsufficientBalance),
		errors.Is(err, common.ErrWalletNotFound),
		errors.Is(err, common.ErrProfileNotFound),
		errors.Is(err, common.ErrProviderAccountNotLinked),
		errors.Is(err, common.ErrPayoutsNotEnabled),
		errors.Is(err, common.ErrBalanceMismatch),
		errors.Is(err, common.ErrUnsupportedCurrency):
		h.sender.Send(ctx, chatID, "❌ "+err.Error())
	default:
		log.WithError(err).Error("Ошибка команды кошелька")
		h.sender.Send(ctx, chatID, fallback)
	}
}

var statusIcons = map[ledger.Status]string{
	ledger.StatusPending:    "⏳",
	ledger.StatusProcessing: "🔄",
	ledger.StatusCompleted:  "✅",
	ledger.StatusFailed:     "❌",
	ledger.StatusCancelled:  "🚫",
	ledger.StatusExpired:    "⌛",
}

// FormatHistory: текст истории операций.
func FormatHistory(page *ledger.Page) string {
	if page == nil || len(page.Items) == 0 {
		return "📜 Операций пока нет"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📜 Последние операции (%d из %s):\n", len(page.Items), common.CountTransactions(int64(page.Total)))
	for _, t := range page.Items {
		sign := "-"
		if t.Type.Credit() {
			sign = "+"
		}
		fmt.Fprintf(&sb, "\n%s %s%s  %s\n   %s",
			statusIcons[t.Status],
			sign, t.Amount.StringFixed(2),
			t.Description,
			common.FormatDateTime(t.CreatedAt),
		)
	}
	return sb.String()
}
