// Package admin: handlers.go обрабатывает взаимодействие с админ-панелью.
// Панель работает через Reply Keyboard в личных сообщениях.
// Поток: аутентификация → клавиатура → команда или пошаговый диалог.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
	"serotonyl.ru/wallet-ledger/internal/features/members"
	"serotonyl.ru/wallet-ledger/internal/jobs"
)

// Sender отправляет ответы в Telegram.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string)
	SendKeyboard(ctx context.Context, chatID int64, text string, rows [][]string)
}

// Auditor: операции контроля леджера.
type Auditor interface {
	CheckDrift(ctx context.Context) ([]ledger.Drift, error)
	StuckWithdrawals(ctx context.Context, now time.Time, threshold time.Duration) ([]*ledger.Transaction, error)
	ResyncProfile(ctx context.Context, userID uuid.UUID) error
}

// Resolver: ручное закрытие зависших выводов.
type Resolver interface {
	CompleteWithdrawal(ctx context.Context, id uuid.UUID, transferID string) (*ledger.Transaction, bool, error)
	FailWithdrawal(ctx context.Context, id uuid.UUID, reason string) (*ledger.Transaction, bool, error)
}

// Deps: сервисы, которыми управляет панель.
type Deps struct {
	Members    *members.Service
	Sweeper    jobs.Sweeper
	Auditor    Auditor
	Resolver   Resolver
	Sender     Sender
	Clock      common.Clock
	StuckAfter time.Duration
}

// Handler обрабатывает админ-команды.
type Handler struct {
	service *Service
	deps    Deps
}

// NewHandler создаёт обработчик админ-панели.
func NewHandler(service *Service, deps Deps) *Handler {
	if deps.Clock == nil {
		deps.Clock = common.RealClock{}
	}
	return &Handler{service: service, deps: deps}
}

// HandleAdminMessage обрабатывает сообщение администратора в DM.
// Возвращает false, если сообщение не относится к панели.
func (h *Handler) HandleAdminMessage(ctx context.Context, chatID int64, userID int64, text string) bool {
	member, err := h.deps.Members.GetByUserID(ctx, userID)
	if err != nil || !member.IsAdmin {
		return false
	}

	cmd, args := splitCommand(text)
	state := h.service.GetState(userID)

	if state != nil && state.State == StateAwaitingPassword {
		h.handlePasswordInput(ctx, chatID, userID, text)
		return true
	}

	if cmd == "login" {
		if len(args) > 0 {
			h.handlePasswordInput(ctx, chatID, userID, strings.Join(args, " "))
			return true
		}
		h.requestPassword(ctx, chatID, userID)
		return true
	}

	if !h.isPanelInput(cmd, text, state) {
		return false
	}

	if !h.service.HasActiveSession(ctx, userID) {
		h.requestPassword(ctx, chatID, userID)
		return true
	}
	h.service.Touch(ctx, userID)

	if state != nil {
		switch state.State {
		case StateResolveSelect:
			h.handleResolveSelect(ctx, chatID, userID, text, state)
			return true
		case StateResolveAction:
			h.handleResolveAction(ctx, chatID, userID, text, state)
			return true
		}
	}

	switch {
	case text == ButtonSweep || cmd == "sweep":
		h.handleSweep(ctx, chatID)
	case text == ButtonDrift || cmd == "drift":
		h.handleDrift(ctx, chatID)
	case text == ButtonStuck || cmd == "stuck":
		h.startResolve(ctx, chatID, userID)
	case text == ButtonLogout || cmd == "logout":
		h.handleLogout(ctx, chatID, userID)
	case cmd == "resync":
		h.handleResync(ctx, chatID, args)
	case cmd == "привязать" || cmd == "link":
		h.handleLink(ctx, chatID, args)
	default:
		h.showKeyboard(ctx, chatID)
	}
	return true
}

// isPanelInput: сообщение адресовано панели (кнопка, админ-команда или шаг диалога).
func (h *Handler) isPanelInput(cmd, text string, state *AdminState) bool {
	if state != nil {
		return true
	}
	switch text {
	case ButtonSweep, ButtonDrift, ButtonStuck, ButtonLogout, "Админ", "Панель", "админ", "панель":
		return true
	}
	switch cmd {
	case "admin", "sweep", "drift", "stuck", "logout", "resync", "привязать", "link":
		return true
	}
	return false
}

func (h *Handler) requestPassword(ctx context.Context, chatID, userID int64) {
	h.send(ctx, chatID, "🔐 Введите пароль для доступа к админ-панели:")
	h.service.SetState(userID, StateAwaitingPassword, nil)
}

// handlePasswordInput обрабатывает ввод пароля.
func (h *Handler) handlePasswordInput(ctx context.Context, chatID, userID int64, password string) {
	h.service.ClearState(userID)
	if err := h.service.VerifyPassword(ctx, userID, strings.TrimSpace(password)); err != nil {
		switch {
		case errors.Is(err, common.ErrWrongPassword), errors.Is(err, common.ErrTooManyAttempts):
			h.send(ctx, chatID, "❌ "+err.Error())
		default:
			log.WithError(err).Error("Ошибка проверки пароля")
			h.send(ctx, chatID, "❌ Ошибка входа, попробуйте позже")
		}
		return
	}
	h.send(ctx, chatID, "✅ Аутентификация успешна!")
	h.showKeyboard(ctx, chatID)
}

// showKeyboard отображает клавиатуру админ-панели.
func (h *Handler) showKeyboard(ctx context.Context, chatID int64) {
	h.deps.Sender.SendKeyboard(ctx, chatID,
		"✅ Админ-панель открыта\n\nКоманды:\n/resync <user_uuid>\n/привязать <telegram_id> <user_uuid>",
		[][]string{
			{ButtonSweep, ButtonDrift},
			{ButtonStuck, ButtonLogout},
		})
}

func (h *Handler) handleSweep(ctx context.Context, chatID int64) {
	n, err := h.deps.Sweeper.SweepExpiredDeposits(ctx, h.deps.Clock.Now())
	if err != nil {
		log.WithError(err).Error("Ошибка ручного закрытия пополнений")
		h.send(ctx, chatID, "❌ Ошибка закрытия просроченных пополнений")
		return
	}
	h.send(ctx, chatID, "✅ Закрыто просроченных пополнений: "+common.CountTransactions(int64(n)))
}

func (h *Handler) handleDrift(ctx context.Context, chatID int64) {
	drifts, err := h.deps.Auditor.CheckDrift(ctx)
	if err != nil {
		log.WithError(err).Error("Ошибка проверки балансов")
		h.send(ctx, chatID, "❌ Ошибка проверки балансов")
		return
	}
	if len(drifts) == 0 {
		h.send(ctx, chatID, "✅ Расхождений нет")
		return
	}
	h.send(ctx, chatID, jobs.FormatDrifts(drifts))
}

func (h *Handler) handleResync(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		h.send(ctx, chatID, "❌ Формат: /resync <user_uuid>")
		return
	}
	userID, err := uuid.Parse(args[0])
	if err != nil {
		h.send(ctx, chatID, "❌ Некорректный UUID пользователя")
		return
	}
	if err := h.deps.Auditor.ResyncProfile(ctx, userID); err != nil {
		h.replyError(ctx, chatID, err)
		return
	}
	h.send(ctx, chatID, "✅ Баланс профиля выровнен по кошельку")
}

func (h *Handler) handleLink(ctx context.Context, chatID int64, args []string) {
	if len(args) != 2 {
		h.send(ctx, chatID, "❌ Формат: /привязать <telegram_id> <user_uuid>")
		return
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		h.send(ctx, chatID, "❌ Некорректный Telegram ID")
		return
	}
	profileID, err := uuid.Parse(args[1])
	if err != nil {
		h.send(ctx, chatID, "❌ Некорректный UUID пользователя")
		return
	}
	if err := h.deps.Members.Link(ctx, tgID, profileID); err != nil {
		h.replyError(ctx, chatID, err)
		return
	}
	h.send(ctx, chatID, fmt.Sprintf("✅ %d привязан к %s", tgID, profileID))
}

func (h *Handler) handleLogout(ctx context.Context, chatID, userID int64) {
	if err := h.service.Logout(ctx, userID); err != nil {
		log.WithError(err).Error("Ошибка завершения сессии")
	}
	h.send(ctx, chatID, "👋 Сессия завершена")
}

// --- Зависшие выводы (3 шага) ---

// startResolve: Шаг 1: показать processing-выводы старше порога.
func (h *Handler) startResolve(ctx context.Context, chatID, userID int64) {
	stuck, err := h.deps.Auditor.StuckWithdrawals(ctx, h.deps.Clock.Now(), h.deps.StuckAfter)
	if err != nil {
		log.WithError(err).Error("Ошибка поиска зависших выводов")
		h.send(ctx, chatID, "❌ Ошибка поиска зависших выводов")
		return
	}
	if len(stuck) == 0 {
		h.send(ctx, chatID, "✅ Зависших выводов нет")
		return
	}

	var sb strings.Builder
	sb.WriteString("Выберите вывод (отправьте номер):\n\n")
	for i, t := range stuck {
		fmt.Fprintf(&sb, "%d. %s: %s, %s\n", i+1, t.ID, t.Amount.StringFixed(2), common.FormatDateTime(t.CreatedAt))
	}
	h.send(ctx, chatID, sb.String())
	h.service.SetState(userID, StateResolveSelect, stuck)
}

// handleResolveSelect: Шаг 2: выбран номер вывода.
func (h *Handler) handleResolveSelect(ctx context.Context, chatID, userID int64, text string, state *AdminState) {
	stuck := state.Data.([]*ledger.Transaction)

	num, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || num < 1 || num > len(stuck) {
		h.send(ctx, chatID, "❌ Неверный номер. Попробуйте ещё раз.")
		return
	}

	selected := stuck[num-1]
	h.send(ctx, chatID, fmt.Sprintf(
		"Вывод %s на %s.\nОтправьте ID перевода (tr_...), если деньги ушли,\nили «отказ <причина>», чтобы вернуть средства на кошелёк.",
		selected.ID, selected.Amount.StringFixed(2)))
	h.service.SetState(userID, StateResolveAction, selected)
}

// handleResolveAction: Шаг 3: проводим или отклоняем вывод.
func (h *Handler) handleResolveAction(ctx context.Context, chatID, userID int64, text string, state *AdminState) {
	selected := state.Data.(*ledger.Transaction)
	h.service.ClearState(userID)

	text = strings.TrimSpace(text)
	var (
		applied bool
		err     error
		done    string
	)
	if reason, ok := cutPrefixFold(text, "отказ"); ok {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = "отклонено оператором"
		}
		_, applied, err = h.deps.Resolver.FailWithdrawal(ctx, selected.ID, reason)
		done = "❎ Вывод отклонён, средства возвращены на кошелёк"
	} else {
		if text == "" || strings.ContainsAny(text, " \n") {
			h.send(ctx, chatID, "❌ Некорректный ID перевода")
			return
		}
		_, applied, err = h.deps.Resolver.CompleteWithdrawal(ctx, selected.ID, text)
		done = "✅ Вывод проведён"
	}

	switch {
	case err != nil:
		h.replyError(ctx, chatID, err)
	case !applied:
		h.send(ctx, chatID, "ℹ️ Вывод уже закрыт, ничего не изменено")
	default:
		h.send(ctx, chatID, done)
	}
}

func (h *Handler) replyError(ctx context.Context, chatID int64, err error) {
	switch {
	case errors.Is(err, common.ErrWalletNotFound),
		errors.Is(err, common.ErrProfileNotFound),
		errors.Is(err, common.ErrMemberNotFound),
		errors.Is(err, common.ErrProfileAlreadyLinked),
		errors.Is(err, common.ErrTransactionNotFound),
		errors.Is(err, common.ErrIllegalTransition):
		h.send(ctx, chatID, "❌ "+err.Error())
	default:
		log.WithError(err).Error("Ошибка админ-команды")
		h.send(ctx, chatID, "❌ Внутренняя ошибка, подробности в логах")
	}
}

func (h *Handler) send(ctx context.Context, chatID int64, text string) {
	h.deps.Sender.Send(ctx, chatID, text)
}

// splitCommand разбирает "/cmd a b" на команду и аргументы; без "/" команды нет.
func splitCommand(text string) (string, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	parts := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(parts) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(parts[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i] // /sweep@wallet_bot
	}
	return cmd, parts[1:]
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
