package admin

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/features/expiry"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
	"serotonyl.ru/wallet-ledger/internal/features/ledger/ledgertest"
	"serotonyl.ru/wallet-ledger/internal/features/members"
	"serotonyl.ru/wallet-ledger/internal/features/members/memberstest"
	"serotonyl.ru/wallet-ledger/internal/features/withdrawal"
	"serotonyl.ru/wallet-ledger/internal/provider/providertest"
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard [][]string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *fakeSender) Send(_ context.Context, chatID int64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text})
}

func (s *fakeSender) SendKeyboard(_ context.Context, chatID int64, text string, rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, keyboard: rows})
}

func (s *fakeSender) last() sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return sentMessage{}
	}
	return s.sent[len(s.sent)-1]
}

func (s *fakeSender) since(n int) []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent[n:]...)
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

const (
	adminID = int64(100)
	userTG  = int64(200)
)

type panel struct {
	t       *testing.T
	handler *Handler
	sender  *fakeSender
	ledger  *ledgertest.Store
	members *members.Service
	clock   *common.FixedClock
}

func newPanel(t *testing.T) *panel {
	t.Helper()
	ctx := context.Background()
	clock := common.NewFixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := ledgertest.New()
	memberSvc := members.NewService(memberstest.New(), []int64{adminID})
	for _, id := range []int64{adminID, userTG} {
		if err := memberSvc.EnsureMember(ctx, id, "", "user", ""); err != nil {
			t.Fatalf("EnsureMember: %v", err)
		}
	}

	sender := &fakeSender{}
	ledgerSvc := ledger.NewService(store)
	h := NewHandler(NewService(&fakeStore{}, passwordHash(t), clock), Deps{
		Members:    memberSvc,
		Sweeper:    expiry.NewService(store, nil),
		Auditor:    ledgerSvc,
		Resolver:   withdrawal.NewService(store, providertest.New("whsec_test"), nil, clock),
		Sender:     sender,
		Clock:      clock,
		StuckAfter: 15 * time.Minute,
	})
	return &panel{t: t, handler: h, sender: sender, ledger: store, members: memberSvc, clock: clock}
}

// say отправляет сообщение от админа и проверяет, что один из ответов содержит wantReply.
func (p *panel) say(text, wantReply string) {
	p.t.Helper()
	n := p.sender.count()
	if !p.handler.HandleAdminMessage(context.Background(), adminID, adminID, text) {
		p.t.Fatalf("%q not handled", text)
	}
	replies := p.sender.since(n)
	for _, m := range replies {
		if strings.Contains(m.text, wantReply) {
			return
		}
	}
	p.t.Fatalf("%q: replies %+v, want substring %q", text, replies, wantReply)
}

func TestPanelRequiresLogin(t *testing.T) {
	p := newPanel(t)

	p.say("/sweep", "Введите пароль")
	p.say("wrong", "неверный пароль")
	p.say(ButtonDrift, "Введите пароль")
	p.say("s3cret", "Аутентификация успешна")
	if kb := p.sender.last().keyboard; len(kb) != 2 {
		t.Fatalf("keyboard = %v", kb)
	}

	p.say(ButtonLogout, "Сессия завершена")
	p.say("/drift", "Введите пароль")
}

func TestPanelIgnoresOtherMessages(t *testing.T) {
	p := newPanel(t)
	ctx := context.Background()

	if p.handler.HandleAdminMessage(ctx, userTG, userTG, "/sweep") {
		t.Fatal("non-admin must not reach the panel")
	}
	if p.handler.HandleAdminMessage(ctx, adminID, adminID, "/баланс") {
		t.Fatal("user commands of an admin go to the bot")
	}
	if p.handler.HandleAdminMessage(ctx, 999, 999, "/login x") {
		t.Fatal("unknown user must not reach the panel")
	}
}

func TestPanelOperations(t *testing.T) {
	p := newPanel(t)
	ctx := context.Background()
	p.say("/login s3cret", "Аутентификация успешна")

	owner := uuid.New()
	w := p.ledger.AddWallet(owner, decimal.NewFromInt(100))
	now := p.clock.Now()
	if _, err := p.ledger.CreateDeposit(ctx, ledger.NewDeposit{
		WalletID: w.ID, Amount: decimal.NewFromInt(5), CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}
	p.say(ButtonSweep, "Закрыто просроченных пополнений: 1 транзакция")

	p.say(ButtonDrift, "Расхождений нет")
	p.ledger.SetProfileBalance(owner, decimal.NewFromInt(1))
	p.say("/drift", owner.String())
	p.say("/resync", "Формат")
	p.say("/resync not-a-uuid", "Некорректный UUID")
	p.say("/resync "+owner.String(), "выровнен")
	p.say(ButtonDrift, "Расхождений нет")

	p.say("/привязать 200", "Формат")
	p.say("/привязать abc "+owner.String(), "Некорректный Telegram ID")
	p.say("/привязать 404 "+owner.String(), common.ErrMemberNotFound.Error())
	p.say("/привязать 200 "+owner.String(), "привязан")
	if got, err := p.members.LinkedProfile(ctx, userTG); err != nil || got != owner {
		t.Fatalf("LinkedProfile = %s, %v", got, err)
	}
}

func TestPanelResolvesStuckWithdrawals(t *testing.T) {
	p := newPanel(t)
	ctx := context.Background()
	p.say("/login s3cret", "Аутентификация успешна")
	p.say(ButtonStuck, "Зависших выводов нет")

	owner := uuid.New()
	w := p.ledger.AddWallet(owner, decimal.NewFromInt(100))
	reserve := func(amount int64) *ledger.Transaction {
		tx, err := p.ledger.ReserveWithdrawal(ctx, ledger.NewWithdrawal{
			WalletID: w.ID, Amount: decimal.NewFromInt(amount), CreatedAt: p.clock.Now().Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("ReserveWithdrawal: %v", err)
		}
		return tx
	}
	first := reserve(30)
	second := reserve(20)

	p.say(ButtonStuck, first.ID.String())
	p.say("7", "Неверный номер")
	p.say("1", "Отправьте ID перевода")
	p.say("отказ нет счёта", "средства возвращены")

	got := p.ledger.Transaction(first.ID)
	if got.Status != ledger.StatusFailed || !strings.Contains(got.Description, "нет счёта") {
		t.Fatalf("first = %+v", got)
	}

	p.say(ButtonStuck, second.ID.String())
	p.say("1", "Отправьте ID перевода")
	p.say("tr_manual_1", "Вывод проведён")

	wallet := p.ledger.Wallet(owner)
	if !wallet.Balance.Equal(decimal.NewFromInt(80)) || !wallet.ReservedBalance.IsZero() {
		t.Fatalf("wallet = %+v", wallet)
	}
	p.say(ButtonStuck, "Зависших выводов нет")
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		text string
		cmd  string
		args int
	}{
		{"/resync abc", "resync", 1},
		{"/Sweep@wallet_bot", "sweep", 0},
		{"  /привязать 1 2 ", "привязать", 2},
		{"sweep", "", 0},
		{"/", "", 0},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(tt.text)
		if cmd != tt.cmd || len(args) != tt.args {
			t.Errorf("splitCommand(%q) = %q %v", tt.text, cmd, args)
		}
	}
}
