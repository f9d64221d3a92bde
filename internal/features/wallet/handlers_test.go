package wallet_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/features/deposit"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
	"serotonyl.ru/wallet-ledger/internal/features/ledger/ledgertest"
	"serotonyl.ru/wallet-ledger/internal/features/members"
	"serotonyl.ru/wallet-ledger/internal/features/members/memberstest"
	"serotonyl.ru/wallet-ledger/internal/features/wallet"
	"serotonyl.ru/wallet-ledger/internal/features/withdrawal"
	"serotonyl.ru/wallet-ledger/internal/provider/providertest"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Send(_ context.Context, _ int64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return ""
	}
	return r.msgs[len(r.msgs)-1]
}

type fixture struct {
	store   *ledgertest.Store
	gateway *providertest.Gateway
	sender  *recorder
	handler *wallet.Handler
	userID  uuid.UUID
}

const (
	linkedTG   = int64(10)
	unlinkedTG = int64(11)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:   ledgertest.New(),
		gateway: providertest.New("whsec_test"),
		sender:  &recorder{},
		userID:  uuid.New(),
	}
	clock := common.NewFixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	f.store.AddProfile(ledger.Profile{ID: f.userID, StripeAccountID: "acct_1", StripePayoutsEnabled: true})
	f.store.AddWallet(f.userID, decimal.NewFromInt(100))

	memberSvc := members.NewService(memberstest.New(), nil)
	for _, id := range []int64{linkedTG, unlinkedTG} {
		if err := memberSvc.EnsureMember(ctx, id, "", "user", ""); err != nil {
			t.Fatalf("EnsureMember: %v", err)
		}
	}
	if err := memberSvc.Link(ctx, linkedTG, f.userID); err != nil {
		t.Fatalf("Link: %v", err)
	}

	f.handler = wallet.NewHandler(
		memberSvc,
		ledger.NewService(f.store),
		deposit.NewService(f.store, f.gateway, nil, clock, time.Hour),
		withdrawal.NewService(f.store, f.gateway, nil, clock),
		f.sender,
	)
	return f
}

func (f *fixture) expect(t *testing.T, want string) {
	t.Helper()
	if got := f.sender.last(); !strings.Contains(got, want) {
		t.Fatalf("reply %q, want substring %q", got, want)
	}
}

func TestBalanceAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handler.HandleBalance(ctx, 1, linkedTG)
	f.expect(t, "Баланс: 100.00 USD")

	f.handler.HandleBalance(ctx, 1, unlinkedTG)
	f.expect(t, "не привязан")

	f.handler.HandleHistory(ctx, 1, linkedTG)
	f.expect(t, "+100.00")
}

func TestDepositCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, args := range [][]string{nil, {"abc"}, {"-5"}, {"0"}, {"1", "usd", "x"}} {
		f.handler.HandleDeposit(ctx, 1, linkedTG, args)
		if f.sender.last() == "" || !strings.HasPrefix(f.sender.last(), "❌") {
			t.Fatalf("args %v: reply %q", args, f.sender.last())
		}
	}
	if len(f.gateway.Checkouts()) != 0 {
		t.Fatal("invalid input must not reach the provider")
	}

	f.handler.HandleDeposit(ctx, 1, linkedTG, []string{"12,5"})
	f.expect(t, "https://checkout.test/cs_test_1")
	checkouts := f.gateway.Checkouts()
	if len(checkouts) != 1 || !checkouts[0].Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("checkouts = %+v", checkouts)
	}

	f.gateway.CheckoutErr = errors.New("stripe down")
	f.handler.HandleDeposit(ctx, 1, linkedTG, []string{"5"})
	f.expect(t, "Не удалось создать оплату")
}

func TestWithdrawCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handler.HandleWithdraw(ctx, 1, linkedTG, []string{"500"})
	f.expect(t, common.ErrInsufficientBalance.Error())

	f.handler.HandleWithdraw(ctx, 1, linkedTG, []string{"40"})
	f.expect(t, "Выведено 40.00")
	if w := f.store.Wallet(f.userID); !w.Balance.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("balance = %s", w.Balance)
	}

	f.gateway.TransferErr = errors.New("account closed")
	f.handler.HandleWithdraw(ctx, 1, linkedTG, []string{"10"})
	f.expect(t, "Средства остались на кошельке")
	if w := f.store.Wallet(f.userID); !w.Balance.Equal(decimal.NewFromInt(60)) || !w.ReservedBalance.IsZero() {
		t.Fatalf("wallet = %+v", w)
	}
}

func TestFormatHistoryEmpty(t *testing.T) {
	if got := wallet.FormatHistory(&ledger.Page{}); !strings.Contains(got, "Операций пока нет") {
		t.Fatalf("got %q", got)
	}
}
