package deposit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/events"
	"serotonyl.ru/wallet-ledger/internal/features/deposit"
	"serotonyl.ru/wallet-ledger/internal/features/expiry"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
	"serotonyl.ru/wallet-ledger/internal/features/ledger/ledgertest"
	"serotonyl.ru/wallet-ledger/internal/provider"
	"serotonyl.ru/wallet-ledger/internal/provider/providertest"
)

const ttl = 30 * time.Minute

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store   *ledgertest.Store
	gateway *providertest.Gateway
	events  *events.Recorder
	clock   *common.FixedClock
	svc     *deposit.Service
}

func newFixture() *fixture {
	f := &fixture{
		store:   ledgertest.New(),
		gateway: providertest.New("whsec_test"),
		events:  &events.Recorder{},
		clock:   common.NewFixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.svc = deposit.NewService(f.store, f.gateway, f.events, f.clock, ttl)
	return f
}

// pendingDeposit заводит пользователя с кошельком и pending-пополнением.
func (f *fixture) pendingDeposit(t *testing.T, balance, amount string) (uuid.UUID, *ledger.Wallet, *ledger.Transaction) {
	t.Helper()
	userID := uuid.New()
	w := f.store.AddWallet(userID, dec(balance))
	now := f.clock.Now()
	tx, err := f.store.CreateDeposit(context.Background(), ledger.NewDeposit{
		WalletID: w.ID, Amount: dec(amount), Description: ledger.DepositDescription,
		CreatedAt: now, ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}
	return userID, w, tx
}

func (f *fixture) event(eventType string, userID, walletID, txID uuid.UUID) ([]byte, string) {
	return f.gateway.Event(provider.WebhookEvent{
		ID:            "evt_" + uuid.NewString(),
		Type:          eventType,
		SessionID:     "cs_test",
		PaymentStatus: "paid",
		Metadata: map[string]string{
			provider.MetaUserID:        userID.String(),
			provider.MetaWalletID:      walletID.String(),
			provider.MetaTransactionID: txID.String(),
		},
	})
}

func TestInitiateDeposit(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.store.AddProfile(ledger.Profile{ID: userID, Currency: "EUR"})

	checkout, err := f.svc.InitiateDeposit(context.Background(), userID, dec("50.005"), "")
	if err != nil {
		t.Fatalf("InitiateDeposit: %v", err)
	}

	tx := f.store.Transaction(checkout.TransactionID)
	if tx == nil || tx.Status != ledger.StatusPending || tx.Type != ledger.TypeDeposit {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if !tx.Amount.Equal(dec("50.01")) {
		t.Fatalf("amount = %s, want 50.01", tx.Amount)
	}
	if tx.ExpiresAt == nil || !tx.ExpiresAt.Equal(f.clock.Now().Add(ttl)) {
		t.Fatalf("expires_at = %v", tx.ExpiresAt)
	}
	if tx.ProviderPaymentID == nil || checkout.URL == "" {
		t.Fatalf("session not attached: %+v", tx)
	}

	reqs := f.gateway.Checkouts()
	if len(reqs) != 1 {
		t.Fatalf("checkouts = %d", len(reqs))
	}
	if reqs[0].Currency != "eur" || reqs[0].IdempotencyKey != tx.ID.String() {
		t.Fatalf("unexpected checkout request %+v", reqs[0])
	}
	if reqs[0].Metadata[provider.MetaTransactionID] != tx.ID.String() || reqs[0].Metadata[provider.MetaWalletID] != tx.WalletID.String() {
		t.Fatalf("metadata = %v", reqs[0].Metadata)
	}
	if f.events.Count(events.TypeCreated) != 1 {
		t.Fatal("expected transaction.created event")
	}
	if !f.store.Wallet(userID).Balance.IsZero() {
		t.Fatal("initiation must not move the balance")
	}
}

func TestInitiateDepositValidation(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.InitiateDeposit(context.Background(), uuid.New(), dec("0"), "usd"); !errors.Is(err, common.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if _, err := f.svc.InitiateDeposit(context.Background(), uuid.New(), dec("0.001"), "usd"); !errors.Is(err, common.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if _, err := f.svc.InitiateDeposit(context.Background(), uuid.New(), dec("10"), "usd"); !errors.Is(err, common.ErrProfileNotFound) {
		t.Fatalf("err = %v, want ErrProfileNotFound", err)
	}
	if len(f.store.Transactions()) != 0 {
		t.Fatal("validation failures must not create transactions")
	}
}

func TestInitiateDepositCheckoutFailureExpiresOnNextSweep(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.store.AddProfile(ledger.Profile{ID: userID})
	f.gateway.CheckoutErr = errors.New("api down")

	_, err := f.svc.InitiateDeposit(context.Background(), userID, dec("10"), "usd")
	if !errors.Is(err, common.ErrCheckoutFailed) {
		t.Fatalf("err = %v, want ErrCheckoutFailed", err)
	}

	txs := f.store.Transactions()
	if len(txs) != 1 || txs[0].Status != ledger.StatusPending {
		t.Fatalf("unexpected transactions %+v", txs)
	}
	if txs[0].ExpiresAt == nil || !txs[0].ExpiresAt.Equal(f.clock.Now()) {
		t.Fatalf("expires_at = %v, want now", txs[0].ExpiresAt)
	}

	expired, err := f.store.ExpirePendingDeposits(context.Background(), f.clock.Now().Add(time.Second))
	if err != nil || len(expired) != 1 {
		t.Fatalf("sweep: %v, %d expired", err, len(expired))
	}
}

func TestConcurrentConfirmationsCreditOnce(t *testing.T) {
	f := newFixture()
	userID, w, tx := f.pendingDeposit(t, "0", "50.00")
	payload, sig := f.event(provider.EventCheckoutCompleted, userID, w.ID, tx.ID)

	const deliveries = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ConfirmDeposit(context.Background(), payload, sig)
			if err != nil {
				t.Errorf("ConfirmDeposit: %v", err)
				return
			}
			if res.Action == deposit.ActionCredited {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if credited != 1 {
		t.Fatalf("credited %d times, want 1", credited)
	}
	wallet := f.store.Wallet(userID)
	if !wallet.Balance.Equal(dec("50")) || !wallet.TotalEarned.Equal(dec("50")) {
		t.Fatalf("wallet = %+v", wallet)
	}
	if !f.store.Profile(userID).Balance.Equal(dec("50")) {
		t.Fatalf("profile balance = %s", f.store.Profile(userID).Balance)
	}
	got := f.store.Transaction(tx.ID)
	if got.Status != ledger.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("transaction = %+v", got)
	}
	if f.events.Count(events.TypeCompleted) != 1 {
		t.Fatalf("completed events = %d", f.events.Count(events.TypeCompleted))
	}
}

// panicStore падает на любом обращении: подпись проверяется до хранилища.
type panicStore struct{ deposit.Store }

func TestSignatureCheckedBeforeStore(t *testing.T) {
	f := newFixture()
	svc := deposit.NewService(panicStore{}, f.gateway, nil, f.clock, ttl)
	payload, _ := f.event(provider.EventCheckoutCompleted, uuid.New(), uuid.New(), uuid.New())

	for _, sig := range []string{"", "deadbeef", f.gateway.Sign([]byte("other body"))} {
		if _, err := svc.ConfirmDeposit(context.Background(), payload, sig); !errors.Is(err, common.ErrInvalidSignature) {
			t.Fatalf("sig %q: err = %v, want ErrInvalidSignature", sig, err)
		}
	}
}

func TestMalformedMetadata(t *testing.T) {
	f := newFixture()
	userID, _, tx := f.pendingDeposit(t, "0", "10")

	cases := map[string]map[string]string{
		"no wallet": {
			provider.MetaUserID: userID.String(), provider.MetaTransactionID: tx.ID.String(),
		},
		"bad uuid": {
			provider.MetaUserID: userID.String(), provider.MetaWalletID: "w-1", provider.MetaTransactionID: tx.ID.String(),
		},
		"empty": {},
	}
	for name, meta := range cases {
		payload, sig := f.gateway.Event(provider.WebhookEvent{ID: "evt", Type: provider.EventCheckoutCompleted, Metadata: meta})
		if _, err := f.svc.ConfirmDeposit(context.Background(), payload, sig); !errors.Is(err, common.ErrMalformedEvent) {
			t.Errorf("%s: err = %v, want ErrMalformedEvent", name, err)
		}
	}

	payload, sig := f.event(provider.EventCheckoutCompleted, userID, uuid.New(), tx.ID)
	if _, err := f.svc.ConfirmDeposit(context.Background(), payload, sig); !errors.Is(err, common.ErrMalformedEvent) {
		t.Fatalf("wallet mismatch: err = %v, want ErrMalformedEvent", err)
	}
	if f.store.Transaction(tx.ID).Status != ledger.StatusPending || !f.store.Wallet(userID).Balance.IsZero() {
		t.Fatal("malformed events must not touch the ledger")
	}
}

func TestUnknownTransaction(t *testing.T) {
	f := newFixture()
	userID, w, _ := f.pendingDeposit(t, "0", "10")
	payload, sig := f.event(provider.EventCheckoutCompleted, userID, w.ID, uuid.New())
	if _, err := f.svc.ConfirmDeposit(context.Background(), payload, sig); !errors.Is(err, common.ErrUnknownTransaction) {
		t.Fatalf("err = %v, want ErrUnknownTransaction", err)
	}
}

func TestLateConfirmationAfterSweepIsNoop(t *testing.T) {
	f := newFixture()
	userID, w, tx := f.pendingDeposit(t, "5", "20")

	f.clock.Advance(ttl + time.Minute)
	if _, err := f.store.ExpirePendingDeposits(context.Background(), f.clock.Now()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	payload, sig := f.event(provider.EventCheckoutCompleted, userID, w.ID, tx.ID)
	res, err := f.svc.ConfirmDeposit(context.Background(), payload, sig)
	if err != nil {
		t.Fatalf("ConfirmDeposit: %v", err)
	}
	if res.Action != deposit.ActionDuplicate || res.Applied() {
		t.Fatalf("action = %s, want duplicate", res.Action)
	}
	if f.store.Transaction(tx.ID).Status != ledger.StatusExpired {
		t.Fatal("expired transaction must stay expired")
	}
	if !f.store.Wallet(userID).Balance.Equal(dec("5")) {
		t.Fatalf("balance = %s, want 5", f.store.Wallet(userID).Balance)
	}
}

func TestUnpaidThenAsyncSuccess(t *testing.T) {
	f := newFixture()
	userID, w, tx := f.pendingDeposit(t, "0", "15")
	meta := map[string]string{
		provider.MetaUserID:        userID.String(),
		provider.MetaWalletID:      w.ID.String(),
		provider.MetaTransactionID: tx.ID.String(),
	}

	payload, sig := f.gateway.Event(provider.WebhookEvent{ID: "evt_1", Type: provider.EventCheckoutCompleted, PaymentStatus: provider.PaymentStatusUnpaid, Metadata: meta})
	res, err := f.svc.ConfirmDeposit(context.Background(), payload, sig)
	if err != nil || res.Action != deposit.ActionUnpaid {
		t.Fatalf("unpaid: res=%+v err=%v", res, err)
	}
	got := f.store.Transaction(tx.ID)
	if got.Status != ledger.StatusPending || got.ExpiresAt != nil ||
		got.ProviderStatus == nil || *got.ProviderStatus != ledger.ProviderStatusAwaitingPayment {
		t.Fatalf("unpaid session must leave the deposit pending without a deadline: %+v", got)
	}

	// банковский перевод идёт дольше срока сессии: свип не должен его закрыть
	f.clock.Advance(2 * ttl)
	n, err := expiry.NewService(f.store, nil).SweepExpiredDeposits(context.Background(), f.clock.Now())
	if err != nil || n != 0 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}

	payload, sig = f.gateway.Event(provider.WebhookEvent{ID: "evt_2", Type: provider.EventCheckoutAsyncSucceeded, PaymentStatus: "paid", Metadata: meta})
	res, err = f.svc.ConfirmDeposit(context.Background(), payload, sig)
	if err != nil || res.Action != deposit.ActionCredited {
		t.Fatalf("async: res=%+v err=%v", res, err)
	}
	if !f.store.Wallet(userID).Balance.Equal(dec("15")) {
		t.Fatalf("balance = %s", f.store.Wallet(userID).Balance)
	}
}

func TestAsyncPaymentFailedClosesAwaitingDeposit(t *testing.T) {
	f := newFixture()
	userID, w, tx := f.pendingDeposit(t, "0", "15")
	meta := map[string]string{
		provider.MetaUserID:        userID.String(),
		provider.MetaWalletID:      w.ID.String(),
		provider.MetaTransactionID: tx.ID.String(),
	}

	payload, sig := f.gateway.Event(provider.WebhookEvent{ID: "evt_1", Type: provider.EventCheckoutCompleted, PaymentStatus: provider.PaymentStatusUnpaid, Metadata: meta})
	if _, err := f.svc.ConfirmDeposit(context.Background(), payload, sig); err != nil {
		t.Fatalf("unpaid: %v", err)
	}

	payload, sig = f.gateway.Event(provider.WebhookEvent{ID: "evt_2", Type: provider.EventCheckoutAsyncFailed, PaymentStatus: provider.PaymentStatusUnpaid, Metadata: meta})
	res, err := f.svc.ConfirmDeposit(context.Background(), payload, sig)
	if err != nil || res.Action != deposit.ActionExpired {
		t.Fatalf("async failed: res=%+v err=%v", res, err)
	}
	if f.store.Transaction(tx.ID).Status != ledger.StatusExpired || !f.store.Wallet(userID).Balance.IsZero() {
		t.Fatalf("transaction = %+v", f.store.Transaction(tx.ID))
	}
}

func TestExpiredEventClosesDeposit(t *testing.T) {
	f := newFixture()
	userID, w, tx := f.pendingDeposit(t, "0", "15")

	payload, sig := f.event(provider.EventCheckoutExpired, userID, w.ID, tx.ID)
	res, err := f.svc.ConfirmDeposit(context.Background(), payload, sig)
	if err != nil || res.Action != deposit.ActionExpired {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	got := f.store.Transaction(tx.ID)
	if got.Status != ledger.StatusExpired || got.Description != ledger.DepositDescription+ledger.ExpiredSuffix {
		t.Fatalf("transaction = %+v", got)
	}

	payload, sig = f.event(provider.EventCheckoutCompleted, userID, w.ID, tx.ID)
	res, err = f.svc.ConfirmDeposit(context.Background(), payload, sig)
	if err != nil || res.Action != deposit.ActionDuplicate {
		t.Fatalf("late completion: res=%+v err=%v", res, err)
	}
	if f.events.Count(events.TypeExpired) != 1 || f.events.Count(events.TypeCompleted) != 0 {
		t.Fatalf("events = %+v", f.events.Events())
	}
}

func TestStorageFailureLeavesDepositPending(t *testing.T) {
	f := newFixture()
	userID, w, tx := f.pendingDeposit(t, "0", "15")
	f.store.FailCompleteDeposit = errors.New("connection reset")

	payload, sig := f.event(provider.EventCheckoutCompleted, userID, w.ID, tx.ID)
	_, err := f.svc.ConfirmDeposit(context.Background(), payload, sig)
	if err == nil || errors.Is(err, common.ErrMalformedEvent) {
		t.Fatalf("err = %v, want storage error", err)
	}
	if f.store.Transaction(tx.ID).Status != ledger.StatusPending {
		t.Fatal("failed write must leave the deposit pending for redelivery")
	}

	f.store.FailCompleteDeposit = nil
	res, err := f.svc.ConfirmDeposit(context.Background(), payload, sig)
	if err != nil || res.Action != deposit.ActionCredited {
		t.Fatalf("redelivery: res=%+v err=%v", res, err)
	}
}

func TestIgnoredEventType(t *testing.T) {
	f := newFixture()
	svc := deposit.NewService(panicStore{}, f.gateway, nil, f.clock, ttl)
	payload, sig := f.gateway.Event(provider.WebhookEvent{ID: "evt", Type: "payment_intent.created"})
	res, err := svc.ConfirmDeposit(context.Background(), payload, sig)
	if err != nil || res.Action != deposit.ActionIgnored {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}
