package expiry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/wallet-ledger/internal/events"
	"serotonyl.ru/wallet-ledger/internal/features/expiry"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
	"serotonyl.ru/wallet-ledger/internal/features/ledger/ledgertest"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func deposit(t *testing.T, store *ledgertest.Store, walletID uuid.UUID, expiresAt time.Time) *ledger.Transaction {
	t.Helper()
	tx, err := store.CreateDeposit(context.Background(), ledger.NewDeposit{
		WalletID: walletID, Amount: decimal.NewFromInt(10), CreatedAt: expiresAt.Add(-time.Hour), ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}
	return tx
}

func TestSweepExpiresOnlyOverdueDeposits(t *testing.T) {
	store := ledgertest.New()
	userID := uuid.New()
	w := store.AddWallet(userID, decimal.NewFromInt(7))

	overdue := deposit(t, store, w.ID, now.Add(-time.Minute))
	fresh := deposit(t, store, w.ID, now.Add(time.Minute))
	boundary := deposit(t, store, w.ID, now)

	rec := &events.Recorder{}
	n, err := expiry.NewService(store, rec).SweepExpiredDeposits(context.Background(), now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}

	got := store.Transaction(overdue.ID)
	if got.Status != ledger.StatusExpired || got.ProviderStatus == nil || *got.ProviderStatus != "expired" {
		t.Fatalf("overdue = %+v", got)
	}
	if got.Description != ledger.DepositDescription+ledger.ExpiredSuffix {
		t.Fatalf("description = %q", got.Description)
	}
	if store.Transaction(fresh.ID).Status != ledger.StatusPending || store.Transaction(boundary.ID).Status != ledger.StatusPending {
		t.Fatal("deposits not yet overdue must stay pending")
	}
	if !store.Wallet(userID).Balance.Equal(decimal.NewFromInt(7)) {
		t.Fatal("sweep must not change balances")
	}
	if rec.Count(events.TypeExpired) != 1 {
		t.Fatalf("expired events = %d", rec.Count(events.TypeExpired))
	}

	n, err = expiry.NewService(store, rec).SweepExpiredDeposits(context.Background(), now)
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestConcurrentSweepsExpireOnce(t *testing.T) {
	store := ledgertest.New()
	w := store.AddWallet(uuid.New(), decimal.Zero)
	for i := 0; i < 20; i++ {
		deposit(t, store, w.ID, now.Add(-time.Duration(i+1)*time.Minute))
	}

	svc := expiry.NewService(store, nil)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := svc.SweepExpiredDeposits(context.Background(), now)
			if err != nil {
				t.Errorf("Sweep: %v", err)
				return
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 20 {
		t.Fatalf("total expired %d, want 20", total)
	}
}

type failingStore struct{}

func (failingStore) ExpirePendingDeposits(context.Context, time.Time) ([]*ledger.Transaction, error) {
	return nil, errors.New("db down")
}

func TestSweepError(t *testing.T) {
	if _, err := expiry.NewService(failingStore{}, nil).SweepExpiredDeposits(context.Background(), now); err == nil {
		t.Fatal("expected error")
	}
}
