// Package ledgertest: хранилище леджера в памяти для тестов сервисов.
// Повторяет семантику PostgreSQL-репозитория: условные переходы статусов,
// атомарное изменение кошелька и профиля, резервирование под выводы.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
)

// Store: потокобезопасный леджер в памяти.
type Store struct {
	mu           sync.Mutex
	profiles     map[uuid.UUID]*ledger.Profile
	wallets      map[uuid.UUID]*ledger.Wallet // по id кошелька
	walletByUser map[uuid.UUID]uuid.UUID
	txs          map[uuid.UUID]*ledger.Transaction
	order        []uuid.UUID

	// Ошибки, которые вернут соответствующие методы (для сценариев сбоев БД).
	FailCompleteDeposit    error
	FailCompleteWithdrawal error
	FailReserve            error
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		profiles:     make(map[uuid.UUID]*ledger.Profile),
		wallets:      make(map[uuid.UUID]*ledger.Wallet),
		walletByUser: make(map[uuid.UUID]uuid.UUID),
		txs:          make(map[uuid.UUID]*ledger.Transaction),
	}
}

// AddProfile заводит профиль.
func (s *Store) AddProfile(p ledger.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	if cp.Currency == "" {
		cp.Currency = common.DefaultCurrency
	}
	s.profiles[p.ID] = &cp
}

// AddWallet заводит кошелёк с заданным балансом и выравнивает профиль.
// Баланс оформляется completed-транзакцией income, чтобы отчёт о расхождениях был чистым.
func (s *Store) AddWallet(userID uuid.UUID, balance decimal.Decimal) *ledger.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = &ledger.Profile{ID: userID, Currency: common.DefaultCurrency}
		s.profiles[userID] = p
	}
	w := &ledger.Wallet{
		ID:          uuid.New(),
		UserID:      userID,
		Balance:     balance,
		TotalEarned: balance,
		Currency:    p.Currency,
	}
	s.wallets[w.ID] = w
	s.walletByUser[userID] = w.ID
	p.Balance = balance

	if balance.IsPositive() {
		now := time.Now().UTC()
		s.insert(&ledger.Transaction{
			ID: uuid.New(), WalletID: w.ID, Type: ledger.TypeIncome, Amount: balance,
			Status: ledger.StatusCompleted, Description: "начальный баланс",
			CreatedAt: now, UpdatedAt: now, CompletedAt: &now,
		})
	}
	cp := *w
	return &cp
}

// SetProfileBalance ломает зеркало профиля (для тестов расхождений).
func (s *Store) SetProfileBalance(userID uuid.UUID, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID].Balance = balance
}

// Wallet возвращает копию кошелька по пользователю.
func (s *Store) Wallet(userID uuid.UUID) ledger.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.wallets[s.walletByUser[userID]]
}

// Profile возвращает копию профиля.
func (s *Store) Profile(userID uuid.UUID) ledger.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.profiles[userID]
}

// Transaction возвращает копию транзакции (nil, если нет).
func (s *Store) Transaction(id uuid.UUID) *ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return nil
	}
	return copyTx(t)
}

// Transactions возвращает копии всех транзакций в порядке создания.
func (s *Store) Transactions() []*ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ledger.Transaction, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyTx(s.txs[id]))
	}
	return out
}

// PutTransaction вставляет произвольную транзакцию (подготовка сценариев).
func (s *Store) PutTransaction(t ledger.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(&t)
}

// --- Реализация интерфейсов сервисов ---

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*ledger.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, common.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) EnsureWallet(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	s.mu.Lock()
	p, ok := s.profiles[userID]
	if !ok {
		s.mu.Unlock()
		return nil, common.ErrProfileNotFound
	}
	if _, exists := s.walletByUser[userID]; !exists {
		w := &ledger.Wallet{ID: uuid.New(), UserID: userID, Currency: common.ResolveCurrency(p.Currency)}
		s.wallets[w.ID] = w
		s.walletByUser[userID] = w.ID
	}
	s.mu.Unlock()
	return s.GetWalletByUser(ctx, userID)
}

func (s *Store) GetWalletByUser(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.walletByUser[userID]
	if !ok {
		return nil, common.ErrWalletNotFound
	}
	cp := *s.wallets[id]
	return &cp, nil
}

func (s *Store) GetSummary(ctx context.Context, userID uuid.UUID) (*ledger.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.walletByUser[userID]
	if !ok {
		return nil, common.ErrWalletNotFound
	}
	w := *s.wallets[id]
	pending := decimal.Zero
	for _, t := range s.txs {
		if t.WalletID == id && (t.Status == ledger.StatusPending || t.Status == ledger.StatusProcessing) {
			pending = pending.Add(t.Amount)
		}
	}
	return &ledger.Summary{Wallet: &w, PendingBalance: pending, ProfileBalance: s.profiles[userID].Balance}, nil
}

func (s *Store) CreateDeposit(ctx context.Context, d ledger.NewDeposit) (*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[d.WalletID]; !ok {
		return nil, common.ErrWalletNotFound
	}
	provider := ledger.ProviderStripe
	expires := d.ExpiresAt
	t := &ledger.Transaction{
		ID: uuid.New(), WalletID: d.WalletID, Type: ledger.TypeDeposit, Amount: d.Amount,
		Status: ledger.StatusPending, Description: d.Description, Provider: &provider,
		CreatedAt: d.CreatedAt, UpdatedAt: d.CreatedAt, ExpiresAt: &expires,
	}
	s.insert(t)
	return copyTx(t), nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return nil, common.ErrTransactionNotFound
	}
	return copyTx(t), nil
}

func (s *Store) AttachCheckoutSession(ctx context.Context, id uuid.UUID, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.txs[id]; ok && t.Status == ledger.StatusPending {
		open := "open"
		t.ProviderPaymentID = &sessionID
		t.ProviderStatus = &open
		t.UpdatedAt = at
	}
	return nil
}

func (s *Store) MarkCheckoutFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.txs[id]; ok && t.Status == ledger.StatusPending {
		failed := "checkout_failed"
		t.ExpiresAt = &at
		t.ProviderStatus = &failed
		t.UpdatedAt = at
	}
	return nil
}

func (s *Store) MarkAwaitingPayment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok || t.Type != ledger.TypeDeposit || t.Status != ledger.StatusPending {
		return false, nil
	}
	awaiting := ledger.ProviderStatusAwaitingPayment
	t.ExpiresAt = nil
	t.ProviderStatus = &awaiting
	t.UpdatedAt = at
	return true, nil
}

func (s *Store) ListTransactions(ctx context.Context, walletID uuid.UUID, f ledger.Filter) (*ledger.Page, error) {
	f = f.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*ledger.Transaction
	for _, id := range s.order {
		t := s.txs[id]
		if t.WalletID != walletID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		matched = append(matched, copyTx(t))
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	page := &ledger.Page{Total: len(matched), Limit: f.Limit, Offset: f.Offset, Items: []*ledger.Transaction{}}
	if f.Offset < len(matched) {
		end := f.Offset + f.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Items = matched[f.Offset:end]
	}
	return page, nil
}

func (s *Store) ListStuckWithdrawals(ctx context.Context, before time.Time) ([]*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Transaction
	for _, id := range s.order {
		t := s.txs[id]
		if t.Type == ledger.TypeWithdrawal && t.Status == ledger.StatusProcessing && t.CreatedAt.Before(before) {
			out = append(out, copyTx(t))
		}
	}
	return out, nil
}

func (s *Store) CompleteDeposit(ctx context.Context, id uuid.UUID, providerStatus string, at time.Time) (*ledger.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCompleteDeposit != nil {
		return nil, false, s.FailCompleteDeposit
	}

	t, ok := s.txs[id]
	if !ok || t.Type != ledger.TypeDeposit || t.Status != ledger.StatusPending {
		return nil, false, nil
	}
	w, ok := s.wallets[t.WalletID]
	if !ok {
		return nil, false, common.ErrWalletNotFound
	}
	p, ok := s.profiles[w.UserID]
	if !ok {
		return nil, false, common.ErrProfileNotFound
	}

	t.Status = ledger.StatusCompleted
	t.CompletedAt = &at
	t.UpdatedAt = at
	t.ProviderStatus = &providerStatus
	w.Balance = w.Balance.Add(t.Amount)
	w.TotalEarned = w.TotalEarned.Add(t.Amount)
	p.Balance = p.Balance.Add(t.Amount)
	return copyTx(t), true, nil
}

func (s *Store) ExpireDeposit(ctx context.Context, id uuid.UUID, at time.Time) (*ledger.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok || t.Type != ledger.TypeDeposit || t.Status != ledger.StatusPending {
		return nil, false, nil
	}
	expire(t, at)
	return copyTx(t), true, nil
}

func (s *Store) ExpirePendingDeposits(ctx context.Context, now time.Time) ([]*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Transaction
	for _, id := range s.order {
		t := s.txs[id]
		if t.Type != ledger.TypeDeposit || t.Status != ledger.StatusPending {
			continue
		}
		if t.Provider == nil || *t.Provider != ledger.ProviderStripe {
			continue
		}
		if t.ExpiresAt == nil || !t.ExpiresAt.Before(now) {
			continue
		}
		if t.ProviderStatus != nil && *t.ProviderStatus == ledger.ProviderStatusAwaitingPayment {
			continue
		}
		expire(t, now)
		out = append(out, copyTx(t))
	}
	return out, nil
}

func (s *Store) ReserveWithdrawal(ctx context.Context, nw ledger.NewWithdrawal) (*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReserve != nil {
		return nil, s.FailReserve
	}
	w, ok := s.wallets[nw.WalletID]
	if !ok {
		return nil, common.ErrWalletNotFound
	}
	if w.Available().LessThan(nw.Amount) {
		return nil, common.ErrInsufficientBalance
	}
	w.ReservedBalance = w.ReservedBalance.Add(nw.Amount)

	provider := ledger.ProviderStripeConnect
	processing := "processing"
	t := &ledger.Transaction{
		ID: uuid.New(), WalletID: nw.WalletID, Type: ledger.TypeWithdrawal, Amount: nw.Amount,
		Status: ledger.StatusProcessing, Description: nw.Description,
		Provider: &provider, ProviderStatus: &processing,
		CreatedAt: nw.CreatedAt, UpdatedAt: nw.CreatedAt,
	}
	s.insert(t)
	return copyTx(t), nil
}

func (s *Store) CompleteWithdrawal(ctx context.Context, id uuid.UUID, transferID, providerStatus string, at time.Time) (*ledger.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCompleteWithdrawal != nil {
		return nil, false, s.FailCompleteWithdrawal
	}
	t, ok := s.txs[id]
	if !ok || t.Type != ledger.TypeWithdrawal || t.Status != ledger.StatusProcessing {
		return nil, false, nil
	}
	w := s.wallets[t.WalletID]
	if w.Balance.LessThan(t.Amount) || w.ReservedBalance.LessThan(t.Amount) {
		return nil, false, common.ErrInsufficientBalance
	}
	p, ok := s.profiles[w.UserID]
	if !ok {
		return nil, false, common.ErrProfileNotFound
	}
	// CHECK (balance >= 0) на profiles
	if p.Balance.LessThan(t.Amount) {
		return nil, false, common.ErrInsufficientBalance
	}

	t.Status = ledger.StatusCompleted
	t.CompletedAt = &at
	t.UpdatedAt = at
	t.ProviderPaymentID = &transferID
	t.ProviderStatus = &providerStatus
	w.Balance = w.Balance.Sub(t.Amount)
	w.ReservedBalance = w.ReservedBalance.Sub(t.Amount)
	w.TotalWithdrawn = w.TotalWithdrawn.Add(t.Amount)
	p.Balance = p.Balance.Sub(t.Amount)
	return copyTx(t), true, nil
}

func (s *Store) FailWithdrawal(ctx context.Context, id uuid.UUID, description string, at time.Time) (*ledger.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok || t.Type != ledger.TypeWithdrawal || t.Status != ledger.StatusProcessing {
		return nil, false, nil
	}
	failed := string(ledger.StatusFailed)
	t.Status = ledger.StatusFailed
	t.Description = description
	t.ProviderStatus = &failed
	t.UpdatedAt = at

	w := s.wallets[t.WalletID]
	w.ReservedBalance = decimal.Max(w.ReservedBalance.Sub(t.Amount), decimal.Zero)
	return copyTx(t), true, nil
}

func (s *Store) DriftReport(ctx context.Context) ([]ledger.Drift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Drift
	for _, w := range s.wallets {
		sum := decimal.Zero
		for _, t := range s.txs {
			if t.WalletID != w.ID || t.Status != ledger.StatusCompleted {
				continue
			}
			if t.Type.Credit() {
				sum = sum.Add(t.Amount)
			} else {
				sum = sum.Sub(t.Amount)
			}
		}
		d := ledger.Drift{
			UserID: w.UserID, WalletID: w.ID,
			WalletBalance: w.Balance, ProfileBalance: s.profiles[w.UserID].Balance, LedgerBalance: sum,
		}
		if d.ProfileMismatch() || d.LedgerMismatch() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

func (s *Store) ResyncProfile(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.walletByUser[userID]
	if !ok {
		return common.ErrWalletNotFound
	}
	s.profiles[userID].Balance = s.wallets[id].Balance
	return nil
}

// --- внутреннее ---

func (s *Store) insert(t *ledger.Transaction) {
	s.txs[t.ID] = t
	s.order = append(s.order, t.ID)
}

func expire(t *ledger.Transaction, at time.Time) {
	expired := string(ledger.StatusExpired)
	desc := t.Description
	if desc == "" {
		desc = ledger.DepositDescription
	}
	t.Status = ledger.StatusExpired
	t.Description = desc + ledger.ExpiredSuffix
	t.ProviderStatus = &expired
	t.UpdatedAt = at
}

func copyTx(t *ledger.Transaction) *ledger.Transaction {
	cp := *t
	return &cp
}
