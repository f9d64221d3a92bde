// Package ledger: repository.go выполняет все операции с таблицами
// profiles, wallets и transactions.
// Каждое изменение баланса выполняется в одной транзакции БД вместе со сменой
// статуса, которая его обосновывает, и выражено арифметикой на стороне сервера.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/db/postgres"
)

const transactionColumns = `id, wallet_id, type, amount, status, description,
	reference_type, reference_id, provider, provider_payment_id, provider_status,
	created_at, updated_at, completed_at, expires_at`

const walletColumns = `id, user_id, balance, reserved_balance, total_earned, total_withdrawn,
	currency, created_at, updated_at`

// Repository: хранилище леджера поверх PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий леджера.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// --- Профили и кошельки ---

// GetProfile возвращает профиль пользователя.
func (r *Repository) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var p Profile
	var account *string
	err := r.db.QueryRow(ctx, `
		SELECT id, balance, currency, stripe_account_id, stripe_payouts_enabled, updated_at
		FROM profiles
		WHERE id = $1
	`, userID).Scan(&p.ID, &p.Balance, &p.Currency, &account, &p.StripePayoutsEnabled, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrProfileNotFound
		}
		return nil, fmt.Errorf("ошибка чтения профиля (user_id=%s): %w", userID, err)
	}
	if account != nil {
		p.StripeAccountID = *account
	}
	return &p, nil
}

// EnsureWallet гарантирует, что у пользователя есть кошелёк.
// Если нет, создаёт с нулевым балансом в валюте профиля.
func (r *Repository) EnsureWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	profile, err := r.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO wallets (id, user_id, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID, common.ResolveCurrency(profile.Currency))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания кошелька: %w", err)
	}
	return r.GetWalletByUser(ctx, userID)
}

// GetWalletByUser возвращает кошелёк пользователя.
func (r *Repository) GetWalletByUser(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	row := r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrWalletNotFound
		}
		return nil, fmt.Errorf("ошибка чтения кошелька (user_id=%s): %w", userID, err)
	}
	return w, nil
}

// GetSummary возвращает кошелёк, pending_balance и баланс профиля одним запросом.
func (r *Repository) GetSummary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	var w Wallet
	var s Summary
	err := r.db.QueryRow(ctx, `
		SELECT w.id, w.user_id, w.balance, w.reserved_balance, w.total_earned, w.total_withdrawn,
		       w.currency, w.created_at, w.updated_at,
		       COALESCE((
		           SELECT SUM(t.amount) FROM transactions t
		           WHERE t.wallet_id = w.id AND t.status IN ('pending', 'processing')
		       ), 0),
		       p.balance
		FROM wallets w
		JOIN profiles p ON p.id = w.user_id
		WHERE w.user_id = $1
	`, userID).Scan(
		&w.ID, &w.UserID, &w.Balance, &w.ReservedBalance, &w.TotalEarned, &w.TotalWithdrawn,
		&w.Currency, &w.CreatedAt, &w.UpdatedAt,
		&s.PendingBalance, &s.ProfileBalance,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrWalletNotFound
		}
		return nil, fmt.Errorf("ошибка получения сводки: %w", err)
	}
	s.Wallet = &w
	return &s, nil
}

// --- Транзакции ---

// CreateDeposit записывает pending-пополнение до похода к провайдеру.
func (r *Repository) CreateDeposit(ctx context.Context, d NewDeposit) (*Transaction, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO transactions (id, wallet_id, type, amount, status, description,
		                          provider, created_at, updated_at, expires_at)
		VALUES ($1, $2, 'deposit', $3, 'pending', $4, $5, $6, $6, $7)
		RETURNING `+transactionColumns,
		uuid.New(), d.WalletID, d.Amount, d.Description, ProviderStripe, d.CreatedAt, d.ExpiresAt,
	)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("ошибка записи пополнения: %w", err)
	}
	return t, nil
}

// GetTransaction возвращает транзакцию по id.
func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("ошибка чтения транзакции %s: %w", id, err)
	}
	return t, nil
}

// AttachCheckoutSession сохраняет id checkout-сессии в pending-пополнении.
func (r *Repository) AttachCheckoutSession(ctx context.Context, id uuid.UUID, sessionID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET provider_payment_id = $2, provider_status = 'open', updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, sessionID, at)
	if err != nil {
		return mapWriteError(fmt.Errorf("ошибка сохранения checkout-сессии: %w", err))
	}
	return nil
}

// MarkCheckoutFailed помечает пополнение, для которого не создалась сессия:
// expires_at = сейчас, и ближайший свип переведёт его в expired.
func (r *Repository) MarkCheckoutFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET expires_at = $2, provider_status = 'checkout_failed', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, at)
	if err != nil {
		return mapWriteError(fmt.Errorf("ошибка пометки неудачного checkout: %w", err))
	}
	return nil
}

// MarkAwaitingPayment снимает срок с pending-пополнения, оплата которого
// подтвердится позже асинхронным событием. false, если пополнение уже не pending.
func (r *Repository) MarkAwaitingPayment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET expires_at = NULL, provider_status = $3, updated_at = $2
		WHERE id = $1 AND type = 'deposit' AND status = 'pending'
	`, id, at, ProviderStatusAwaitingPayment)
	if err != nil {
		return false, mapWriteError(fmt.Errorf("ошибка пометки ожидания оплаты: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// ListTransactions возвращает страницу истории кошелька, новые сверху.
func (r *Repository) ListTransactions(ctx context.Context, walletID uuid.UUID, f Filter) (*Page, error) {
	f = f.Normalize()

	where := []string{"wallet_id = $1"}
	args := []any{walletID}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("ошибка подсчёта транзакций: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, transactionColumns, cond, len(args)-1, len(args))

	items, err := r.queryTransactions(ctx, r.db, query, args...)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// ListStuckWithdrawals: выводы, застрявшие в processing дольше порога.
// Такое бывает, если провайдер ответил, а запись результата в БД не удалась.
func (r *Repository) ListStuckWithdrawals(ctx context.Context, before time.Time) ([]*Transaction, error) {
	return r.queryTransactions(ctx, r.db, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE type = 'withdrawal' AND status = 'processing' AND created_at < $1
		ORDER BY created_at
	`, before)
}

// --- Сверка (пополнения) ---

// CompleteDeposit применяет подтверждение пополнения.
// В одной транзакции БД: pending → completed, кошелёк += amount, профиль += amount.
// applied=false, подтверждение уже применено (или депозит истёк), ничего не изменено.
func (r *Repository) CompleteDeposit(ctx context.Context, id uuid.UUID, providerStatus string, at time.Time) (*Transaction, bool, error) {
	var (
		out     *Transaction
		applied bool
	)
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		t, ok, err := ShouldApply(ctx, tx, id, at, providerStatus)
		if err != nil || !ok {
			return err
		}
		if err := credit(ctx, tx, t.WalletID, t.Amount, at); err != nil {
			return err
		}
		out, applied = t, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

// ExpireDeposit переводит одно pending-пополнение в expired (событие провайдера
// об истечении сессии). Балансы не меняются.
func (r *Repository) ExpireDeposit(ctx context.Context, id uuid.UUID, at time.Time) (*Transaction, bool, error) {
	expired := string(StatusExpired)
	return ClaimTransition(ctx, r.db, Claim{
		ID:                  id,
		Type:                TypeDeposit,
		From:                StatusPending,
		To:                  StatusExpired,
		At:                  at,
		ProviderStatus:      &expired,
		DescriptionFallback: DepositDescription,
		DescriptionSuffix:   ExpiredSuffix,
	})
}

// ExpirePendingDeposits: свип: одним UPDATE переводит все просроченные
// stripe-пополнения в expired. Условие status = 'pending' делает его безопасным
// при параллельных свипах и подтверждениях.
func (r *Repository) ExpirePendingDeposits(ctx context.Context, now time.Time) ([]*Transaction, error) {
	rows, err := r.queryTransactions(ctx, r.db, `
		UPDATE transactions
		SET status = 'expired',
		    provider_status = 'expired',
		    updated_at = $1,
		    description = COALESCE(NULLIF(description, ''), $2::text) || $3::text
		WHERE type = 'deposit'
		  AND provider = $4
		  AND status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		  AND provider_status IS DISTINCT FROM $5
		RETURNING `+transactionColumns,
		now, DepositDescription, ExpiredSuffix, ProviderStripe, ProviderStatusAwaitingPayment,
	)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return rows, nil
}

// --- Сверка (выводы) ---

// ReserveWithdrawal в одной транзакции БД резервирует сумму на кошельке
// (с проверкой свежего баланса) и записывает processing-вывод.
// Если свободных средств не хватает, ErrInsufficientBalance, запись не создаётся.
func (r *Repository) ReserveWithdrawal(ctx context.Context, w NewWithdrawal) (*Transaction, error) {
	var out *Transaction
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE wallets
			SET reserved_balance = reserved_balance + $2, updated_at = $3
			WHERE id = $1 AND balance - reserved_balance >= $2
		`, w.WalletID, w.Amount, w.CreatedAt)
		if err != nil {
			return mapWriteError(fmt.Errorf("ошибка резервирования: %w", err))
		}
		if tag.RowsAffected() == 0 {
			return common.ErrInsufficientBalance
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO transactions (id, wallet_id, type, amount, status, description,
			                          provider, provider_status, created_at, updated_at)
			VALUES ($1, $2, 'withdrawal', $3, 'processing', $4, $5, 'processing', $6, $6)
			RETURNING `+transactionColumns,
			uuid.New(), w.WalletID, w.Amount, w.Description, ProviderStripeConnect, w.CreatedAt,
		)
		t, err := scanTransaction(row)
		if err != nil {
			return fmt.Errorf("ошибка записи вывода: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteWithdrawal фиксирует успешный перевод: processing → completed,
// списание с кошелька и профиля, снятие резерва, в одной транзакции БД.
func (r *Repository) CompleteWithdrawal(ctx context.Context, id uuid.UUID, transferID, providerStatus string, at time.Time) (*Transaction, bool, error) {
	var (
		out     *Transaction
		applied bool
	)
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		t, ok, err := ClaimTransition(ctx, tx, Claim{
			ID:                id,
			Type:              TypeWithdrawal,
			From:              StatusProcessing,
			To:                StatusCompleted,
			At:                at,
			ProviderPaymentID: &transferID,
			ProviderStatus:    &providerStatus,
		})
		if err != nil || !ok {
			return err
		}
		if err := debit(ctx, tx, t.WalletID, t.Amount, at); err != nil {
			return err
		}
		out, applied = t, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

// FailWithdrawal фиксирует отказ провайдера: processing → failed с текстом ошибки
// в описании, резерв снимается, баланс не меняется.
func (r *Repository) FailWithdrawal(ctx context.Context, id uuid.UUID, description string, at time.Time) (*Transaction, bool, error) {
	var (
		out     *Transaction
		applied bool
	)
	failed := string(StatusFailed)
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		t, ok, err := ClaimTransition(ctx, tx, Claim{
			ID:             id,
			Type:           TypeWithdrawal,
			From:           StatusProcessing,
			To:             StatusFailed,
			At:             at,
			ProviderStatus: &failed,
			Description:    &description,
		})
		if err != nil || !ok {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE wallets
			SET reserved_balance = GREATEST(reserved_balance - $2, 0), updated_at = $3
			WHERE id = $1
		`, t.WalletID, t.Amount, at); err != nil {
			return fmt.Errorf("ошибка снятия резерва: %w", err)
		}
		out, applied = t, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

// --- Контроль расхождений ---

// DriftReport возвращает пользователей, у которых кошелёк расходится
// с профилем или с суммой проведённых транзакций.
func (r *Repository) DriftReport(ctx context.Context) ([]Drift, error) {
	rows, err := r.db.Query(ctx, `
		SELECT w.user_id, w.id, w.balance, p.balance, COALESCE(l.sum, 0)
		FROM wallets w
		JOIN profiles p ON p.id = w.user_id
		LEFT JOIN (
		    SELECT wallet_id,
		           SUM(CASE WHEN type IN ('income', 'deposit') THEN amount ELSE -amount END) AS sum
		    FROM transactions
		    WHERE status = 'completed'
		    GROUP BY wallet_id
		) l ON l.wallet_id = w.id
		WHERE w.balance <> p.balance OR w.balance <> COALESCE(l.sum, 0)
		ORDER BY w.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка отчёта о расхождениях: %w", err)
	}
	defer rows.Close()

	var out []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.UserID, &d.WalletID, &d.WalletBalance, &d.ProfileBalance, &d.LedgerBalance); err != nil {
			return nil, fmt.Errorf("ошибка сканирования расхождения: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

// ResyncProfile копирует баланс кошелька в профиль (кошелёк, источник правды).
func (r *Repository) ResyncProfile(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE profiles p
		SET balance = w.balance, updated_at = NOW()
		FROM wallets w
		WHERE w.user_id = p.id AND p.id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("ошибка синхронизации профиля: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrWalletNotFound
	}
	return nil
}

// --- Вспомогательные ---

// credit начисляет сумму на кошелёк и в профиль внутри tx.
func credit(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount decimal.Decimal, at time.Time) error {
	var userID uuid.UUID
	err := tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $2, total_earned = total_earned + $2, updated_at = $3
		WHERE id = $1
		RETURNING user_id
	`, walletID, amount, at).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.ErrWalletNotFound
		}
		return fmt.Errorf("ошибка начисления на кошелёк: %w", err)
	}

	return adjustProfile(ctx, tx, userID, amount, at)
}

// debit списывает сумму с кошелька (вместе с резервом) и из профиля внутри tx.
func debit(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount decimal.Decimal, at time.Time) error {
	var userID uuid.UUID
	err := tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance - $2,
		    reserved_balance = reserved_balance - $2,
		    total_withdrawn = total_withdrawn + $2,
		    updated_at = $3
		WHERE id = $1 AND balance >= $2 AND reserved_balance >= $2
		RETURNING user_id
	`, walletID, amount, at).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.ErrInsufficientBalance
		}
		return mapWriteError(fmt.Errorf("ошибка списания с кошелька: %w", err))
	}

	return adjustProfile(ctx, tx, userID, amount.Neg(), at)
}

func adjustProfile(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta decimal.Decimal, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE profiles SET balance = balance + $2, updated_at = $3 WHERE id = $1
	`, userID, delta, at)
	if err != nil {
		return mapWriteError(fmt.Errorf("ошибка обновления баланса профиля: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return common.ErrProfileNotFound
	}
	return nil
}

func (r *Repository) queryTransactions(ctx context.Context, q Querier, query string, args ...any) ([]*Transaction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса транзакций: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.Status, &t.Description,
		&t.ReferenceType, &t.ReferenceID, &t.Provider, &t.ProviderPaymentID, &t.ProviderStatus,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt, &t.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(
		&w.ID, &w.UserID, &w.Balance, &w.ReservedBalance, &w.TotalEarned, &w.TotalWithdrawn,
		&w.Currency, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// mapWriteError переводит ошибки ограничений БД в доменные.
func mapWriteError(err error) error {
	switch {
	case postgres.IsRaiseException(err):
		return fmt.Errorf("%w: %v", common.ErrIllegalTransition, err)
	case postgres.IsCheckViolation(err):
		return fmt.Errorf("%w: %v", common.ErrInsufficientBalance, err)
	}
	return err
}
