// Package ledger: guard.go реализует идемпотентный переход статуса.
// Проверка статуса и его смена, ОДИН условный UPDATE, а не чтение + запись:
// из двух одновременных доставок одного события выиграет ровно одна.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"serotonyl.ru/wallet-ledger/internal/common"
)

// Querier: общее у pgxpool.Pool и pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Claim: заявка на переход транзакции From → To.
type Claim struct {
	ID   uuid.UUID
	Type Type // тип транзакции, которую ожидаем увидеть
	From Status
	To   Status
	At   time.Time

	ProviderPaymentID *string // nil: не трогать
	ProviderStatus    *string // nil: не трогать
	Description       *string // nil: оставить текущее описание
	// DescriptionFallback подставляется вместо пустого описания,
	// DescriptionSuffix дописывается в конец.
	DescriptionFallback string
	DescriptionSuffix   string
}

// ClaimTransition атомарно переводит транзакцию из c.From в c.To.
// Возвращает (транзакция после перехода, true), если этот вызов выиграл переход,
// и (nil, false), если статус уже не c.From: событие обработано раньше.
func ClaimTransition(ctx context.Context, q Querier, c Claim) (*Transaction, bool, error) {
	if !CanTransition(c.From, c.To) {
		return nil, false, fmt.Errorf("%w: %s -> %s", common.ErrIllegalTransition, c.From, c.To)
	}

	row := q.QueryRow(ctx, `
		UPDATE transactions
		SET status = $3,
		    updated_at = $4,
		    completed_at = CASE WHEN $3::text = 'completed' THEN $4 ELSE completed_at END,
		    provider_payment_id = COALESCE($5::text, provider_payment_id),
		    provider_status = COALESCE($6::text, provider_status),
		    description = COALESCE($7::text, NULLIF(description, ''), $8::text) || $9::text
		WHERE id = $1 AND status = $2 AND type = $10
		RETURNING `+transactionColumns,
		c.ID, string(c.From), string(c.To), c.At,
		c.ProviderPaymentID, c.ProviderStatus, c.Description,
		c.DescriptionFallback, c.DescriptionSuffix, string(c.Type),
	)

	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapWriteError(fmt.Errorf("ошибка смены статуса %s -> %s: %w", c.From, c.To, err))
	}
	return t, true, nil
}

// ShouldApply решает, применять ли подтверждение пополнения.
// true: этот вызов перевёл pending → completed и обязан начислить сумму
// в той же транзакции БД; false, подтверждение уже применено или депозит истёк.
func ShouldApply(ctx context.Context, q Querier, id uuid.UUID, at time.Time, providerStatus string) (*Transaction, bool, error) {
	return ClaimTransition(ctx, q, Claim{
		ID:             id,
		Type:           TypeDeposit,
		From:           StatusPending,
		To:             StatusCompleted,
		At:             at,
		ProviderStatus: &providerStatus,
	})
}
