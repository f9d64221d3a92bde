// Package admin: repository.go работает с таблицами admin_sessions и admin_login_attempts.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/wallet-ledger/internal/common"
)

// Repository работает с админ-таблицами.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateSession закрывает прежние сессии пользователя и открывает новую.
func (r *Repository) CreateSession(ctx context.Context, session *AdminSession) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE admin_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`,
		session.UserID,
	); err != nil {
		return fmt.Errorf("ошибка закрытия старых сессий: %w", err)
	}

	query := `
		INSERT INTO admin_sessions (user_id, session_token, authenticated_at, expires_at, last_activity, is_active)
		VALUES ($1, $2, $3, $4, $3, TRUE)
	`
	if _, err := tx.Exec(ctx, query,
		session.UserID, session.SessionToken, session.AuthenticatedAt, session.ExpiresAt,
	); err != nil {
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}
	return tx.Commit(ctx)
}

// GetActiveSession возвращает действующую на момент now сессию пользователя.
func (r *Repository) GetActiveSession(ctx context.Context, userID int64, now time.Time) (*AdminSession, error) {
	query := `
		SELECT id, user_id, session_token, authenticated_at, expires_at, last_activity, is_active
		FROM admin_sessions
		WHERE user_id = $1 AND is_active = TRUE AND expires_at > $2
		ORDER BY authenticated_at DESC
		LIMIT 1
	`
	var s AdminSession
	err := r.db.QueryRow(ctx, query, userID, now).Scan(
		&s.ID, &s.UserID, &s.SessionToken, &s.AuthenticatedAt,
		&s.ExpiresAt, &s.LastActivity, &s.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сессии: %w", err)
	}
	return &s, nil
}

// DeactivateSession деактивирует сессии пользователя.
func (r *Repository) DeactivateSession(ctx context.Context, userID int64) error {
	query := `UPDATE admin_sessions SET is_active = FALSE WHERE user_id = $1`
	_, err := r.db.Exec(ctx, query, userID)
	return err
}

// UpdateActivity обновляет время последней активности.
func (r *Repository) UpdateActivity(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE admin_sessions SET last_activity = $2 WHERE user_id = $1 AND is_active = TRUE`
	_, err := r.db.Exec(ctx, query, userID, at)
	return err
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, userID int64, success bool, at time.Time) error {
	query := `INSERT INTO admin_login_attempts (user_id, success, attempt_time) VALUES ($1, $2, $3)`
	_, err := r.db.Exec(ctx, query, userID, success, at)
	return err
}

// CountFailedAttempts: число неудачных попыток с момента since.
func (r *Repository) CountFailedAttempts(ctx context.Context, userID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE user_id = $1 AND success = FALSE AND attempt_time >= $2
	`
	var count int
	err := r.db.QueryRow(ctx, query, userID, since).Scan(&count)
	return count, err
}
