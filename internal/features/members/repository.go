// Package members: repository.go отвечает за операции с таблицей members в БД.
package members

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/db/postgres"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const memberColumns = `id, user_id, COALESCE(username, ''), first_name, COALESCE(last_name, ''),
	profile_id, COALESCE(is_admin, FALSE), created_at, updated_at`

// Upsert добавляет участника. На конфликте по user_id обновляет имя, username
// и флаг админа; привязку к профилю не трогает.
func (r *Repository) Upsert(ctx context.Context, m *Member) error {
	query := `
		INSERT INTO members (user_id, username, first_name, last_name, is_admin)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    is_admin = EXCLUDED.is_admin,
		    updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, m.UserID, m.Username, m.FirstName, m.LastName, m.IsAdmin); err != nil {
		return fmt.Errorf("ошибка создания/обновления участника: %w", err)
	}
	return nil
}

// GetByUserID возвращает участника; если не найден, common.ErrMemberNotFound.
func (r *Repository) GetByUserID(ctx context.Context, userID int64) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE user_id = $1`
	var m Member
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&m.ID, &m.UserID, &m.Username, &m.FirstName, &m.LastName,
		&m.ProfileID, &m.IsAdmin, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user_id=%d: %w", userID, common.ErrMemberNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения участника (user_id=%d): %w", userID, err)
	}
	return &m, nil
}

func (r *Repository) Exists(ctx context.Context, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM members WHERE user_id = $1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки существования: %w", err)
	}
	return exists, nil
}

// LinkProfile привязывает участника к профилю леджера.
func (r *Repository) LinkProfile(ctx context.Context, userID int64, profileID uuid.UUID) error {
	query := `UPDATE members SET profile_id = $2, updated_at = NOW() WHERE user_id = $1`
	tag, err := r.db.Exec(ctx, query, userID, profileID)
	switch {
	case postgres.IsForeignKeyViolation(err):
		return common.ErrProfileNotFound
	case postgres.IsUniqueViolation(err):
		return common.ErrProfileAlreadyLinked
	case err != nil:
		return fmt.Errorf("ошибка привязки профиля: %w", err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("user_id=%d: %w", userID, common.ErrMemberNotFound)
	}
	return nil
}

// MarkAdmins выставляет is_admin ровно для перечисленных user_id.
func (r *Repository) MarkAdmins(ctx context.Context, userIDs []int64) error {
	query := `UPDATE members SET is_admin = (user_id = ANY($1)), updated_at = NOW()
		WHERE COALESCE(is_admin, FALSE) <> (user_id = ANY($1))`
	if _, err := r.db.Exec(ctx, query, userIDs); err != nil {
		return fmt.Errorf("ошибка обновления админов: %w", err)
	}
	return nil
}
