package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Spok95/school-roster/internal/ctxutil"
	"github.com/Spok95/school-roster/internal/models"
)

// LifecycleRepo — условные переходы жизненного цикла для любой управляемой таблицы.
// Имена таблиц приходят из таблицы правил политики, не от пользователя.
type LifecycleRepo struct {
	db *sql.DB
}

func NewLifecycleRepo(database *sql.DB) *LifecycleRepo { return &LifecycleRepo{db: database} }

// SoftDelete: deleted_at IS NULL → deleted_at/deleted_by выставлены.
func (r *LifecycleRepo) SoftDelete(ctx context.Context, table, id, actor string, at time.Time) (int64, error) {
	return ApplyIf(ctx, r.db, table, id, NotDeleted, MarkDeleted(actor, at))
}

// Restore: deleted_at IS NOT NULL → оба поля очищены.
func (r *LifecycleRepo) Restore(ctx context.Context, table, id string, _ time.Time) (int64, error) {
	return ApplyIf(ctx, r.db, table, id, IsDeleted, ClearDeletion)
}

// HardDelete физически удаляет запись. Если между проверкой политики и удалением
// успела появиться ссылка, внешний ключ отклонит запрос — это models.ErrStillReferenced.
func (r *LifecycleRepo) HardDelete(ctx context.Context, table, id string) (int64, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM `+pq.QuoteIdentifier(table)+` WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("hard delete %s %s: %w", table, id, models.ErrStillReferenced)
		}
		return 0, fmt.Errorf("hard delete %s %s: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
