package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Spok95/school-roster/internal/ctxutil"
	"github.com/Spok95/school-roster/internal/models"
)

// PolicyCounter — счётчики зависимых коллекций для политик удаления.
type PolicyCounter struct {
	db *sql.DB
}

func NewPolicyCounter(database *sql.DB) *PolicyCounter { return &PolicyCounter{db: database} }

// State — есть ли запись и удалена ли она.
func (c *PolicyCounter) State(ctx context.Context, table, id string) (models.LifecycleState, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var deleted bool
	err := c.db.QueryRowContext(ctx,
		`SELECT deleted_at IS NOT NULL FROM `+pq.QuoteIdentifier(table)+` WHERE id = $1`, id).Scan(&deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.StateMissing, nil
		}
		return models.StateMissing, fmt.Errorf("state of %s %s: %w", table, id, err)
	}
	if deleted {
		return models.StateDeleted, nil
	}
	return models.StateActive, nil
}

// ReadCounter читает денормализованный счётчик самой записи (например, enrolled_count).
func (c *PolicyCounter) ReadCounter(ctx context.Context, table, column, id string) (int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT `+pq.QuoteIdentifier(column)+` FROM `+pq.QuoteIdentifier(table)+` WHERE id = $1`, id).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s.%s: %w", table, column, err)
	}
	return n, nil
}

// CountReferences — сколько записей table ссылаются на id через column.
// liveOnly отбрасывает мягко удалённые ссылки.
func (c *PolicyCounter) CountReferences(ctx context.Context, table, column, id string, liveOnly bool) (int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	q := `SELECT COUNT(*) FROM ` + pq.QuoteIdentifier(table) + ` WHERE ` + pq.QuoteIdentifier(column) + ` = $1`
	if liveOnly {
		q += ` AND deleted_at IS NULL`
	}
	var n int
	if err := c.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s.%s: %w", table, column, err)
	}
	return n, nil
}

// CountLinks — строки связки, чья родительская запись via жива.
func (c *PolicyCounter) CountLinks(ctx context.Context, table, column, id, via, viaColumn string) (int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	q := `SELECT COUNT(*) FROM ` + pq.QuoteIdentifier(table) + ` l
		JOIN ` + pq.QuoteIdentifier(via) + ` p ON p.id = l.` + pq.QuoteIdentifier(viaColumn) + `
		WHERE l.` + pq.QuoteIdentifier(column) + ` = $1 AND p.deleted_at IS NULL`
	var n int
	if err := c.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s.%s via %s: %w", table, column, via, err)
	}
	return n, nil
}
