package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Spok95/school-roster/internal/ctxutil"
)

// Querier — общий знаменатель *sql.DB и *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Precondition — условие WHERE, при котором условное обновление применяется.
// Плейсхолдеры пишутся как "?", нумерация $n проставляется при сборке запроса.
type Precondition struct {
	Where string
	Args  []any
}

// Mutation — SET-часть условного обновления (без updated_at, он двигается всегда).
type Mutation struct {
	Set  string
	Args []any
}

var (
	NotDeleted = Precondition{Where: "deleted_at IS NULL"}
	IsDeleted  = Precondition{Where: "deleted_at IS NOT NULL"}
	// CapacityAvailable — класс живой, активный и в нём есть свободное место.
	CapacityAvailable = Precondition{Where: "deleted_at IS NULL AND status = 'active' AND enrolled_count < max_students"}
	// EnrollmentPositive — декремент не уводит счётчик ниже нуля.
	EnrollmentPositive = Precondition{Where: "enrolled_count > 0"}
	// MembershipUnset — ученик живой и ни в каком классе не числится.
	MembershipUnset = Precondition{Where: "deleted_at IS NULL AND current_class_id IS NULL"}
)

// MembershipIs — ученик сейчас числится именно в classID.
func MembershipIs(classID string) Precondition {
	return Precondition{Where: "current_class_id = ?", Args: []any{classID}}
}

var (
	IncrementEnrollment = Mutation{Set: "enrolled_count = enrolled_count + 1"}
	DecrementEnrollment = Mutation{Set: "enrolled_count = enrolled_count - 1"}
	ClearDeletion       = Mutation{Set: "deleted_at = NULL, deleted_by = NULL"}
	ClearMembership     = Mutation{Set: "current_class_id = NULL"}
)

func MarkDeleted(actor string, at time.Time) Mutation {
	return Mutation{Set: "deleted_at = ?, deleted_by = ?", Args: []any{at, actor}}
}

func SetColumn(column string, value any) Mutation {
	return Mutation{Set: pq.QuoteIdentifier(column) + " = ?", Args: []any{value}}
}

// ApplyIf — условное обновление одной записи одним запросом.
// Возвращает число совпавших строк: 0 означает «нет записи» или «условие не выполнено».
func ApplyIf(ctx context.Context, q Querier, table, id string, pre Precondition, mut Mutation) (int64, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	query, args := buildGuarded(table, id, pre, mut, "")
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("apply guarded update on %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected on %s: %w", table, err)
	}
	return n, nil
}

func buildGuarded(table, id string, pre Precondition, mut Mutation, returning string) (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(pq.QuoteIdentifier(table))
	b.WriteString(" SET ")
	b.WriteString(mut.Set)
	b.WriteString(", updated_at = now() WHERE id = ? AND (")
	b.WriteString(pre.Where)
	b.WriteString(")")
	if returning != "" {
		b.WriteString(" RETURNING ")
		b.WriteString(returning)
	}

	args := make([]any, 0, len(mut.Args)+1+len(pre.Args))
	args = append(args, mut.Args...)
	args = append(args, id)
	args = append(args, pre.Args...)
	return rebind(b.String()), args
}

// rebind заменяет "?" на $1..$n по порядку.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
