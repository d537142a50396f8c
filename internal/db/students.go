package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Spok95/school-roster/internal/ctxutil"
)

const tableStudents = "students"

// StudentRepo — Postgres-реализация порта членства учеников.
// Ссылка current_class_id меняется только условными обновлениями.
type StudentRepo struct {
	db *sql.DB
}

func NewStudentRepo(database *sql.DB) *StudentRepo { return &StudentRepo{db: database} }

// ListStudentIDsInClass — все ученики, чья текущая ссылка указывает на класс.
// Мягко удалённые тоже: место в классе они по-прежнему занимают.
func (r *StudentRepo) ListStudentIDsInClass(ctx context.Context, classID string) ([]string, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM students
		WHERE current_class_id = $1
		ORDER BY id`, classID)
	if err != nil {
		return nil, fmt.Errorf("list students of class %s: %w", classID, err)
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Exists — живой (не удалённый) ученик.
func (r *StudentRepo) Exists(ctx context.Context, studentID string) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM students WHERE id = $1 AND deleted_at IS NULL)`, studentID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("student %s exists: %w", studentID, err)
	}
	return ok, nil
}

// CurrentClassID — только для диагностики; nil, если ученик ни в каком классе или его нет.
func (r *StudentRepo) CurrentClassID(ctx context.Context, studentID string) (*string, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var cur sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT current_class_id FROM students WHERE id = $1`, studentID).Scan(&cur)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("current class of %s: %w", studentID, err)
	}
	if !cur.Valid {
		return nil, nil
	}
	return &cur.String, nil
}

// TryJoinClass ставит ссылку, только если ученик сейчас ни в каком классе.
func (r *StudentRepo) TryJoinClass(ctx context.Context, studentID, classID string) (bool, error) {
	n, err := ApplyIf(ctx, r.db, tableStudents, studentID, MembershipUnset, SetColumn("current_class_id", classID))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TryLeaveClass снимает ссылку, только если она всё ещё указывает на classID.
func (r *StudentRepo) TryLeaveClass(ctx context.Context, studentID, classID string) (bool, error) {
	n, err := ApplyIf(ctx, r.db, tableStudents, studentID, MembershipIs(classID), ClearMembership)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevertJoin — компенсация неудачного зачисления. Условие то же, что у выхода:
// если ученика уже кто-то перевёл, чужую ссылку не трогаем.
func (r *StudentRepo) RevertJoin(ctx context.Context, studentID, classID string) error {
	if _, err := ApplyIf(ctx, r.db, tableStudents, studentID, MembershipIs(classID), ClearMembership); err != nil {
		return fmt.Errorf("revert join %s -> %s: %w", studentID, classID, err)
	}
	return nil
}

// Create вставляет ученика без класса.
func (r *StudentRepo) Create(ctx context.Context, name string) (string, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var id string
	if err := r.db.QueryRowContext(ctx, `INSERT INTO students (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		return "", fmt.Errorf("create student: %w", err)
	}
	return id, nil
}
