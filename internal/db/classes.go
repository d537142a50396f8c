package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Spok95/school-roster/internal/ctxutil"
	"github.com/Spok95/school-roster/internal/models"
)

const (
	tableClasses = "classes"
	classColumns = `id, name, teacher_id, enrolled_count, max_students, status, created_at, updated_at, deleted_at, deleted_by`
)

// ClassRepo — Postgres-реализация порта классов.
type ClassRepo struct {
	db *sql.DB
}

func NewClassRepo(database *sql.DB) *ClassRepo { return &ClassRepo{db: database} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClass(row rowScanner) (*models.ClassSection, error) {
	var (
		c         models.ClassSection
		teacherID sql.NullString
		deletedAt sql.NullTime
		deletedBy sql.NullString
		status    string
	)
	if err := row.Scan(&c.ID, &c.Name, &teacherID, &c.EnrolledCount, &c.MaxStudents, &status,
		&c.CreatedAt, &c.UpdatedAt, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}
	c.Status = models.ClassStatus(status)
	if teacherID.Valid {
		c.TeacherID = &teacherID.String
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		c.DeletedAt = &t
	}
	if deletedBy.Valid {
		c.DeletedBy = &deletedBy.String
	}
	return &c, nil
}

// FindByID — класс в любом состоянии жизненного цикла; nil, если записи нет.
func (r *ClassRepo) FindByID(ctx context.Context, classID string) (*models.ClassSection, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	c, err := scanClass(r.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, classID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find class %s: %w", classID, err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT subject_id FROM class_subjects WHERE class_id = $1 ORDER BY subject_id`, classID)
	if err != nil {
		return nil, fmt.Errorf("class %s subjects: %w", classID, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		c.SubjectIDs = append(c.SubjectIDs, id)
	}
	return c, rows.Err()
}

// SetTeacher — смена классного руководителя; ограничений по вместимости нет,
// но удалённый класс не трогаем.
func (r *ClassRepo) SetTeacher(ctx context.Context, classID string, teacherID *string) (bool, error) {
	n, err := ApplyIf(ctx, r.db, tableClasses, classID, NotDeleted, SetColumn("teacher_id", nullable(teacherID)))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TryIncrementEnrollment — +1 к счётчику только при наличии места; nil, если места нет.
func (r *ClassRepo) TryIncrementEnrollment(ctx context.Context, classID string) (*models.ClassSection, error) {
	return r.bump(ctx, classID, CapacityAvailable, IncrementEnrollment)
}

// TryDecrementEnrollment — −1 к счётчику, если он положителен; nil, если уже ноль.
func (r *ClassRepo) TryDecrementEnrollment(ctx context.Context, classID string) (*models.ClassSection, error) {
	return r.bump(ctx, classID, EnrollmentPositive, DecrementEnrollment)
}

func (r *ClassRepo) bump(ctx context.Context, classID string, pre Precondition, mut Mutation) (*models.ClassSection, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	query, args := buildGuarded(tableClasses, classID, pre, mut, classColumns)
	c, err := scanClass(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update enrollment of class %s: %w", classID, err)
	}
	return c, nil
}

// SetStatus — архивирование/активация. Это не удаление и политиками не проверяется.
func (r *ClassRepo) SetStatus(ctx context.Context, classID string, status models.ClassStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("invalid class status %q", status)
	}
	n, err := ApplyIf(ctx, r.db, tableClasses, classID, NotDeleted, SetColumn("status", string(status)))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Create вставляет класс; enrolled_count всегда стартует с нуля.
func (r *ClassRepo) Create(ctx context.Context, c models.ClassSection) (string, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	status := c.Status
	if status == "" {
		status = models.ClassActive
	}
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO classes (name, teacher_id, max_students, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		c.Name, nullable(c.TeacherID), c.MaxStudents, string(status),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create class: %w", err)
	}
	for _, sid := range c.SubjectIDs {
		if err := r.AddSubject(ctx, id, sid); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (r *ClassRepo) AddSubject(ctx context.Context, classID, subjectID string) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO class_subjects (class_id, subject_id) VALUES ($1, $2)
		ON CONFLICT (class_id, subject_id) DO NOTHING`, classID, subjectID)
	if err != nil {
		return fmt.Errorf("add subject %s to class %s: %w", subjectID, classID, err)
	}
	return nil
}
