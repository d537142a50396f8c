package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/Spok95/school-roster/internal/ctxutil"
	"github.com/Spok95/school-roster/internal/models"
)

// EnrollmentDrift — только чтение: классы, у которых enrolled_count расходится
// с числом учеников, ссылающихся на класс. classIDs сужает выборку (nil — все).
func EnrollmentDrift(ctx context.Context, database *sql.DB, classIDs []string) ([]models.EnrollmentDrift, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT c.id, c.enrolled_count, COUNT(s.id)
		FROM classes c
		LEFT JOIN students s ON s.current_class_id = c.id
		WHERE c.deleted_at IS NULL
		  AND ($1::text[] IS NULL OR c.id = ANY($1::text[]))
		GROUP BY c.id, c.enrolled_count
		HAVING c.enrolled_count <> COUNT(s.id)
		ORDER BY c.id
	`, pq.Array(classIDs))
	if err != nil {
		return nil, fmt.Errorf("enrollment drift: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.EnrollmentDrift
	for rows.Next() {
		var d models.EnrollmentDrift
		if err := rows.Scan(&d.ClassID, &d.EnrolledCount, &d.Members); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Auditor адаптирует EnrollmentDrift к интерфейсу фоновой проверки.
type Auditor struct {
	db *sql.DB
}

func NewAuditor(database *sql.DB) *Auditor { return &Auditor{db: database} }

func (a *Auditor) EnrollmentDrift(ctx context.Context) ([]models.EnrollmentDrift, error) {
	return EnrollmentDrift(ctx, a.db, nil)
}
