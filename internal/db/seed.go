package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Spok95/school-roster/internal/ctxutil"
	"github.com/Spok95/school-roster/internal/models"
)

func insertReturningID(ctx context.Context, q Querier, query string, args ...any) (string, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var id string
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func CreateStaff(ctx context.Context, q Querier, name, role string) (string, error) {
	id, err := insertReturningID(ctx, q, `INSERT INTO staff (name, role) VALUES ($1, $2) RETURNING id`, name, role)
	if err != nil {
		return "", fmt.Errorf("create staff: %w", err)
	}
	return id, nil
}

func CreateSubject(ctx context.Context, q Querier, name string) (string, error) {
	id, err := insertReturningID(ctx, q, `INSERT INTO subjects (name) VALUES ($1) RETURNING id`, name)
	if err != nil {
		return "", fmt.Errorf("create subject: %w", err)
	}
	return id, nil
}

func CreateScheduleSlot(ctx context.Context, q Querier, s models.ScheduleSlot) (string, error) {
	weekday := s.Weekday
	if weekday == 0 {
		weekday = 1
	}
	id, err := insertReturningID(ctx, q, `
		INSERT INTO schedule_slots (class_id, subject_id, teacher_id, weekday)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		s.ClassID, s.SubjectID, nullable(s.TeacherID), weekday)
	if err != nil {
		return "", fmt.Errorf("create schedule slot: %w", err)
	}
	return id, nil
}

func CreateGrade(ctx context.Context, q Querier, g models.GradeRecord) (string, error) {
	id, err := insertReturningID(ctx, q, `
		INSERT INTO grade_records (student_id, class_id, subject_id, schedule_id, value)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		g.StudentID, g.ClassID, g.SubjectID, nullable(g.ScheduleID), g.Value)
	if err != nil {
		return "", fmt.Errorf("create grade: %w", err)
	}
	return id, nil
}

func CreateAttendance(ctx context.Context, q Querier, a models.AttendanceRecord) (string, error) {
	status := a.Status
	if status == "" {
		status = "present"
	}
	id, err := insertReturningID(ctx, q, `
		INSERT INTO attendance_records (student_id, class_id, schedule_id, status)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		a.StudentID, a.ClassID, a.ScheduleID, status)
	if err != nil {
		return "", fmt.Errorf("create attendance: %w", err)
	}
	return id, nil
}

// SeedDemo — небольшой набор данных для ручной проверки: учитель, предмет,
// класс на maxStudents мест и students учеников без класса.
func SeedDemo(ctx context.Context, database *sql.DB, maxStudents, students int) (classID string, studentIDs []string, err error) {
	teacherID, err := CreateStaff(ctx, database, "Классный руководитель", "teacher")
	if err != nil {
		return "", nil, err
	}
	subjectID, err := CreateSubject(ctx, database, "Математика")
	if err != nil {
		return "", nil, err
	}
	classID, err = NewClassRepo(database).Create(ctx, models.ClassSection{
		Name:        "Демо-класс",
		TeacherID:   &teacherID,
		MaxStudents: maxStudents,
		SubjectIDs:  []string{subjectID},
	})
	if err != nil {
		return "", nil, err
	}
	repo := NewStudentRepo(database)
	for i := 1; i <= students; i++ {
		id, err := repo.Create(ctx, fmt.Sprintf("Ученик %d", i))
		if err != nil {
			return "", nil, err
		}
		studentIDs = append(studentIDs, id)
	}
	return classID, studentIDs, nil
}
