// Package memstore — хранилище в памяти с той же условной семантикой, что и
// internal/db: каждый метод порта выполняется атомарно под одним мьютексом.
// Используется для STORE=memory и в тестах.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/school-roster/internal/models"
)

const (
	tableStaff         = "staff"
	tableClasses       = "classes"
	tableSubjects      = "subjects"
	tableClassSubjects = "class_subjects"
	tableStudents      = "students"
	tableSchedules     = "schedule_slots"
	tableGrades        = "grade_records"
	tableAttendance    = "attendance_records"
)

type foreignKey struct {
	table   string
	column  string
	cascade bool
}

// foreignKeys повторяет REFERENCES из миграций: кто на кого ссылается.
var foreignKeys = map[string][]foreignKey{
	tableStaff: {
		{table: tableClasses, column: "teacher_id"},
		{table: tableSchedules, column: "teacher_id"},
	},
	tableClasses: {
		// связка — часть записи класса, не управляемая сущность
		{table: tableClassSubjects, column: "class_id", cascade: true},
		{table: tableStudents, column: "current_class_id"},
		{table: tableSchedules, column: "class_id"},
		{table: tableGrades, column: "class_id"},
		{table: tableAttendance, column: "class_id"},
	},
	tableSubjects: {
		{table: tableClassSubjects, column: "subject_id"},
		{table: tableSchedules, column: "subject_id"},
		{table: tableGrades, column: "subject_id"},
	},
	tableStudents: {
		{table: tableGrades, column: "student_id"},
		{table: tableAttendance, column: "student_id"},
	},
	tableSchedules: {
		{table: tableGrades, column: "schedule_id"},
		{table: tableAttendance, column: "schedule_id"},
	},
}

type record struct {
	cols map[string]any // nil — NULL
	life models.Lifecycle
}

func (r *record) str(col string) string {
	s, _ := r.cols[col].(string)
	return s
}

func (r *record) strPtr(col string) *string {
	s, ok := r.cols[col].(string)
	if !ok {
		return nil
	}
	return &s
}

func (r *record) num(col string) int {
	n, _ := r.cols[col].(int)
	return n
}

type Store struct {
	mu     sync.Mutex
	tables map[string]map[string]*record
	now    func() time.Time
}

func New() *Store {
	s := &Store{tables: map[string]map[string]*record{}, now: time.Now}
	for _, t := range []string{tableStaff, tableClasses, tableSubjects, tableClassSubjects,
		tableStudents, tableSchedules, tableGrades, tableAttendance} {
		s.tables[t] = map[string]*record{}
	}
	return s
}

// WithClock подменяет часы (для тестов).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// get — запись или nil; вызывать под мьютексом.
func (s *Store) get(table, id string) *record {
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	return t[id]
}

func (s *Store) insert(table, id string, cols map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(table, id, cols)
}

func (s *Store) insertLocked(table, id string, cols map[string]any) string {
	if id == "" {
		id = uuid.NewString()
	}
	s.tables[table][id] = &record{cols: cols, life: models.NewLifecycle(s.now().UTC())}
	return id
}

// applyIf — условная мутация одной записи: аналог UPDATE ... WHERE id = ? AND (...).
func (s *Store) applyIf(table, id string, pre func(*record) bool, mut func(*record)) bool {
	r := s.get(table, id)
	if r == nil || !pre(r) {
		return false
	}
	mut(r)
	r.life.Touch(s.now().UTC())
	return true
}

func notDeleted(r *record) bool { return !r.life.IsDeleted() }
func isDeleted(r *record) bool  { return r.life.IsDeleted() }

func strOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func (s *Store) classLocked(id string) *models.ClassSection {
	r := s.get(tableClasses, id)
	if r == nil {
		return nil
	}
	c := &models.ClassSection{
		ID:            id,
		Name:          r.str("name"),
		TeacherID:     r.strPtr("teacher_id"),
		EnrolledCount: r.num("enrolled_count"),
		MaxStudents:   r.num("max_students"),
		Status:        models.ClassStatus(r.str("status")),
		Lifecycle:     r.life,
	}
	for _, cs := range s.tables[tableClassSubjects] {
		if cs.str("class_id") == id {
			c.SubjectIDs = append(c.SubjectIDs, cs.str("subject_id"))
		}
	}
	sort.Strings(c.SubjectIDs)
	return c
}

func (s *Store) studentLocked(id string) *models.Student {
	r := s.get(tableStudents, id)
	if r == nil {
		return nil
	}
	return &models.Student{ID: id, Name: r.str("name"), CurrentClassID: r.strPtr("current_class_id"), Lifecycle: r.life}
}

// Class — снимок класса (nil, если нет).
func (s *Store) Class(id string) *models.ClassSection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classLocked(id)
}

// Student — снимок ученика (nil, если нет).
func (s *Store) Student(id string) *models.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.studentLocked(id)
}

// --- наполнение ---

func (s *Store) AddStaff(id, name string) string {
	return s.insert(tableStaff, id, map[string]any{"name": name, "role": "teacher"})
}

func (s *Store) AddSubject(id, name string) string {
	return s.insert(tableSubjects, id, map[string]any{"name": name})
}

// AddClass создаёт класс с нулевым счётчиком; c.EnrolledCount игнорируется.
func (s *Store) AddClass(c models.ClassSection) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := c.Status
	if status == "" {
		status = models.ClassActive
	}
	id := s.insertLocked(tableClasses, c.ID, map[string]any{
		"name":           c.Name,
		"teacher_id":     strOrNil(c.TeacherID),
		"enrolled_count": 0,
		"max_students":   c.MaxStudents,
		"status":         string(status),
	})
	for _, sid := range c.SubjectIDs {
		s.insertLocked(tableClassSubjects, id+"/"+sid, map[string]any{"class_id": id, "subject_id": sid})
	}
	return id
}

// AddStudent создаёт ученика; если указан класс — зачисляет с учётом вместимости.
func (s *Store) AddStudent(id, name string, classID *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if classID != nil {
		c := s.get(tableClasses, *classID)
		if c == nil || !hasCapacity(c) {
			return "", fmt.Errorf("class %s has no capacity", *classID)
		}
		c.cols["enrolled_count"] = c.num("enrolled_count") + 1
	}
	return s.insertLocked(tableStudents, id, map[string]any{"name": name, "current_class_id": strOrNil(classID)}), nil
}

func (s *Store) AddScheduleSlot(sl models.ScheduleSlot) string {
	weekday := sl.Weekday
	if weekday == 0 {
		weekday = 1
	}
	return s.insert(tableSchedules, sl.ID, map[string]any{
		"class_id":   sl.ClassID,
		"subject_id": sl.SubjectID,
		"teacher_id": strOrNil(sl.TeacherID),
		"weekday":    weekday,
	})
}

func (s *Store) AddGrade(g models.GradeRecord) string {
	return s.insert(tableGrades, g.ID, map[string]any{
		"student_id":  g.StudentID,
		"class_id":    g.ClassID,
		"subject_id":  g.SubjectID,
		"schedule_id": strOrNil(g.ScheduleID),
		"value":       g.Value,
	})
}

func (s *Store) AddAttendance(a models.AttendanceRecord) string {
	status := a.Status
	if status == "" {
		status = "present"
	}
	return s.insert(tableAttendance, a.ID, map[string]any{
		"student_id":  a.StudentID,
		"class_id":    a.ClassID,
		"schedule_id": a.ScheduleID,
		"status":      status,
	})
}

// SetMaxStudents меняет вместимость; уменьшить ниже текущего счётчика нельзя
// (в Postgres это CHECK classes_capacity_chk).
func (s *Store) SetMaxStudents(classID string, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyIf(tableClasses, classID,
		func(r *record) bool { return notDeleted(r) && n >= r.num("enrolled_count") },
		func(r *record) { r.cols["max_students"] = n })
}

func hasCapacity(r *record) bool {
	c := models.ClassSection{
		EnrolledCount: r.num("enrolled_count"),
		MaxStudents:   r.num("max_students"),
		Status:        models.ClassStatus(r.str("status")),
		Lifecycle:     r.life,
	}
	return c.HasCapacity()
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
