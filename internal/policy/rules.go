package policy

import "github.com/Spok95/school-roster/internal/models"

// Reference — зависимая коллекция: строки Table, у которых Column = id сущности.
type Reference struct {
	// Name — ключ в PolicyResult.Reasons.
	Name   string
	Table  string
	Column string
	// Lifecycle — у таблицы есть deleted_at; иначе каждая строка считается живой.
	Lifecycle bool
	// Via/ViaColumn — у таблицы-связки своего deleted_at нет: живость строки
	// определяет запись Via, на которую она указывает через ViaColumn.
	Via       string
	ViaColumn string
	// HardOnly — учитывается только при физическом удалении
	// (для мягкого удаления ту же связь покрывает денормализованный счётчик).
	HardOnly bool
}

// CounterColumn — денормализованный счётчик в самой записи, блокирующий мягкое удаление.
type CounterColumn struct {
	Name   string
	Column string
}

// Rule — строка таблицы политик для одного типа сущности.
type Rule struct {
	Table      string
	Counters   []CounterColumn
	References []Reference
	// Recommend — что предложить вместо мягкого удаления, если оно запрещено.
	Recommend models.Mode
}

type Rules map[models.EntityType]Rule

// DefaultRules — таблица связей схемы из internal/db/migrations.
func DefaultRules() Rules {
	return Rules{
		models.EntityClass: {
			Table:    "classes",
			Counters: []CounterColumn{{Name: "enrolled_students", Column: "enrolled_count"}},
			References: []Reference{
				{Name: "schedules", Table: "schedule_slots", Column: "class_id", Lifecycle: true},
				{Name: "attendance", Table: "attendance_records", Column: "class_id", Lifecycle: true},
				{Name: "grades", Table: "grade_records", Column: "class_id", Lifecycle: true},
				{Name: "students", Table: "students", Column: "current_class_id", Lifecycle: true, HardOnly: true},
			},
			Recommend: models.ModeArchive,
		},
		models.EntitySubject: {
			Table: "subjects",
			References: []Reference{
				{Name: "classes", Table: "class_subjects", Column: "subject_id", Via: "classes", ViaColumn: "class_id"},
				{Name: "schedules", Table: "schedule_slots", Column: "subject_id", Lifecycle: true},
				{Name: "grades", Table: "grade_records", Column: "subject_id", Lifecycle: true},
			},
			Recommend: models.ModeDeactivate,
		},
		models.EntitySchedule: {
			Table: "schedule_slots",
			References: []Reference{
				{Name: "attendance", Table: "attendance_records", Column: "schedule_id", Lifecycle: true},
				{Name: "grades", Table: "grade_records", Column: "schedule_id", Lifecycle: true},
			},
			Recommend: models.ModeDeactivate,
		},
		models.EntityGrade: {
			Table: "grade_records",
		},
		models.EntityAttendance: {
			Table: "attendance_records",
		},
		models.EntityStaff: {
			Table: "staff",
			References: []Reference{
				{Name: "classes", Table: "classes", Column: "teacher_id", Lifecycle: true},
				{Name: "schedules", Table: "schedule_slots", Column: "teacher_id", Lifecycle: true},
			},
			Recommend: models.ModeDeactivate,
		},
	}
}
