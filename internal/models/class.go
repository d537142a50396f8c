package models

// ClassStatus — статус класса; переключается отдельно от удаления.
type ClassStatus string

const (
	ClassActive   ClassStatus = "active"
	ClassInactive ClassStatus = "inactive"
)

func (s ClassStatus) Valid() bool { return s == ClassActive || s == ClassInactive }

// ClassSection — класс. EnrolledCount — авторитетный счётчик, меняется только
// условными инкрементом/декрементом и никогда не пересчитывается сканированием учеников.
type ClassSection struct {
	ID            string      `db:"id" json:"id"`
	Name          string      `db:"name" json:"name"`
	TeacherID     *string     `db:"teacher_id" json:"teacher_id,omitempty"`
	EnrolledCount int         `db:"enrolled_count" json:"enrolled_count"`
	MaxStudents   int         `db:"max_students" json:"max_students"`
	Status        ClassStatus `db:"status" json:"status"`
	SubjectIDs    []string    `db:"-" json:"subject_ids,omitempty"`
	Lifecycle
}

// HasCapacity — можно ли прямо сейчас принять ещё одного ученика.
func (c ClassSection) HasCapacity() bool {
	return !c.IsDeleted() && c.Status == ClassActive && c.EnrolledCount < c.MaxStudents
}

// Student — ученик; CurrentClassID принадлежит агрегату ученика, здесь читается через порт.
type Student struct {
	ID             string  `db:"id" json:"id"`
	Name           string  `db:"name" json:"name"`
	CurrentClassID *string `db:"current_class_id" json:"current_class_id,omitempty"`
	Lifecycle
}

type Subject struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Lifecycle
}

type Staff struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Role string `db:"role" json:"role"`
	Lifecycle
}

type ScheduleSlot struct {
	ID        string  `db:"id" json:"id"`
	ClassID   string  `db:"class_id" json:"class_id"`
	SubjectID string  `db:"subject_id" json:"subject_id"`
	TeacherID *string `db:"teacher_id" json:"teacher_id,omitempty"`
	Weekday   int     `db:"weekday" json:"weekday"`
	Lifecycle
}

type GradeRecord struct {
	ID         string  `db:"id" json:"id"`
	StudentID  string  `db:"student_id" json:"student_id"`
	ClassID    string  `db:"class_id" json:"class_id"`
	SubjectID  string  `db:"subject_id" json:"subject_id"`
	ScheduleID *string `db:"schedule_id" json:"schedule_id,omitempty"`
	Value      int     `db:"value" json:"value"`
	Lifecycle
}

type AttendanceRecord struct {
	ID         string `db:"id" json:"id"`
	StudentID  string `db:"student_id" json:"student_id"`
	ClassID    string `db:"class_id" json:"class_id"`
	ScheduleID string `db:"schedule_id" json:"schedule_id"`
	Status     string `db:"status" json:"status"`
	Lifecycle
}

// EnrollmentDrift — расхождение авторитетного счётчика и фактических ссылок учеников.
type EnrollmentDrift struct {
	ClassID       string `json:"class_id"`
	EnrolledCount int    `json:"enrolled_count"`
	Members       int    `json:"members"`
}
