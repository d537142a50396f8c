package models

import "time"

// Lifecycle — общий конверт аудита и мягкого удаления для всех управляемых сущностей.
// DeletedAt и DeletedBy выставляются и очищаются только вместе.
type Lifecycle struct {
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedBy *string    `db:"deleted_by" json:"deleted_by,omitempty"`
}

// NewLifecycle — активная запись, созданная в момент at.
func NewLifecycle(at time.Time) Lifecycle {
	return Lifecycle{CreatedAt: at, UpdatedAt: at}
}

func (l Lifecycle) IsDeleted() bool { return l.DeletedAt != nil }

// Valid проверяет парность deleted_at/deleted_by.
func (l Lifecycle) Valid() bool {
	return (l.DeletedAt == nil) == (l.DeletedBy == nil)
}

// Touch двигает updated_at вперёд (никогда не назад).
func (l *Lifecycle) Touch(at time.Time) {
	if at.After(l.UpdatedAt) {
		l.UpdatedAt = at
	}
}

func (l *Lifecycle) MarkDeleted(actor string, at time.Time) {
	t := at
	a := actor
	l.DeletedAt = &t
	l.DeletedBy = &a
	l.Touch(at)
}

func (l *Lifecycle) Clear(at time.Time) {
	l.DeletedAt = nil
	l.DeletedBy = nil
	l.Touch(at)
}

// LifecycleState — состояние записи с точки зрения политики.
type LifecycleState int

const (
	StateMissing LifecycleState = iota
	StateActive
	StateDeleted
)

func (s LifecycleState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDeleted:
		return "deleted"
	default:
		return "missing"
	}
}
