package models

import (
	"fmt"
	"strings"
)

// EntityType — тип сущности, которой управляют политики удаления.
type EntityType string

const (
	EntityClass      EntityType = "class"
	EntitySubject    EntityType = "subject"
	EntitySchedule   EntityType = "schedule"
	EntityGrade      EntityType = "grade"
	EntityAttendance EntityType = "attendance"
	EntityStaff      EntityType = "staff"
)

var entityTypes = []EntityType{EntityClass, EntitySubject, EntitySchedule, EntityGrade, EntityAttendance, EntityStaff}

// EntityTypes — все управляемые типы в стабильном порядке.
func EntityTypes() []EntityType {
	out := make([]EntityType, len(entityTypes))
	copy(out, entityTypes)
	return out
}

func ParseEntityType(s string) (EntityType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, e := range entityTypes {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// Mode — вид перехода жизненного цикла, а также рекомендуемая альтернатива.
type Mode string

const (
	ModeSoft    Mode = "soft"
	ModeHard    Mode = "hard"
	ModeRestore Mode = "restore"

	// Рекомендации: переключение статуса, не удаление.
	ModeArchive    Mode = "archive"
	ModeDeactivate Mode = "deactivate"
)

// ParseMode принимает только настоящие переходы (soft|hard|restore).
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSoft, ModeHard, ModeRestore:
		return m, nil
	default:
		return "", fmt.Errorf("unknown lifecycle mode %q", s)
	}
}
