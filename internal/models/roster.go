package models

import (
	"sort"
	"strings"
)

// ClassRosterUpdate — желаемый состав класса. Неизменяем после создания.
type ClassRosterUpdate struct {
	classID   string
	students  map[string]struct{}
	teacherID *string
}

// NewClassRosterUpdate нормализует входные id: пустые отбрасываются, дубликаты схлопываются.
func NewClassRosterUpdate(classID string, studentIDs []string, teacherID *string) ClassRosterUpdate {
	set := make(map[string]struct{}, len(studentIDs))
	for _, id := range studentIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	var t *string
	if teacherID != nil {
		if v := strings.TrimSpace(*teacherID); v != "" {
			t = &v
		}
	}
	return ClassRosterUpdate{classID: strings.TrimSpace(classID), students: set, teacherID: t}
}

func (u ClassRosterUpdate) ClassID() string { return u.classID }

// TeacherID — желаемый классный руководитель; nil означает «без руководителя».
func (u ClassRosterUpdate) TeacherID() *string {
	if u.teacherID == nil {
		return nil
	}
	v := *u.teacherID
	return &v
}

// StudentIDs — отсортированная копия множества.
func (u ClassRosterUpdate) StudentIDs() []string {
	return sortedKeys(u.students)
}

// Diff: toAdd = desired − current, toRemove = current − desired. Чистая функция.
func (u ClassRosterUpdate) Diff(current []string) (toAdd, toRemove []string) {
	cur := make(map[string]struct{}, len(current))
	for _, id := range current {
		cur[id] = struct{}{}
	}
	toAdd = []string{}
	toRemove = []string{}
	for id := range u.students {
		if _, ok := cur[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	for id := range cur {
		if _, ok := u.students[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)
	return toAdd, toRemove
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ConflictReason — почему ученика не удалось добавить.
type ConflictReason string

const (
	ConflictNotFound        ConflictReason = "NOT_FOUND"
	ConflictAlreadyEnrolled ConflictReason = "ALREADY_ENROLLED"
)

type Conflict struct {
	StudentID      string         `json:"student_id"`
	Reason         ConflictReason `json:"reason"`
	CurrentClassID *string        `json:"current_class_id,omitempty"`
}

// ReconciliationResult — полный отчёт о применении состава. Частичный успех — не ошибка.
type ReconciliationResult struct {
	ClassID          string     `json:"class_id"`
	TeacherChanged   bool       `json:"teacher_changed"`
	TeacherID        *string    `json:"teacher_id"`
	EnrolledCount    int        `json:"enrolled_count"`
	Added            []string   `json:"added"`
	Removed          []string   `json:"removed"`
	Conflicts        []Conflict `json:"conflicts"`
	CapacityRejected []string   `json:"capacity_rejected"`
}

// NewReconciliationResult — отчёт с пустыми (не nil) списками, чтобы JSON отдавал [].
func NewReconciliationResult(classID string) ReconciliationResult {
	return ReconciliationResult{
		ClassID:          classID,
		Added:            []string{},
		Removed:          []string{},
		Conflicts:        []Conflict{},
		CapacityRejected: []string{},
	}
}

// Changed — применилось ли хоть что-нибудь.
func (r ReconciliationResult) Changed() bool {
	return r.TeacherChanged || len(r.Added) > 0 || len(r.Removed) > 0
}
