package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Spok95/school-roster/internal/models"
)

// --- классы ---

func (s *Store) FindByID(ctx context.Context, classID string) (*models.ClassSection, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classLocked(classID), nil
}

func (s *Store) SetTeacher(ctx context.Context, classID string, teacherID *string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyIf(tableClasses, classID, notDeleted,
		func(r *record) { r.cols["teacher_id"] = strOrNil(teacherID) }), nil
}

func (s *Store) TryIncrementEnrollment(ctx context.Context, classID string) (*models.ClassSection, error) {
	return s.bump(ctx, classID, hasCapacity, 1)
}

func (s *Store) TryDecrementEnrollment(ctx context.Context, classID string) (*models.ClassSection, error) {
	return s.bump(ctx, classID, func(r *record) bool { return r.num("enrolled_count") > 0 }, -1)
}

func (s *Store) bump(ctx context.Context, classID string, pre func(*record) bool, delta int) (*models.ClassSection, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.applyIf(tableClasses, classID, pre,
		func(r *record) { r.cols["enrolled_count"] = r.num("enrolled_count") + delta })
	if !ok {
		return nil, nil
	}
	return s.classLocked(classID), nil
}

func (s *Store) SetStatus(ctx context.Context, classID string, status models.ClassStatus) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	if !status.Valid() {
		return false, fmt.Errorf("invalid class status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyIf(tableClasses, classID, notDeleted,
		func(r *record) { r.cols["status"] = string(status) }), nil
}

// --- членство ---

// ListStudentIDsInClass включает мягко удалённых учеников: место они всё ещё занимают.
func (s *Store) ListStudentIDsInClass(ctx context.Context, classID string) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0)
	for id, r := range s.tables[tableStudents] {
		if r.str("current_class_id") == classID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Exists(ctx context.Context, studentID string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(tableStudents, studentID)
	return r != nil && notDeleted(r), nil
}

func (s *Store) CurrentClassID(ctx context.Context, studentID string) (*string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(tableStudents, studentID)
	if r == nil {
		return nil, nil
	}
	return r.strPtr("current_class_id"), nil
}

func (s *Store) TryJoinClass(ctx context.Context, studentID, classID string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyIf(tableStudents, studentID,
		func(r *record) bool { return notDeleted(r) && r.cols["current_class_id"] == nil },
		func(r *record) { r.cols["current_class_id"] = classID }), nil
}

func (s *Store) TryLeaveClass(ctx context.Context, studentID, classID string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyIf(tableStudents, studentID,
		func(r *record) bool { return classID != "" && r.str("current_class_id") == classID },
		func(r *record) { r.cols["current_class_id"] = nil }), nil
}

// RevertJoin — компенсация: снимает членство, только если оно всё ещё указывает на classID.
func (s *Store) RevertJoin(ctx context.Context, studentID, classID string) error {
	_, err := s.TryLeaveClass(ctx, studentID, classID)
	return err
}

// --- жизненный цикл ---

func (s *Store) SoftDelete(ctx context.Context, table, id, actor string, at time.Time) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	r := s.get(table, id)
	if r == nil || !notDeleted(r) {
		return 0, nil
	}
	r.life.MarkDeleted(actor, at)
	return 1, nil
}

func (s *Store) Restore(ctx context.Context, table, id string, at time.Time) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	r := s.get(table, id)
	if r == nil || !isDeleted(r) {
		return 0, nil
	}
	r.life.Clear(at)
	return 1, nil
}

// HardDelete удаляет запись; как и внешний ключ в Postgres, отказывает,
// если на неё ещё кто-то ссылается (каскадные связи удаляются вместе с ней).
func (s *Store) HardDelete(ctx context.Context, table, id string) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	if _, ok := t[id]; !ok {
		return 0, nil
	}
	for _, fk := range foreignKeys[table] {
		if fk.cascade {
			continue
		}
		if s.countLocked(fk.table, fk.column, id, false) > 0 {
			return 0, fmt.Errorf("delete %s %s: referenced by %s.%s: %w", table, id, fk.table, fk.column, models.ErrStillReferenced)
		}
	}
	for _, fk := range foreignKeys[table] {
		if !fk.cascade {
			continue
		}
		for rid, r := range s.tables[fk.table] {
			if r.str(fk.column) == id {
				delete(s.tables[fk.table], rid)
			}
		}
	}
	delete(t, id)
	return 1, nil
}

// --- счётчики политик ---

func (s *Store) State(ctx context.Context, table, id string) (models.LifecycleState, error) {
	if err := ctxErr(ctx); err != nil {
		return models.StateMissing, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; !ok {
		return models.StateMissing, fmt.Errorf("unknown table %q", table)
	}
	r := s.get(table, id)
	switch {
	case r == nil:
		return models.StateMissing, nil
	case r.life.IsDeleted():
		return models.StateDeleted, nil
	default:
		return models.StateActive, nil
	}
}

func (s *Store) ReadCounter(ctx context.Context, table, column, id string) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(table, id)
	if r == nil {
		return 0, nil
	}
	return r.num(column), nil
}

func (s *Store) CountReferences(ctx context.Context, table, column, id string, liveOnly bool) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	return s.countLocked(table, column, id, liveOnly), nil
}

func (s *Store) CountLinks(ctx context.Context, table, column, id, via, viaColumn string) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	if _, ok := s.tables[via]; !ok {
		return 0, fmt.Errorf("unknown table %q", via)
	}
	n := 0
	for _, r := range s.tables[table] {
		if r.str(column) != id {
			continue
		}
		if p := s.get(via, r.str(viaColumn)); p != nil && notDeleted(p) {
			n++
		}
	}
	return n, nil
}

func (s *Store) countLocked(table, column, id string, liveOnly bool) int {
	n := 0
	for _, r := range s.tables[table] {
		if r.str(column) != id {
			continue
		}
		if liveOnly && r.life.IsDeleted() {
			continue
		}
		n++
	}
	return n
}

// --- аудит ---

// EnrollmentDrift — живые классы, у которых счётчик расходится с числом учеников.
func (s *Store) EnrollmentDrift(ctx context.Context) ([]models.EnrollmentDrift, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	members := map[string]int{}
	for _, r := range s.tables[tableStudents] {
		if cid := r.str("current_class_id"); cid != "" {
			members[cid]++
		}
	}
	var out []models.EnrollmentDrift
	for id, r := range s.tables[tableClasses] {
		if r.life.IsDeleted() {
			continue
		}
		if n := members[id]; n != r.num("enrolled_count") {
			out = append(out, models.EnrollmentDrift{ClassID: id, EnrolledCount: r.num("enrolled_count"), Members: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassID < out[j].ClassID })
	return out, nil
}
