package roster_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Spok95/school-roster/internal/memstore"
	"github.com/Spok95/school-roster/internal/models"
	"github.com/Spok95/school-roster/internal/roster"
)

func strp(s string) *string { return &s }

// seedClass — класс с max мест и уже зачисленными учениками с заданными id.
func seedClass(t *testing.T, st *memstore.Store, id string, max int, enrolled ...string) string {
	t.Helper()
	classID := st.AddClass(models.ClassSection{ID: id, Name: id, MaxStudents: max})
	for _, sid := range enrolled {
		if _, err := st.AddStudent(sid, sid, strp(classID)); err != nil {
			t.Fatal(err)
		}
	}
	return classID
}

func addStudents(t *testing.T, st *memstore.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := st.AddStudent(id, id, nil); err != nil {
			t.Fatal(err)
		}
	}
}

func assertInvariants(t *testing.T, st *memstore.Store, classIDs ...string) {
	t.Helper()
	drift, err := st.EnrollmentDrift(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(drift) != 0 {
		t.Fatalf("счётчик разошёлся с составом: %+v", drift)
	}
	for _, id := range classIDs {
		c := st.Class(id)
		if c.EnrolledCount < 0 || c.EnrolledCount > c.MaxStudents {
			t.Fatalf("нарушен инвариант вместимости: %d/%d", c.EnrolledCount, c.MaxStudents)
		}
	}
}

func TestApply_SwapAtFullCapacity(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	classID := seedClass(t, st, "class-1", 2, "A", "B")
	addStudents(t, st, "C")

	res, err := roster.NewEngine(st, st, nil).Reconcile(ctx, classID, []string{"B", "C"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Removed, []string{"A"}) || !reflect.DeepEqual(res.Added, []string{"C"}) {
		t.Fatalf("ожидали removed=[A] added=[C], получили %+v", res)
	}
	if len(res.Conflicts) != 0 || len(res.CapacityRejected) != 0 {
		t.Fatalf("конфликтов быть не должно: %+v", res)
	}
	if res.EnrolledCount != 2 {
		t.Fatalf("ожидали enrolled_count=2, получили %d", res.EnrolledCount)
	}
	if cur := st.Student("A").CurrentClassID; cur != nil {
		t.Fatalf("A должен покинуть класс, а ссылается на %s", *cur)
	}
	assertInvariants(t, st, classID)
}

func TestApply_PureAdditionOverCapacityIsCompensated(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	classID := seedClass(t, st, "class-1", 1, "A")
	addStudents(t, st, "B")

	res, err := roster.NewEngine(st, st, nil).Reconcile(ctx, classID, []string{"A", "B"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 0 || !reflect.DeepEqual(res.CapacityRejected, []string{"B"}) {
		t.Fatalf("ожидали capacity_rejected=[B], получили %+v", res)
	}
	if res.EnrolledCount != 1 {
		t.Fatalf("enrolled_count не должен меняться, получили %d", res.EnrolledCount)
	}
	if cur := st.Student("B").CurrentClassID; cur != nil {
		t.Fatalf("после компенсации B не должен ссылаться на класс, а ссылается на %s", *cur)
	}
	assertInvariants(t, st, classID)
}

func TestApply_InactiveClassRejectsJoins(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	classID := seedClass(t, st, "class-1", 5)
	addStudents(t, st, "A")
	if _, err := st.SetStatus(ctx, classID, models.ClassInactive); err != nil {
		t.Fatal(err)
	}

	res, err := roster.NewEngine(st, st, nil).Reconcile(ctx, classID, []string{"A"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.CapacityRejected, []string{"A"}) {
		t.Fatalf("архивный класс не принимает учеников: %+v", res)
	}
	assertInvariants(t, st, classID)
}

func TestApply_Conflicts(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	other := seedClass(t, st, "class-2", 5, "X")
	classID := seedClass(t, st, "class-1", 5)
	addStudents(t, st, "D")
	if _, err := st.SoftDelete(ctx, "students", "D", "admin", time.Now()); err != nil {
		t.Fatal(err)
	}

	res, err := roster.NewEngine(st, st, nil).Reconcile(ctx, classID, []string{"X", "ghost", "D"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 0 || len(res.Conflicts) != 3 {
		t.Fatalf("ожидали три конфликта, получили %+v", res)
	}
	byID := map[string]models.Conflict{}
	for _, c := range res.Conflicts {
		byID[c.StudentID] = c
	}
	if c := byID["X"]; c.Reason != models.ConflictAlreadyEnrolled || c.CurrentClassID == nil || *c.CurrentClassID != other {
		t.Fatalf("X уже в другом классе: %+v", c)
	}
	for _, id := range []string{"ghost", "D"} {
		if byID[id].Reason != models.ConflictNotFound {
			t.Fatalf("%s: ожидали NOT_FOUND, получили %+v", id, byID[id])
		}
	}
	assertInvariants(t, st, classID, other)
}

func TestApply_TeacherChange(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	t1 := st.AddStaff("t1", "Учитель 1")
	classID := st.AddClass(models.ClassSection{ID: "class-1", MaxStudents: 5, TeacherID: strp(t1)})
	eng := roster.NewEngine(st, st, nil)

	res, err := eng.Reconcile(ctx, classID, nil, strp(t1))
	if err != nil {
		t.Fatal(err)
	}
	if res.TeacherChanged || res.Changed() {
		t.Fatalf("тот же руководитель — не изменение: %+v", res)
	}

	t2 := st.AddStaff("t2", "Учитель 2")
	res, err = eng.Reconcile(ctx, classID, nil, strp(t2))
	if err != nil {
		t.Fatal(err)
	}
	if !res.TeacherChanged || *res.TeacherID != t2 || *st.Class(classID).TeacherID != t2 {
		t.Fatalf("ожидали смену на t2, получили %+v", res)
	}

	res, err = eng.Reconcile(ctx, classID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.TeacherChanged || res.TeacherID != nil || st.Class(classID).TeacherID != nil {
		t.Fatalf("nil снимает руководителя: %+v", res)
	}
}

func TestApply_DeletedOrMissingClass(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	classID := seedClass(t, st, "class-1", 5)
	if _, err := st.SoftDelete(ctx, "classes", classID, "admin", time.Now()); err != nil {
		t.Fatal(err)
	}
	eng := roster.NewEngine(st, st, nil)

	for _, id := range []string{classID, "missing"} {
		_, err := eng.Reconcile(ctx, id, []string{"A"}, nil)
		if !errors.Is(err, roster.ErrClassNotFound) || !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("%s: ожидали CLASS_NOT_FOUND_OR_DELETED, получили %v", id, err)
		}
	}
}

func TestApply_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	classID := seedClass(t, st, "class-1", 3, "A")
	addStudents(t, st, "B", "C", "D")
	eng := roster.NewEngine(st, st, nil)
	update := models.NewClassRosterUpdate(classID, []string{"B", "C", "D", "B"}, nil)

	first, err := eng.Apply(ctx, update)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Added) != 3 || len(first.Removed) != 1 {
		t.Fatalf("неожиданный первый прогон: %+v", first)
	}

	second, err := eng.Apply(ctx, update)
	if err != nil {
		t.Fatal(err)
	}
	if second.Changed() || len(second.Conflicts) != 0 || len(second.CapacityRejected) != 0 {
		t.Fatalf("повтор должен быть пустым: %+v", second)
	}
	if second.EnrolledCount != 3 {
		t.Fatalf("ожидали 3, получили %d", second.EnrolledCount)
	}
}

func TestApply_SoftDeletedMemberKeepsSeatUntilRemoved(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	classID := seedClass(t, st, "class-1", 1, "A")
	addStudents(t, st, "B")
	if _, err := st.SoftDelete(ctx, "students", "A", "admin", time.Now()); err != nil {
		t.Fatal(err)
	}

	res, err := roster.NewEngine(st, st, nil).Reconcile(ctx, classID, []string{"B"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Removed, []string{"A"}) || !reflect.DeepEqual(res.Added, []string{"B"}) {
		t.Fatalf("удалённый ученик освобождает место только при явном исключении: %+v", res)
	}
	assertInvariants(t, st, classID)
}

// leaveRace — ученик успевает уйти сам между чтением состава и исключением.
type leaveRace struct {
	*memstore.Store
	once sync.Once
	who  string
}

func (l *leaveRace) TryLeaveClass(ctx context.Context, studentID, classID string) (bool, error) {
	if studentID == l.who {
		l.once.Do(func() {
			_, _ = l.Store.TryLeaveClass(ctx, studentID, classID)
			_, _ = l.Store.TryDecrementEnrollment(ctx, classID)
		})
	}
	return l.Store.TryLeaveClass(ctx, studentID, classID)
}

func TestApply_AlreadyLeftIsSkipped(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	classID := seedClass(t, st, "class-1", 3, "A", "B")

	res, err := roster.NewEngine(st, &leaveRace{Store: st, who: "A"}, nil).Reconcile(ctx, classID, []string{"B"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Removed) != 0 || res.EnrolledCount != 1 {
		t.Fatalf("ушедший сам не попадает в removed и не списывается дважды: %+v", res)
	}
	assertInvariants(t, st, classID)
}

// failingClasses возвращает сбой хранилища на инкременте.
type failingClasses struct {
	*memstore.Store
}

func (f failingClasses) TryIncrementEnrollment(context.Context, string) (*models.ClassSection, error) {
	return nil, errors.New("connection reset")
}

func TestApply_StoreFaultRevertsJoinAndReturnsPartial(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	classID := seedClass(t, st, "class-1", 3, "A")
	addStudents(t, st, "B")

	res, err := roster.NewEngine(failingClasses{st}, st, nil).Reconcile(ctx, classID, []string{"B"}, nil)
	if err == nil {
		t.Fatal("ожидали ошибку хранилища")
	}
	if !reflect.DeepEqual(res.Removed, []string{"A"}) {
		t.Fatalf("частичный отчёт должен содержать уже сделанное: %+v", res)
	}
	if st.Student("B").CurrentClassID != nil {
		t.Fatal("зачисление без места должно быть откачено")
	}
	assertInvariants(t, st, classID)
}

func TestApply_ConcurrentReconciliationsKeepInvariants(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	classes := []string{
		seedClass(t, st, "class-1", 3),
		seedClass(t, st, "class-2", 4),
	}
	var students []string
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("s%02d", i)
		addStudents(t, st, id)
		students = append(students, id)
	}
	eng := roster.NewEngine(st, st, nil)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			classID := classes[w%len(classes)]
			desired := students[(w*3)%len(students):]
			if _, err := eng.Reconcile(ctx, classID, desired, nil); err != nil {
				t.Error(err)
			}
		}(w)
	}
	wg.Wait()

	assertInvariants(t, st, classes...)
	seen := map[string]string{}
	for _, classID := range classes {
		ids, err := st.ListStudentIDsInClass(ctx, classID)
		if err != nil {
			t.Fatal(err)
		}
		for _, id := range ids {
			if prev, ok := seen[id]; ok {
				t.Fatalf("%s числится и в %s, и в %s", id, prev, classID)
			}
			seen[id] = classID
		}
	}
}
