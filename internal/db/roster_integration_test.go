//go:build testutil
// +build testutil

package db_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Spok95/school-roster/internal/db"
	"github.com/Spok95/school-roster/internal/lifecycle"
	"github.com/Spok95/school-roster/internal/models"
	"github.com/Spok95/school-roster/internal/policy"
	"github.com/Spok95/school-roster/internal/roster"
	"github.com/Spok95/school-roster/internal/testutil/testdb"
)

func TestRoster_SwapAndCompensation(t *testing.T) {
	ctx := context.Background()
	h, err := testdb.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	classID, ids, err := db.SeedDemo(ctx, h.DB, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]
	classes, members := db.NewClassRepo(h.DB), db.NewStudentRepo(h.DB)
	eng := roster.NewEngine(classes, members, nil)
	cls, err := classes.FindByID(ctx, classID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Reconcile(ctx, classID, []string{a, b}, cls.TeacherID); err != nil {
		t.Fatal(err)
	}

	// обмен при полном классе
	res, err := eng.Reconcile(ctx, classID, []string{b, c}, cls.TeacherID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != a || len(res.Added) != 1 || res.Added[0] != c || res.EnrolledCount != 2 {
		t.Fatalf("ожидали removed=[A] added=[C] enrolled=2, получили %+v", res)
	}

	// чистое добавление сверх вместимости
	res, err = eng.Reconcile(ctx, classID, []string{b, c, d}, cls.TeacherID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.CapacityRejected) != 1 || res.CapacityRejected[0] != d || res.EnrolledCount != 2 {
		t.Fatalf("ожидали capacity_rejected=[D], получили %+v", res)
	}
	cur, err := members.CurrentClassID(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if cur != nil {
		t.Fatalf("после компенсации D не должен ссылаться на класс: %s", *cur)
	}

	drift, err := db.EnrollmentDrift(ctx, h.DB, []string{classID})
	if err != nil {
		t.Fatal(err)
	}
	if len(drift) != 0 {
		t.Fatalf("ожидали совпадение счётчика и состава, получили %+v", drift)
	}
}

func TestRoster_ParallelJoinsNeverOverfill(t *testing.T) {
	ctx := context.Background()
	h, err := testdb.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	const capacity = 5
	classID, ids, err := db.SeedDemo(ctx, h.DB, capacity, 40)
	if err != nil {
		t.Fatal(err)
	}
	eng := roster.NewEngine(db.NewClassRepo(h.DB), db.NewStudentRepo(h.DB), nil)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
	)
	for i := 0; i < len(ids); i += 4 {
		wg.Add(1)
		go func(batch []string) {
			defer wg.Done()
			// каждый запрос добавляет «свои» четыре id поверх текущих, не трогая чужих
			current, err := db.NewStudentRepo(h.DB).ListStudentIDsInClass(ctx, classID)
			if err != nil {
				t.Error(err)
				return
			}
			res, err := eng.Reconcile(ctx, classID, append(current, batch...), nil)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			added += len(res.Added)
			mu.Unlock()
		}(ids[i : i+4])
	}
	wg.Wait()

	c, err := db.NewClassRepo(h.DB).FindByID(ctx, classID)
	if err != nil {
		t.Fatal(err)
	}
	if c.EnrolledCount > capacity || c.EnrolledCount < 0 {
		t.Fatalf("нарушена вместимость: %d/%d", c.EnrolledCount, capacity)
	}
	drift, err := db.EnrollmentDrift(ctx, h.DB, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(drift) != 0 {
		t.Fatalf("счётчик разошёлся с составом: %+v (added=%d)", drift, added)
	}
}

func TestLifecycle_PolicyAndGuards(t *testing.T) {
	ctx := context.Background()
	h, err := testdb.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	classID, ids, err := db.SeedDemo(ctx, h.DB, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	classes, members := db.NewClassRepo(h.DB), db.NewStudentRepo(h.DB)
	svc := lifecycle.NewService(policy.New(db.NewPolicyCounter(h.DB), nil), db.NewLifecycleRepo(h.DB), nil)

	if _, err := roster.NewEngine(classes, members, nil).Reconcile(ctx, classID, ids, nil); err != nil {
		t.Fatal(err)
	}
	err = svc.SoftDelete(ctx, models.EntityClass, classID, "admin")
	var denied *models.PolicyDeniedError
	if !errors.As(err, &denied) || denied.Reasons["enrolled_students"] != 1 || *denied.Recommended != models.ModeArchive {
		t.Fatalf("ожидали отказ enrolled_students с archive, получили %v", err)
	}

	// слот расписания, удалённый мягко, всё равно держит физическое удаление
	cls, _ := classes.FindByID(ctx, classID)
	subjectID := cls.SubjectIDs[0]
	slotID, err := db.CreateScheduleSlot(ctx, h.DB, models.ScheduleSlot{ClassID: classID, SubjectID: subjectID, Weekday: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SoftDelete(ctx, models.EntitySchedule, slotID, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := roster.NewEngine(classes, members, nil).Reconcile(ctx, classID, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.SoftDelete(ctx, models.EntityClass, classID, "admin"); err != nil {
		t.Fatalf("пустой класс без живых ссылок удаляется мягко: %v", err)
	}
	err = svc.HardDelete(ctx, models.EntityClass, classID, "admin")
	if !errors.As(err, &denied) || denied.Reasons["schedules"] != 1 || *denied.Recommended != models.ModeSoft {
		t.Fatalf("ожидали отказ schedules с soft, получили %v", err)
	}

	// класс удалён — сведение невозможно
	if _, err := roster.NewEngine(classes, members, nil).Reconcile(ctx, classID, ids, nil); !errors.Is(err, roster.ErrClassNotFound) {
		t.Fatalf("ожидали ErrClassNotFound, получили %v", err)
	}

	if err := svc.HardDelete(ctx, models.EntitySchedule, slotID, "admin"); err != nil {
		t.Fatal(err)
	}
	if err := svc.HardDelete(ctx, models.EntityClass, classID, "admin"); err != nil {
		t.Fatalf("класс без ссылок удаляется физически: %v", err)
	}
	if err := svc.Restore(ctx, models.EntityClass, classID, "admin"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestHardDelete_ForeignKeyRaceIsStillReferenced(t *testing.T) {
	ctx := context.Background()
	h, err := testdb.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	subjectID, err := db.CreateSubject(ctx, h.DB, "Информатика")
	if err != nil {
		t.Fatal(err)
	}
	classID, err := db.NewClassRepo(h.DB).Create(ctx, models.ClassSection{Name: "8А", MaxStudents: 10})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateScheduleSlot(ctx, h.DB, models.ScheduleSlot{ClassID: classID, SubjectID: subjectID, Weekday: 2}); err != nil {
		t.Fatal(err)
	}

	// в обход политики: внешний ключ — последний рубеж
	_, err = db.NewLifecycleRepo(h.DB).HardDelete(ctx, "subjects", subjectID)
	if !errors.Is(err, models.ErrStillReferenced) {
		t.Fatalf("ожидали ErrStillReferenced, получили %v", err)
	}
}

func TestSoftDelete_SubjectOfDeletedClass(t *testing.T) {
	ctx := context.Background()
	h, err := testdb.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	subjectID, err := db.CreateSubject(ctx, h.DB, "Биология")
	if err != nil {
		t.Fatal(err)
	}
	classID, err := db.NewClassRepo(h.DB).Create(ctx, models.ClassSection{Name: "6Б", MaxStudents: 10, SubjectIDs: []string{subjectID}})
	if err != nil {
		t.Fatal(err)
	}
	svc := lifecycle.NewService(policy.New(db.NewPolicyCounter(h.DB), nil), db.NewLifecycleRepo(h.DB), nil)

	var denied *models.PolicyDeniedError
	if err := svc.SoftDelete(ctx, models.EntitySubject, subjectID, "admin"); !errors.As(err, &denied) || denied.Reasons["classes"] != 1 {
		t.Fatalf("живой класс должен держать предмет, получили %v", err)
	}
	if err := svc.SoftDelete(ctx, models.EntityClass, classID, "admin"); err != nil {
		t.Fatal(err)
	}
	if err := svc.SoftDelete(ctx, models.EntitySubject, subjectID, "admin"); err != nil {
		t.Fatalf("удалённый класс не держит предмет: %v", err)
	}
	if err := svc.HardDelete(ctx, models.EntitySubject, subjectID, "admin"); !errors.As(err, &denied) || denied.Reasons["classes"] != 1 {
		t.Fatalf("ожидали отказ по classes при физическом удалении, получили %v", err)
	}
}

func TestCapacityCheckConstraint(t *testing.T) {
	ctx := context.Background()
	h, err := testdb.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	classID, _, err := db.SeedDemo(ctx, h.DB, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.DB.ExecContext(ctx, `UPDATE classes SET enrolled_count = 2 WHERE id = $1`, classID)
	if err == nil {
		t.Fatal("CHECK должен запрещать enrolled_count > max_students")
	}
	_, err = h.DB.ExecContext(ctx, `UPDATE classes SET deleted_at = $2 WHERE id = $1`, classID, time.Now())
	if err == nil {
		t.Fatal("CHECK должен запрещать deleted_at без deleted_by")
	}
}
