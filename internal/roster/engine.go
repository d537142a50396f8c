// Package roster сводит желаемый состав класса (ученики + классный руководитель)
// с текущим под жёстким ограничением вместимости.
//
// Глобальных блокировок нет: корректность держится на условных однодокументных
// записях хранилища и на компенсации неудачного зачисления. Конфликты и отказы по
// вместимости — это данные отчёта, а не ошибки.
package roster

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Spok95/school-roster/internal/metrics"
	"github.com/Spok95/school-roster/internal/models"
)

// ErrClassNotFound — класса нет или он мягко удалён.
var ErrClassNotFound = fmt.Errorf("CLASS_NOT_FOUND_OR_DELETED: %w", models.ErrNotFound)

// Classes — порт репозитория классов.
type Classes interface {
	FindByID(ctx context.Context, classID string) (*models.ClassSection, error)
	SetTeacher(ctx context.Context, classID string, teacherID *string) (bool, error)
	TryIncrementEnrollment(ctx context.Context, classID string) (*models.ClassSection, error)
	TryDecrementEnrollment(ctx context.Context, classID string) (*models.ClassSection, error)
}

// Membership — узкий порт агрегата ученика.
type Membership interface {
	ListStudentIDsInClass(ctx context.Context, classID string) ([]string, error)
	Exists(ctx context.Context, studentID string) (bool, error)
	CurrentClassID(ctx context.Context, studentID string) (*string, error)
	TryJoinClass(ctx context.Context, studentID, classID string) (bool, error)
	TryLeaveClass(ctx context.Context, studentID, classID string) (bool, error)
	RevertJoin(ctx context.Context, studentID, classID string) error
}

type Engine struct {
	classes Classes
	members Membership
	log     *zap.Logger
}

func NewEngine(classes Classes, members Membership, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{classes: classes, members: members, log: log}
}

// Reconcile — вход для прикладных сервисов: сырые id нормализуются в ClassRosterUpdate.
func (e *Engine) Reconcile(ctx context.Context, classID string, studentIDs []string, teacherID *string) (models.ReconciliationResult, error) {
	return e.Apply(ctx, models.NewClassRosterUpdate(classID, studentIDs, teacherID))
}

// Apply применяет состав «насколько это сейчас возможно».
// Ошибка возвращается только при отсутствии класса или сбое хранилища; в последнем
// случае уже применённые изменения не откатываются, а отчёт содержит сделанное до сбоя.
// Повторная отправка того же обновления безопасна: дифф просто станет меньше.
func (e *Engine) Apply(ctx context.Context, update models.ClassRosterUpdate) (models.ReconciliationResult, error) {
	classID := update.ClassID()
	res := models.NewReconciliationResult(classID)
	log := e.log.With(zap.String("class_id", classID))

	// 1. класс
	class, err := e.classes.FindByID(ctx, classID)
	if err != nil {
		return res, fmt.Errorf("load class: %w", err)
	}
	if class == nil || class.IsDeleted() {
		return res, ErrClassNotFound
	}
	res.TeacherID = class.TeacherID
	res.EnrolledCount = class.EnrolledCount

	// 2. классный руководитель
	desiredTeacher := update.TeacherID()
	if !sameID(desiredTeacher, class.TeacherID) {
		ok, err := e.classes.SetTeacher(ctx, classID, desiredTeacher)
		if err != nil {
			return res, fmt.Errorf("set teacher: %w", err)
		}
		if !ok {
			return res, ErrClassNotFound
		}
		res.TeacherChanged = true
		res.TeacherID = desiredTeacher
	}

	// 3–4. текущий состав и дифф
	current, err := e.members.ListStudentIDsInClass(ctx, classID)
	if err != nil {
		return res, fmt.Errorf("list members: %w", err)
	}
	toAdd, toRemove := update.Diff(current)

	// 5–6. сначала освобождаем места
	for _, sid := range toRemove {
		if err := e.remove(ctx, log, &res, sid, classID); err != nil {
			return res, err
		}
	}

	// 7. затем занимаем
	for _, sid := range toAdd {
		if err := e.add(ctx, log, &res, sid, classID); err != nil {
			return res, err
		}
	}

	// 8. итоговый счётчик перечитываем: параллельные сведения могли вмешаться
	if fresh, err := e.classes.FindByID(ctx, classID); err != nil {
		return res, fmt.Errorf("reload class: %w", err)
	} else if fresh != nil {
		res.EnrolledCount = fresh.EnrolledCount
	}

	metrics.Reconciliations.Inc()
	log.Info("roster reconciled",
		zap.Bool("teacher_changed", res.TeacherChanged),
		zap.Int("added", len(res.Added)),
		zap.Int("removed", len(res.Removed)),
		zap.Int("conflicts", len(res.Conflicts)),
		zap.Int("capacity_rejected", len(res.CapacityRejected)),
		zap.Int("enrolled_count", res.EnrolledCount))
	return res, nil
}

func (e *Engine) remove(ctx context.Context, log *zap.Logger, res *models.ReconciliationResult, studentID, classID string) error {
	left, err := e.members.TryLeaveClass(ctx, studentID, classID)
	if err != nil {
		return fmt.Errorf("leave class %s: %w", studentID, err)
	}
	if !left {
		// уже ушёл сам: целевое состояние и так достигнуто
		log.Debug("student already left", zap.String("student_id", studentID))
		return nil
	}
	c, err := e.classes.TryDecrementEnrollment(ctx, classID)
	if err != nil {
		return fmt.Errorf("decrement enrollment: %w", err)
	}
	if c == nil {
		log.Warn("enrollment counter already zero on leave", zap.String("student_id", studentID))
	}
	res.Removed = append(res.Removed, studentID)
	metrics.RosterOutcomes.WithLabelValues("removed").Inc()
	return nil
}

func (e *Engine) add(ctx context.Context, log *zap.Logger, res *models.ReconciliationResult, studentID, classID string) error {
	// a. ученик существует
	ok, err := e.members.Exists(ctx, studentID)
	if err != nil {
		return fmt.Errorf("student %s exists: %w", studentID, err)
	}
	if !ok {
		res.Conflicts = append(res.Conflicts, models.Conflict{StudentID: studentID, Reason: models.ConflictNotFound})
		metrics.RosterOutcomes.WithLabelValues("conflict").Inc()
		return nil
	}

	// b. не более одного активного класса
	joined, err := e.members.TryJoinClass(ctx, studentID, classID)
	if err != nil {
		return fmt.Errorf("join class %s: %w", studentID, err)
	}
	if !joined {
		cur, err := e.members.CurrentClassID(ctx, studentID)
		if err != nil {
			return fmt.Errorf("current class of %s: %w", studentID, err)
		}
		res.Conflicts = append(res.Conflicts, models.Conflict{
			StudentID:      studentID,
			Reason:         models.ConflictAlreadyEnrolled,
			CurrentClassID: cur,
		})
		metrics.RosterOutcomes.WithLabelValues("conflict").Inc()
		return nil
	}

	// c. место в классе; без него зачисление обязательно откатываем
	c, err := e.classes.TryIncrementEnrollment(ctx, classID)
	if err != nil {
		if rerr := e.members.RevertJoin(ctx, studentID, classID); rerr != nil {
			log.Error("revert join failed", zap.String("student_id", studentID), zap.Error(rerr))
		}
		return fmt.Errorf("increment enrollment: %w", err)
	}
	if c == nil {
		if err := e.members.RevertJoin(ctx, studentID, classID); err != nil {
			log.Error("revert join failed", zap.String("student_id", studentID), zap.Error(err))
			return fmt.Errorf("revert join %s: %w", studentID, err)
		}
		res.CapacityRejected = append(res.CapacityRejected, studentID)
		metrics.Compensations.Inc()
		metrics.RosterOutcomes.WithLabelValues("capacity_rejected").Inc()
		return nil
	}

	// d.
	res.Added = append(res.Added, studentID)
	metrics.RosterOutcomes.WithLabelValues("added").Inc()
	return nil
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
