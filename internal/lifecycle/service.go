// Package lifecycle проводит мягкое удаление, восстановление и физическое удаление
// управляемых сущностей: политика → условная запись → фиксированное отображение ошибок.
// Каскадов нет: каждый переход затрагивает ровно одну запись.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-roster/internal/ctxutil"
	"github.com/Spok95/school-roster/internal/metrics"
	"github.com/Spok95/school-roster/internal/models"
	"github.com/Spok95/school-roster/internal/policy"
)

var ErrActorRequired = errors.New("actor id is required")

// Store — условные переходы; возвращают число совпавших записей.
type Store interface {
	SoftDelete(ctx context.Context, table, id, actor string, at time.Time) (int64, error)
	Restore(ctx context.Context, table, id string, at time.Time) (int64, error)
	HardDelete(ctx context.Context, table, id string) (int64, error)
}

type Policy interface {
	Rule(entity models.EntityType) (policy.Rule, error)
	CanTransition(ctx context.Context, entity models.EntityType, id string, mode models.Mode) (models.PolicyResult, error)
}

type Service struct {
	policy Policy
	store  Store
	log    *zap.Logger
	now    func() time.Time
}

func NewService(p Policy, store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{policy: p, store: store, log: log, now: time.Now}
}

// WithClock подменяет часы (для тестов).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) SoftDelete(ctx context.Context, entity models.EntityType, id, actor string) error {
	return s.Transition(ctx, entity, id, models.ModeSoft, actor)
}

func (s *Service) Restore(ctx context.Context, entity models.EntityType, id, actor string) error {
	return s.Transition(ctx, entity, id, models.ModeRestore, actor)
}

func (s *Service) HardDelete(ctx context.Context, entity models.EntityType, id, actor string) error {
	return s.Transition(ctx, entity, id, models.ModeHard, actor)
}

// Check — только решение политики, без записи.
func (s *Service) Check(ctx context.Context, entity models.EntityType, id string, mode models.Mode) (models.PolicyResult, error) {
	return s.policy.CanTransition(ctx, entity, id, mode)
}

// Transition: успех | *models.PolicyDeniedError | models.ErrNotFound.
// Повторов внутри нет: при гонке с противоположным переходом повтор мог бы зациклиться.
func (s *Service) Transition(ctx context.Context, entity models.EntityType, id string, mode models.Mode, actor string) error {
	if actor == "" {
		actor, _ = ctxutil.ActorID(ctx)
	}
	if actor == "" {
		return ErrActorRequired
	}
	rule, err := s.policy.Rule(entity)
	if err != nil {
		return err
	}

	res, err := s.policy.CanTransition(ctx, entity, id, mode)
	if err != nil {
		return err
	}
	if !res.Allowed {
		metrics.PolicyDenials.WithLabelValues(string(entity), string(mode)).Inc()
		s.log.Info("lifecycle transition denied",
			zap.String("entity", string(entity)), zap.String("id", id),
			zap.String("mode", string(mode)), zap.String("actor", actor),
			zap.Any("reasons", res.Reasons))
		return res.Err()
	}

	var matched int64
	at := s.now().UTC()
	switch mode {
	case models.ModeSoft:
		matched, err = s.store.SoftDelete(ctx, rule.Table, id, actor, at)
	case models.ModeRestore:
		matched, err = s.store.Restore(ctx, rule.Table, id, at)
	case models.ModeHard:
		matched, err = s.store.HardDelete(ctx, rule.Table, id)
		if errors.Is(err, models.ErrStillReferenced) {
			metrics.PolicyDenials.WithLabelValues(string(entity), string(mode)).Inc()
			return &models.PolicyDeniedError{
				Entity:      entity,
				ID:          id,
				Mode:        mode,
				Reasons:     map[string]int{"concurrent_references": 1},
				Recommended: models.ModePtr(models.ModeSoft),
			}
		}
	default:
		return fmt.Errorf("unsupported mode %q", mode)
	}
	if err != nil {
		return err
	}
	if matched == 0 {
		// между проверкой и записью сущность исчезла или сменила состояние
		return fmt.Errorf("%s %s changed concurrently: %w", entity, id, models.ErrNotFound)
	}

	metrics.LifecycleTransitions.WithLabelValues(string(entity), string(mode)).Inc()
	s.log.Info("lifecycle transition applied",
		zap.String("entity", string(entity)), zap.String("id", id),
		zap.String("mode", string(mode)), zap.String("actor", actor))
	return nil
}
