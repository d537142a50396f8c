// Package policy решает, разрешён ли сейчас разрушительный переход жизненного цикла.
// Одна реализация на все типы сущностей, параметризованная таблицей Rules.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/Spok95/school-roster/internal/models"
)

var ErrUnknownEntity = errors.New("unknown entity type")

// Counter — порт хранилища для подсчёта зависимостей.
type Counter interface {
	State(ctx context.Context, table, id string) (models.LifecycleState, error)
	ReadCounter(ctx context.Context, table, column, id string) (int, error)
	CountReferences(ctx context.Context, table, column, id string, liveOnly bool) (int, error)
	// CountLinks — строки связки table с column = id, чья запись via (по viaColumn)
	// ещё не удалена мягко.
	CountLinks(ctx context.Context, table, column, id, via, viaColumn string) (int, error)
}

type ReferentialPolicy struct {
	counter Counter
	rules   Rules
}

// New — политика поверх counter; rules == nil означает DefaultRules.
func New(counter Counter, rules Rules) *ReferentialPolicy {
	if rules == nil {
		rules = DefaultRules()
	}
	return &ReferentialPolicy{counter: counter, rules: rules}
}

func (p *ReferentialPolicy) Rule(entity models.EntityType) (Rule, error) {
	r, ok := p.rules[entity]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	return r, nil
}

// CanTransition — единая точка входа; результат каждый раз строится заново.
func (p *ReferentialPolicy) CanTransition(ctx context.Context, entity models.EntityType, id string, mode models.Mode) (models.PolicyResult, error) {
	switch mode {
	case models.ModeSoft:
		return p.CanSoftDelete(ctx, entity, id)
	case models.ModeHard:
		return p.CanHardDelete(ctx, entity, id)
	case models.ModeRestore:
		return p.CanRestore(ctx, entity, id)
	default:
		return models.PolicyResult{}, fmt.Errorf("unsupported mode %q", mode)
	}
}

// CanSoftDelete: сущность должна быть активной; блокируют живые ссылки и ненулевые счётчики.
func (p *ReferentialPolicy) CanSoftDelete(ctx context.Context, entity models.EntityType, id string) (models.PolicyResult, error) {
	rule, res, state, err := p.begin(ctx, entity, id, models.ModeSoft)
	if err != nil {
		return res, err
	}
	if state != models.StateActive {
		return res, notFound(entity, id)
	}

	for _, c := range rule.Counters {
		n, err := p.counter.ReadCounter(ctx, rule.Table, c.Column, id)
		if err != nil {
			return res, err
		}
		res.Block(c.Name, n)
	}
	for _, ref := range rule.References {
		if ref.HardOnly {
			continue
		}
		n, err := p.countLive(ctx, ref, id)
		if err != nil {
			return res, err
		}
		res.Block(ref.Name, n)
	}
	if !res.Allowed && rule.Recommend != "" {
		res.Recommended = models.ModePtr(rule.Recommend)
	}
	return res, nil
}

// CanHardDelete: сущность может быть в любом состоянии; блокирует любая ссылка,
// живая или удалённая, иначе после удаления останутся висячие ссылки.
func (p *ReferentialPolicy) CanHardDelete(ctx context.Context, entity models.EntityType, id string) (models.PolicyResult, error) {
	rule, res, state, err := p.begin(ctx, entity, id, models.ModeHard)
	if err != nil {
		return res, err
	}
	if state == models.StateMissing {
		return res, notFound(entity, id)
	}

	for _, ref := range rule.References {
		n, err := p.counter.CountReferences(ctx, ref.Table, ref.Column, id, false)
		if err != nil {
			return res, err
		}
		res.Block(ref.Name, n)
	}
	if !res.Allowed {
		res.Recommended = models.ModePtr(models.ModeSoft)
	}
	return res, nil
}

// CanRestore требует только существования записи.
func (p *ReferentialPolicy) CanRestore(ctx context.Context, entity models.EntityType, id string) (models.PolicyResult, error) {
	_, res, state, err := p.begin(ctx, entity, id, models.ModeRestore)
	if err != nil {
		return res, err
	}
	if state == models.StateMissing {
		return res, notFound(entity, id)
	}
	return res, nil
}

func (p *ReferentialPolicy) begin(ctx context.Context, entity models.EntityType, id string, mode models.Mode) (Rule, models.PolicyResult, models.LifecycleState, error) {
	res := models.PolicyResult{Entity: entity, ID: id, Mode: mode, Allowed: true, Reasons: map[string]int{}}
	rule, err := p.Rule(entity)
	if err != nil {
		return rule, res, models.StateMissing, err
	}
	state, err := p.counter.State(ctx, rule.Table, id)
	if err != nil {
		return rule, res, models.StateMissing, err
	}
	return rule, res, state, nil
}

func (p *ReferentialPolicy) countLive(ctx context.Context, ref Reference, id string) (int, error) {
	if ref.Via != "" {
		return p.counter.CountLinks(ctx, ref.Table, ref.Column, id, ref.Via, ref.ViaColumn)
	}
	return p.counter.CountReferences(ctx, ref.Table, ref.Column, id, ref.Lifecycle)
}

func notFound(entity models.EntityType, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, models.ErrNotFound)
}
