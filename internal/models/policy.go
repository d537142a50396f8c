package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound — сущности нет или она уже перешла в другое состояние (гонка).
	ErrNotFound = errors.New("not found")
	// ErrStillReferenced — хранилище отказало в физическом удалении из-за внешнего ключа.
	ErrStillReferenced = errors.New("still referenced")
)

// PolicyResult — решение политики; создаётся на каждую проверку и нигде не хранится.
type PolicyResult struct {
	Entity      EntityType     `json:"entity"`
	ID          string         `json:"id"`
	Mode        Mode           `json:"mode"`
	Allowed     bool           `json:"allowed"`
	Reasons     map[string]int `json:"reasons"`
	Recommended *Mode          `json:"recommended,omitempty"`
}

// Block записывает блокер; любой ненулевой счётчик превращает результат в отказ.
func (r *PolicyResult) Block(reason string, count int) {
	if count <= 0 {
		return
	}
	if r.Reasons == nil {
		r.Reasons = map[string]int{}
	}
	r.Reasons[reason] += count
	r.Allowed = false
}

// Err — nil при разрешении, иначе *PolicyDeniedError.
func (r PolicyResult) Err() error {
	if r.Allowed {
		return nil
	}
	return &PolicyDeniedError{
		Entity:      r.Entity,
		ID:          r.ID,
		Mode:        r.Mode,
		Reasons:     r.Reasons,
		Recommended: r.Recommended,
	}
}

// PolicyDeniedError — исправимый пользователем отказ в разрушительном переходе.
type PolicyDeniedError struct {
	Entity      EntityType     `json:"entity"`
	ID          string         `json:"id"`
	Mode        Mode           `json:"mode"`
	Reasons     map[string]int `json:"reasons"`
	Recommended *Mode          `json:"recommended,omitempty"`
}

func (e *PolicyDeniedError) Error() string {
	keys := make([]string, 0, len(e.Reasons))
	for k := range e.Reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, e.Reasons[k]))
	}
	msg := fmt.Sprintf("%s %s: %s delete denied (%s)", e.Entity, e.ID, e.Mode, strings.Join(parts, ", "))
	if e.Mode == ModeRestore {
		msg = fmt.Sprintf("%s %s: restore denied (%s)", e.Entity, e.ID, strings.Join(parts, ", "))
	}
	if e.Recommended != nil {
		msg += "; recommended: " + string(*e.Recommended)
	}
	return msg
}

// ModePtr — удобный указатель для Recommended.
func ModePtr(m Mode) *Mode { return &m }
