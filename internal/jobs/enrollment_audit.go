package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Spok95/school-roster/internal/models"
)

const EnrollmentAuditName = "enrollment_audit"

// DriftSource — db.Auditor или memstore.Store.
type DriftSource interface {
	EnrollmentDrift(ctx context.Context) ([]models.EnrollmentDrift, error)
}

// EnrollmentAudit только читает: расхождения логируются и попадают в gauge,
// исправлять их вправе лишь оператор.
type EnrollmentAudit struct {
	src  DriftSource
	log  *zap.Logger
	last []models.EnrollmentDrift
}

func NewEnrollmentAudit(src DriftSource, log *zap.Logger) *EnrollmentAudit {
	if log == nil {
		log = zap.NewNop()
	}
	return &EnrollmentAudit{src: src, log: log}
}

func (a *EnrollmentAudit) Run(ctx context.Context) error {
	drift, err := a.src.EnrollmentDrift(ctx)
	if err != nil {
		return fmt.Errorf("enrollment audit: %w", err)
	}
	driftClasses.Set(float64(len(drift)))
	for _, d := range drift {
		a.log.Warn("enrollment drift",
			zap.String("class_id", d.ClassID),
			zap.Int("enrolled_count", d.EnrolledCount),
			zap.Int("members", d.Members))
	}
	a.last = drift
	return nil
}

// Last — результат последнего прогона (для CLI). Не потокобезопасно с Every.
func (a *EnrollmentAudit) Last() []models.EnrollmentDrift { return a.last }
