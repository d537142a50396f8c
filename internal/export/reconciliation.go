package export

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Spok95/school-roster/internal/models"
)

const (
	SheetSummary   = "Итог"
	SheetAdded     = "Добавлены"
	SheetRemoved   = "Исключены"
	SheetConflicts = "Конфликты"
	SheetCapacity  = "Нет мест"
	SheetDrift     = "Расхождения"
)

// ReconciliationSheets раскладывает отчёт сведения по листам; пустые списки дают лист с одной шапкой.
func ReconciliationSheets(res models.ReconciliationResult) []SheetSpec {
	teacher := "—"
	if res.TeacherID != nil {
		teacher = *res.TeacherID
	}
	summary := SheetSpec{
		Title:  SheetSummary,
		Header: []string{"Класс", "Руководитель", "Руководитель сменён", "Зачислено"},
		Rows: [][]string{{
			res.ClassID, teacher, yesNo(res.TeacherChanged), strconv.Itoa(res.EnrolledCount),
		}},
	}

	conflicts := SheetSpec{Title: SheetConflicts, Header: []string{"Ученик", "Причина", "Текущий класс"}}
	for _, c := range res.Conflicts {
		cur := ""
		if c.CurrentClassID != nil {
			cur = *c.CurrentClassID
		}
		conflicts.Rows = append(conflicts.Rows, []string{c.StudentID, string(c.Reason), cur})
	}

	return []SheetSpec{
		summary,
		idSheet(SheetAdded, res.Added),
		idSheet(SheetRemoved, res.Removed),
		conflicts,
		idSheet(SheetCapacity, res.CapacityRejected),
	}
}

func ReconciliationWorkbook(res models.ReconciliationResult) (*Workbook, error) {
	return NewWorkbook(ReconciliationSheets(res))
}

// DriftWorkbook — результат аудита счётчиков.
func DriftWorkbook(drift []models.EnrollmentDrift) (*Workbook, error) {
	s := SheetSpec{Title: SheetDrift, Header: []string{"Класс", "enrolled_count", "Учеников", "Разница"}}
	for _, d := range drift {
		s.Rows = append(s.Rows, []string{
			d.ClassID,
			strconv.Itoa(d.EnrolledCount),
			strconv.Itoa(d.Members),
			strconv.Itoa(d.EnrolledCount - d.Members),
		})
	}
	return NewWorkbook([]SheetSpec{s})
}

// RosterFilename — имя файла для скачивания отчёта.
func RosterFilename(classID string, at time.Time) string {
	return sanitizeFileName(fmt.Sprintf("roster %s %s.xlsx", classID, at.Format("2006-01-02 15-04")))
}

func idSheet(title string, ids []string) SheetSpec {
	s := SheetSpec{Title: title, Header: []string{"Ученик"}}
	for _, id := range ids {
		s.Rows = append(s.Rows, []string{id})
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "да"
	}
	return "нет"
}
