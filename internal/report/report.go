// Package report renders learner progress into downloadable xlsx workbooks.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/studyloop/tutor-engine/internal/tutor"
)

const (
	subjectsSheet = "Subjects"
	lessonsSheet  = "Lessons"
)

// Progress builds a workbook with one sheet listing the learner's subjects
// and one detailing the active lesson plan.
func Progress(tc *tutor.TutorContext, subjects []tutor.Subject) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", subjectsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headers := []string{"Subject", "Progress %", "Active", "Started", "Completed"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(subjectsSheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	for row, sub := range subjects {
		completed := ""
		if sub.CompletedAt != nil {
			completed = sub.CompletedAt.Format("2006-01-02")
		}
		values := []any{
			sub.Name,
			sub.Progress,
			sub.Active,
			sub.CreatedAt.Format("2006-01-02"),
			completed,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(subjectsSheet, cell, v); err != nil {
				return nil, fmt.Errorf("write subject row: %w", err)
			}
		}
	}

	if tc != nil && tc.Plan != nil {
		if err := writeLessons(f, tc); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func writeLessons(f *excelize.File, tc *tutor.TutorContext) error {
	if _, err := f.NewSheet(lessonsSheet); err != nil {
		return fmt.Errorf("add lessons sheet: %w", err)
	}

	headers := []string{"#", "Lesson", "Completed", "Current"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(lessonsSheet, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for i, lesson := range tc.Plan.Lessons {
		values := []any{
			i + 1,
			lesson.Title,
			lesson.Completed,
			i == tc.Plan.CurrentIndex,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(lessonsSheet, cell, v); err != nil {
				return fmt.Errorf("write lesson row: %w", err)
			}
		}
	}

	summaryRow := len(tc.Plan.Lessons) + 3
	cell, _ := excelize.CoordinatesToCellName(1, summaryRow)
	if err := f.SetCellValue(lessonsSheet, cell, "Accuracy"); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	cell, _ = excelize.CoordinatesToCellName(2, summaryRow)
	if err := f.SetCellValue(lessonsSheet, cell, tc.Progress.Accuracy()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// WriteProgress streams the workbook to w.
func WriteProgress(w io.Writer, tc *tutor.TutorContext, subjects []tutor.Subject) error {
	f, err := Progress(tc, subjects)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
