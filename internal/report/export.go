// Package report renders completed analysis rows as an XLSX workbook for
// offline dashboard consumption.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"audio-insights-go/internal/store"
)

var headers = []string{"ID", "Batch", "Sentiment", "Topic", "Summary"}

// WriteDashboardXLSX streams one workbook with a single sheet of completed,
// analyzed files to w.
func WriteDashboardXLSX(rows []store.DashboardRow, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Dashboard"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		_ = f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for i, r := range rows {
		values := []interface{}{r.ID, r.BatchName, r.Sentiment, r.Topic, r.Summary}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("write row %d: %w", i+1, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
