package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// WriteXLSX exports a summary to an Excel workbook with one sheet of
// per-action, per-stage latency rows. Latencies are in milliseconds.
func WriteXLSX(path string, s *Summary, percentiles []float64) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Latency"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headers := []string{"Action", "Stage", "Count", "Min (ms)"}
	for _, p := range percentiles {
		headers = append(headers, fmt.Sprintf("p%g (ms)", p))
	}
	headers = append(headers, "Max (ms)")

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, action := range s.Actions {
		for _, stage := range action.Stages {
			values := []interface{}{
				action.Action,
				stage.Stage,
				stage.Count,
				float64(stage.Min) / 1e6,
			}
			for _, p := range percentiles {
				values = append(values, float64(stage.Percentiles[p])/1e6)
			}
			values = append(values, float64(stage.Max)/1e6)

			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row)
				f.SetCellValue(sheet, cell, v)
			}
			row++
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
