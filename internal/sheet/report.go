package sheet

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"bulksender/internal/dispatch"
)

const (
	ReportSheet    = "Message Report"
	ReportFilename = "message_report.xlsx"
	ContentType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var reportHeader = []interface{}{"Phone Number", "Status", "Timestamp"}

// WriteReport renders results as a single-sheet workbook.
func WriteReport(w io.Writer, results []dispatch.Result) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), ReportSheet); err != nil {
		return err
	}
	header := reportHeader
	if err := f.SetSheetRow(ReportSheet, "A1", &header); err != nil {
		return err
	}
	for i, res := range results {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		ts := ""
		if !res.Time.IsZero() {
			ts = res.Time.Format(dispatch.TimeLayout)
		}
		row := []interface{}{res.Number, string(res.Status), ts}
		if err := f.SetSheetRow(ReportSheet, cell, &row); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(ReportSheet, "A", "C", 22); err != nil {
		return err
	}
	return f.Write(w)
}
