// Package sheet reads phone numbers out of uploaded spreadsheets and renders
// dispatch reports as .xlsx workbooks.
package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"bulksender/internal/recipient"
)

var ErrUnsupported = errors.New("unsupported spreadsheet format")

// Import extracts every 10-digit run from the file, visiting sheets, rows and
// cells in order. The format is chosen by the file name's extension.
// The result is never nil.
func Import(name string, r io.Reader) ([]string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return importWorkbook(r)
	case ".csv":
		return importCSV(r)
	case ".txt":
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return recipient.Extract(string(b)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, filepath.Ext(name))
	}
}

func importWorkbook(r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	out := []string{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			for _, cell := range row {
				out = append(out, recipient.Extract(cell)...)
			}
		}
	}
	return out, nil
}

func importCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	out := []string{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		for _, cell := range rec {
			out = append(out, recipient.Extract(cell)...)
		}
	}
}
