package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Epistemic-Technology/vision-ocr/models"
)

const (
	resultsSheet = "Results"
	errorsSheet  = "Errors"
	summarySheet = "Summary"

	// Excel refuses cells longer than this.
	maxCellLength = 32767
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report *models.BatchReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

// XLSX returns the report as a workbook with one sheet for results, one for
// errors and a summary sheet.
func XLSX(report *models.BatchReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with "Sheet1"; rename it rather than leaving it empty.
	if err := f.SetSheetName(f.GetSheetName(0), resultsSheet); err != nil {
		return nil, err
	}
	for _, name := range []string{errorsSheet, summarySheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	wrap, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
	if err != nil {
		return nil, err
	}

	results := [][]any{}
	for _, id := range sortedKeys(report.Results) {
		row := []any{id, cellText(report.Results[id])}
		if report.Formatted != nil {
			if ok, found := report.Formatted[id]; found {
				row = append(row, ok)
			}
		}
		results = append(results, row)
	}
	resultHeaders := []string{"Input", "Text"}
	if len(report.Formatted) > 0 {
		resultHeaders = append(resultHeaders, "Formatted")
	}
	if err := writeSheet(f, resultsSheet, resultHeaders, results, header); err != nil {
		return nil, err
	}

	failures := [][]any{}
	for _, id := range sortedKeys(report.Errors) {
		failures = append(failures, []any{id, cellText(report.Errors[id])})
	}
	if err := writeSheet(f, errorsSheet, []string{"Input", "Error"}, failures, header); err != nil {
		return nil, err
	}

	summary := [][]any{
		{"Batch ID", report.BatchID},
		{"Total", report.Statistics.Total},
		{"Successful", report.Statistics.Successful},
		{"Failed", report.Statistics.Failed},
	}
	if err := writeSheet(f, summarySheet, []string{"Field", "Value"}, summary, header); err != nil {
		return nil, err
	}

	_ = f.SetColWidth(resultsSheet, "A", "A", 48)
	_ = f.SetColWidth(resultsSheet, "B", "B", 100)
	_ = f.SetColWidth(errorsSheet, "A", "A", 48)
	_ = f.SetColWidth(errorsSheet, "B", "B", 80)
	_ = f.SetColWidth(summarySheet, "A", "B", 40)
	if n := len(results); n > 0 {
		_ = f.SetCellStyle(resultsSheet, "B2", fmt.Sprintf("B%d", n+1), wrap)
	}

	idx, _ := f.GetSheetIndex(resultsSheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any, headerStyle int) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}
	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile picks the format from the file extension: .xlsx writes a
// workbook, anything else JSON.
func WriteFile(path string, report *models.BatchReport) error {
	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		b, err := XLSX(report)
		if err != nil {
			return err
		}
		data = b
	default:
		var buf bytes.Buffer
		if err := WriteJSON(&buf, report); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cellText(s string) string {
	if len(s) <= maxCellLength {
		return s
	}
	cut := maxCellLength
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
