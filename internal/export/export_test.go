package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/Epistemic-Technology/vision-ocr/models"
)

func sampleReport() *models.BatchReport {
	r := models.NewBatchReport("batch-1")
	r.Record(models.UnitOutcome{UnitID: "b.png", Result: &models.ExtractionResult{Text: "second", Format: "text"}})
	r.Record(models.UnitOutcome{UnitID: "a.png", Result: &models.ExtractionResult{Text: "first", Format: "text"}})
	r.Record(models.UnitOutcome{UnitID: "c.pdf", Err: models.NewError(models.DecodeFailure, "expand pdf", "c.pdf", os.ErrNotExist)})
	return r
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var decoded models.BatchReport
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if decoded.Results["a.png"] != "first" {
		t.Errorf("Unexpected results: %v", decoded.Results)
	}
	if _, ok := decoded.Errors["c.pdf"]; !ok {
		t.Errorf("Expected error for c.pdf, got %v", decoded.Errors)
	}
	if decoded.Statistics.Total != 3 || decoded.Statistics.Failed != 1 {
		t.Errorf("Unexpected statistics: %+v", decoded.Statistics)
	}
}

func TestXLSX(t *testing.T) {
	data, err := XLSX(sampleReport())
	if err != nil {
		t.Fatalf("XLSX failed: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 3 || sheets[0] != resultsSheet {
		t.Fatalf("Unexpected sheets: %v", sheets)
	}

	rows, err := f.GetRows(resultsSheet)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header and 2 result rows, got %d", len(rows))
	}
	if rows[0][0] != "Input" || rows[1][0] != "a.png" || rows[2][1] != "second" {
		t.Errorf("Unexpected result rows: %v", rows)
	}

	errRows, _ := f.GetRows(errorsSheet)
	if len(errRows) != 2 || errRows[1][0] != "c.pdf" {
		t.Errorf("Unexpected error rows: %v", errRows)
	}

	total, _ := f.GetCellValue(summarySheet, "B3")
	if total != "3" {
		t.Errorf("Summary total = %q, want 3", total)
	}
}

func TestXLSXFormattedColumn(t *testing.T) {
	r := models.NewBatchReport("b")
	r.Record(models.UnitOutcome{UnitID: "x.png", Result: &models.ExtractionResult{Text: "{}", Format: "json", Formatted: true}})

	data, err := XLSX(r)
	if err != nil {
		t.Fatalf("XLSX failed: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, _ := f.GetCellValue(resultsSheet, "C1")
	if got != "Formatted" {
		t.Errorf("Expected Formatted header, got %q", got)
	}
	got, _ = f.GetCellValue(resultsSheet, "C2")
	if got != "TRUE" {
		t.Errorf("Expected TRUE, got %q", got)
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		magic string
	}{
		{"report.json", "{"},
		{"report.XLSX", "PK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := WriteFile(path, sampleReport()); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(string(data), tt.magic) {
				t.Errorf("Expected file to start with %q", tt.magic)
			}
		})
	}
}

func TestCellText(t *testing.T) {
	if got := cellText("short"); got != "short" {
		t.Errorf("cellText changed a short string: %q", got)
	}
	long := strings.Repeat("é", maxCellLength)
	got := cellText(long)
	if len(got) > maxCellLength {
		t.Errorf("cellText length %d exceeds %d", len(got), maxCellLength)
	}
	if !strings.HasPrefix(long, got) || len(got)%2 != 0 {
		t.Errorf("cellText split a multi-byte rune")
	}
}
