// Package report exports explained predictions as XLSX workbooks, CSV
// attribution tables and JSON documents.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"ev-insight/internal/artifact"
	"ev-insight/internal/ml"
)

// Sheet names of the exported workbook.
const (
	SheetSummary     = "Prediction"
	SheetAttribution = "Attributions"
	SheetImportance  = "Global Importance"
	SheetSensitivity = "Sensitivity"
)

// Report is one explained prediction. Sensitivity is optional.
type Report struct {
	Result      *ml.Result            `json:"result"`
	Inputs      map[string]float64    `json:"inputs"`
	Features    []artifact.Feature    `json:"features,omitempty"`
	Sensitivity *ml.SensitivityReport `json:"sensitivity,omitempty"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// Reporter writes a Report in every supported format.
type Reporter struct {
	report     Report
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(r Report, outputPath string) *Reporter {
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}
	return &Reporter{
		report:     r,
		outputPath: outputPath,
	}
}

// GenerateReport writes the workbook, CSV and JSON into the output directory.
func (r *Reporter) GenerateReport() error {
	if r.report.Result == nil {
		return fmt.Errorf("report has no prediction")
	}
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	base := "prediction_" + r.report.Result.ID
	if err := r.WriteXLSX(filepath.Join(r.outputPath, base+".xlsx")); err != nil {
		return err
	}
	if err := r.writeCSV(filepath.Join(r.outputPath, base+".csv")); err != nil {
		return err
	}
	if err := r.writeJSON(filepath.Join(r.outputPath, base+".json")); err != nil {
		return err
	}

	log.Info().Str("dir", r.outputPath).Str("request_id", r.report.Result.ID).Msg("Prediction report written")
	return nil
}

// WriteXLSX saves the workbook to path.
func (r *Reporter) WriteXLSX(path string) error {
	f, err := r.Workbook()
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

// Workbook builds the XLSX document in memory.
func (r *Reporter) Workbook() (*excelize.File, error) {
	res := r.report.Result
	if res == nil {
		return nil, fmt.Errorf("report has no prediction")
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, err
	}

	w := sheetWriter{f: f}
	w.summary(r.report)
	w.attributions(res, r.report.Inputs)
	w.importance(res)
	if r.report.Sensitivity != nil {
		w.sensitivity(r.report.Sensitivity)
	}
	if w.err != nil {
		f.Close()
		return nil, fmt.Errorf("build workbook: %w", w.err)
	}
	return f, nil
}

// sheetWriter keeps the first error of a run of cell writes.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) set(sheet string, col, row int, value any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(sheet, cell, value)
}

func (w *sheetWriter) header(sheet string, width float64, titles ...string) {
	if w.err != nil {
		return
	}
	if sheet != SheetSummary {
		if _, err := w.f.NewSheet(sheet); err != nil {
			w.err = err
			return
		}
	}
	for i, title := range titles {
		w.set(sheet, i+1, 1, title)
	}
	last, _ := excelize.ColumnNumberToName(len(titles))
	if w.err == nil {
		w.err = w.f.SetColWidth(sheet, "A", last, width)
	}
}

func (w *sheetWriter) summary(r Report) {
	res := r.Result
	w.header(SheetSummary, 24, "Field", "Value")
	rows := [][2]any{
		{"Request ID", res.ID},
		{"Model version", res.ModelVersion},
		{"Prediction", res.Prediction},
		{"Baseline", res.Baseline},
		{"Sum of attributions", sumAttributions(res)},
		{"Out of range", len(res.OutOfRange)},
		{"Generated at", r.GeneratedAt.Format(time.RFC3339)},
	}
	for i, row := range rows {
		w.set(SheetSummary, 1, i+2, row[0])
		w.set(SheetSummary, 2, i+2, row[1])
	}
}

func (w *sheetWriter) attributions(res *ml.Result, inputs map[string]float64) {
	w.header(SheetAttribution, 22, "Rank", "Feature", "Input", "Attribution", "Share (%)")
	shares := Shares(res)
	for i, a := range res.Attributions {
		row := i + 2
		w.set(SheetAttribution, 1, row, i+1)
		w.set(SheetAttribution, 2, row, a.Name)
		if v, ok := inputs[a.Name]; ok {
			w.set(SheetAttribution, 3, row, v)
		}
		w.set(SheetAttribution, 4, row, a.Value)
		w.set(SheetAttribution, 5, row, math.Round(shares[i]*1000)/10)
	}
}

func (w *sheetWriter) importance(res *ml.Result) {
	w.header(SheetImportance, 22, "Rank", "Feature", "Importance")
	for i, g := range res.GlobalImportance {
		w.set(SheetImportance, 1, i+2, i+1)
		w.set(SheetImportance, 2, i+2, g.Name)
		w.set(SheetImportance, 3, i+2, g.Value)
	}
}

func (w *sheetWriter) sensitivity(s *ml.SensitivityReport) {
	w.header(SheetSensitivity, 18, "Feature", "Delta", "Up", "Down", "Swing")
	for i, e := range s.Entries {
		row := i + 2
		w.set(SheetSensitivity, 1, row, e.Feature)
		w.set(SheetSensitivity, 2, row, e.Delta)
		w.set(SheetSensitivity, 3, row, e.Up)
		w.set(SheetSensitivity, 4, row, e.Down)
		w.set(SheetSensitivity, 5, row, e.Swing())
	}
}

func (r *Reporter) writeCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create attribution csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	res := r.report.Result
	shares := Shares(res)

	if err := writer.Write([]string{"rank", "feature", "input", "attribution", "share"}); err != nil {
		return err
	}
	for i, a := range res.Attributions {
		input := ""
		if v, ok := r.report.Inputs[a.Name]; ok {
			input = strconv.FormatFloat(v, 'g', -1, 64)
		}
		record := []string{
			strconv.Itoa(i + 1),
			a.Name,
			input,
			strconv.FormatFloat(a.Value, 'g', -1, 64),
			strconv.FormatFloat(shares[i], 'f', 6, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (r *Reporter) writeJSON(path string) error {
	data, err := json.MarshalIndent(r.report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// PrintSummary writes the ranked attribution table as plain text.
func (r *Reporter) PrintSummary(out io.Writer) {
	res := r.report.Result
	if res == nil {
		return
	}
	fmt.Fprintf(out, "Model %s  request %s\n", res.ModelVersion, res.ID)
	fmt.Fprintf(out, "Prediction: %.2f  (baseline %.2f)\n\n", res.Prediction, res.Baseline)
	fmt.Fprintf(out, "%-4s %-26s %14s %14s %8s\n", "#", "Feature", "Input", "Attribution", "Share")

	shares := Shares(res)
	for i, a := range res.Attributions {
		fmt.Fprintf(out, "%-4d %-26s %14.6g %+14.4f %7.1f%%\n",
			i+1, a.Name, r.report.Inputs[a.Name], a.Value, shares[i]*100)
	}
	for _, name := range res.OutOfRange {
		fmt.Fprintf(out, "warning: %s is outside the training range\n", name)
	}

	if s := r.report.Sensitivity; s != nil && len(s.Entries) > 0 {
		fmt.Fprintf(out, "\nSensitivity (%d steps)\n", s.Steps)
		fmt.Fprintf(out, "%-26s %14s %12s %12s\n", "Feature", "Delta", "Up", "Down")
		for _, e := range s.Entries {
			fmt.Fprintf(out, "%-26s %14.6g %+12.4f %+12.4f\n", e.Feature, e.Delta, e.Up, e.Down)
		}
	}
}

// Shares is each attribution's fraction of Σ|φ|, in the result's order. All
// shares are zero when every attribution is zero.
func Shares(res *ml.Result) []float64 {
	out := make([]float64, len(res.Attributions))
	var total float64
	for _, a := range res.Attributions {
		total += math.Abs(a.Value)
	}
	if total == 0 {
		return out
	}
	for i, a := range res.Attributions {
		out[i] = math.Abs(a.Value) / total
	}
	return out
}

func sumAttributions(res *ml.Result) float64 {
	var sum float64
	for _, a := range res.Attributions {
		sum += a.Value
	}
	return sum
}
