package validate

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// Stage names, in execution order. Every issue is tagged with the stage
// that produced it.
const (
	StageSchema      = "schema"
	StageBusiness    = "business_rules"
	StageReferential = "referential"
	StageUnits       = "units"
	StageMissing     = "missing_data"
)

// Severity of an issue. Errors make a row invalid; warnings do not.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one validation finding on one staged row.
type Issue struct {
	BatchID   string `json:"batch_id"`
	RowNumber int    `json:"row"`
	Stage     string `json:"stage"`
	Field     string `json:"field"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RawValue  string `json:"raw_value"`
	Severity  string `json:"severity"`
}

// Report is the outcome of validating one batch.
type Report struct {
	BatchID     string
	TargetTable string
	IsValid     bool
	TotalRows   int
	ValidRows   int
	InvalidRows int
	Errors      []Issue
	Warnings    []Issue
	// RowVerdicts maps source row number to valid/invalid.
	RowVerdicts map[int]string
	// ErrorCSV is a downloadable blob of all issues.
	ErrorCSV string
}

// buildErrorCSV renders the issue taxonomy as CSV, errors first.
func buildErrorCSV(issues []Issue) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"batch_id", "row", "stage", "field", "code", "severity", "message", "raw_value"}); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, is := range issues {
		rec := []string{is.BatchID, strconv.Itoa(is.RowNumber), is.Stage, is.Field, is.Code, is.Severity, is.Message, is.RawValue}
		if err := w.Write(rec); err != nil {
			return "", fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.String(), nil
}
