package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"clinkerplan/internal/ingest"
)

var ingestTarget string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.csv>",
	Short: "Stage a CSV file as a validation batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := readCSVRows(args[0])
		if err != nil {
			return err
		}

		p, closeFn, err := openPlanner()
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := p.Ingest(cmd.Context(), rows, ingestTarget, filepath.Base(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("batch %s staged: %d rows into %s\n", res.BatchID, res.RowsStaged, res.Target)
		for _, w := range res.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		return nil
	},
}

var validateCSVOut string

var validateCmd = &cobra.Command{
	Use:   "validate <batch-id>",
	Short: "Run the validation sweep on a staged batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPlanner()
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := p.Validate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("batch %s (%s): %d rows, %d valid, %d invalid\n",
			report.BatchID, report.TargetTable, report.TotalRows, report.ValidRows, report.InvalidRows)
		for _, is := range report.Errors {
			fmt.Printf("  row %d [%s/%s] %s: %s\n", is.RowNumber, is.Stage, is.Field, is.Code, is.Message)
		}
		for _, is := range report.Warnings {
			fmt.Printf("  row %d [%s/%s] warning %s: %s\n", is.RowNumber, is.Stage, is.Field, is.Code, is.Message)
		}
		if validateCSVOut != "" {
			if err := os.WriteFile(validateCSVOut, []byte(report.ErrorCSV), 0o644); err != nil {
				return fmt.Errorf("failed to write error csv: %w", err)
			}
			fmt.Printf("error csv written to %s\n", validateCSVOut)
		}
		if !report.IsValid {
			return fmt.Errorf("batch %s failed validation", report.BatchID)
		}
		return nil
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote <batch-id>",
	Short: "Promote a validated batch into its canonical table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPlanner()
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := p.Promote(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("batch %s promoted: %d rows into %s\n", res.BatchID, res.RowsPromoted, res.TargetTable)
		return nil
	},
}

var batchesLimit int

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List recent validation batches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPlanner()
		if err != nil {
			return err
		}
		defer closeFn()

		batches, err := p.ListBatches(cmd.Context(), batchesLimit)
		if err != nil {
			return err
		}
		for _, b := range batches {
			fmt.Printf("%s  %-28s %-10s %4d rows (%d invalid)  %s\n",
				b.CreatedAt.Format("2006-01-02 15:04"), b.TargetTable, b.Status,
				b.TotalRows, b.InvalidRows, b.BatchID)
		}
		return nil
	},
}

// readCSVRows reads a headed CSV file into raw ingestion rows. Values stay
// strings; typing happens during validation.
func readCSVRows(path string) ([]ingest.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s has no data rows", path)
	}

	header := records[0]
	rows := make([]ingest.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := ingest.Row{}
		for i, col := range header {
			if i < len(rec) && rec[i] != "" {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestTarget, "target", "t", "", "explicit target table (default: inferred from filename)")
	validateCmd.Flags().StringVar(&validateCSVOut, "error-csv", "", "write the error CSV blob to this path")
	batchesCmd.Flags().IntVarP(&batchesLimit, "limit", "n", 20, "maximum batches to list")
}
