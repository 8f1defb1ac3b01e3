package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/gridscope/elexon-pipeline/internal/model"
	"github.com/gridscope/elexon-pipeline/internal/store"
	"github.com/gridscope/elexon-pipeline/internal/window"
)

var exportHeader = []string{
	"psr_type", "start_time", "settlement_date", "settlement_period",
	"quantity", "quantity_missing", "business_type", "publish_time",
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored records to CSV or XLSX",
	Long:  "Writes stored generation records, optionally filtered by technology and date range, to a CSV or XLSX file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		out, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")

		filter, err := exportFilter(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		records, err := st.QueryRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "export query")
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records match the filter.")
			return nil
		}

		switch format {
		case "csv":
			err = exportCSV(out, records)
		case "xlsx":
			err = exportXLSX(out, records)
		default:
			return eris.Errorf("unsupported format %q (csv or xlsx)", format)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Wrote %d records to %s\n", len(records), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output file path (required)")
	exportCmd.Flags().String("format", "csv", "output format: csv or xlsx")
	exportCmd.Flags().String("psr-type", "", `filter by technology (e.g. "Wind Offshore")`)
	exportCmd.Flags().String("from", "", "inclusive start date, YYYY-MM-DD")
	exportCmd.Flags().String("to", "", "exclusive end date, YYYY-MM-DD")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}

// exportFilter builds the record filter from command flags.
func exportFilter(cmd *cobra.Command) (store.Filter, error) {
	var filter store.Filter
	filter.PSRType, _ = cmd.Flags().GetString("psr-type")

	if raw, _ := cmd.Flags().GetString("from"); raw != "" {
		t, err := window.ParseDate(raw)
		if err != nil {
			return store.Filter{}, eris.Wrap(err, "parse --from")
		}
		filter.From = t
	}
	if raw, _ := cmd.Flags().GetString("to"); raw != "" {
		t, err := window.ParseDate(raw)
		if err != nil {
			return store.Filter{}, eris.Wrap(err, "parse --to")
		}
		filter.To = t
	}
	return filter, nil
}

// recordCells renders one record as export column values.
func recordCells(r model.GenerationRecord) []string {
	publish := ""
	if !r.PublishTime.IsZero() {
		publish = r.PublishTime.UTC().Format(time.RFC3339)
	}
	return []string{
		r.PSRType,
		r.StartTime.UTC().Format(time.RFC3339),
		r.SettlementDate,
		strconv.Itoa(r.SettlementPeriod),
		strconv.FormatFloat(r.Quantity, 'f', -1, 64),
		strconv.FormatBool(r.QuantityMissing),
		r.BusinessType,
		publish,
	}
}

// exportCSV writes records to path as CSV with a header row.
func exportCSV(path string, records []model.GenerationRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, r := range records {
		if err := w.Write(recordCells(r)); err != nil {
			return eris.Wrap(err, "export: write record")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return eris.Wrap(f.Close(), "export: close csv")
}

// exportXLSX writes records to path as a single-sheet workbook.
func exportXLSX(path string, records []model.GenerationRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("generation")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range exportHeader {
		header.AddCell().SetString(h)
	}

	for _, r := range records {
		row := sheet.AddRow()
		row.AddCell().SetString(r.PSRType)
		row.AddCell().SetString(r.StartTime.UTC().Format(time.RFC3339))
		row.AddCell().SetString(r.SettlementDate)
		row.AddCell().SetInt(r.SettlementPeriod)
		row.AddCell().SetFloat(r.Quantity)
		row.AddCell().SetBool(r.QuantityMissing)
		row.AddCell().SetString(r.BusinessType)
		publish := ""
		if !r.PublishTime.IsZero() {
			publish = r.PublishTime.UTC().Format(time.RFC3339)
		}
		row.AddCell().SetString(publish)
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}
