package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gridscope/elexon-pipeline/internal/model"
	"github.com/gridscope/elexon-pipeline/internal/store"
)

// recentRows is how many of the newest records status prints.
const recentRows = 10

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dataset coverage and recent records",
	Long:  "Displays stored record counts, date coverage per the generation table, and the most recently dated records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		status, err := st.Status(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		formatStatus(os.Stdout, status)
		if status.TotalRecords == 0 {
			return nil
		}

		// Records are ordered oldest first, so the newest sit at the end.
		offset := int(status.TotalRecords) - recentRows
		if offset < 0 {
			offset = 0
		}
		recent, err := st.QueryRecords(ctx, store.Filter{Limit: recentRows, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "status recent records")
		}

		_, _ = fmt.Fprintln(os.Stdout)
		formatRecent(os.Stdout, recent)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// formatStatus writes the dataset overview to out.
func formatStatus(out io.Writer, st *store.Status) {
	p := message.NewPrinter(language.BritishEnglish)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Records:\t%s\n", p.Sprintf("%d", st.TotalRecords))
	if len(st.PSRTypes) > 0 {
		_, _ = fmt.Fprintf(w, "Technologies:\t%s\n", strings.Join(st.PSRTypes, ", "))
	}
	if st.EarliestStart != nil && st.LatestStart != nil {
		_, _ = fmt.Fprintf(w, "Coverage:\t%s to %s\n",
			st.EarliestStart.Format("2006-01-02 15:04"),
			st.LatestStart.Format("2006-01-02 15:04"))
	}
	if st.LatestPublish != nil {
		_, _ = fmt.Fprintf(w, "Last publish:\t%s\n", st.LatestPublish.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()

	if st.TotalRecords == 0 {
		_, _ = fmt.Fprintln(out, "Store is empty. Run 'elexon fetch-range' to import data.")
	}
}

// formatRecent writes the newest records as a table.
func formatRecent(out io.Writer, records []model.GenerationRecord) {
	if len(records) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "START\tTECHNOLOGY\tPERIOD\tMW")
	_, _ = fmt.Fprintln(w, "-----\t----------\t------\t--")
	for _, r := range records {
		qty := fmt.Sprintf("%.1f", r.Quantity)
		if r.QuantityMissing {
			qty = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			r.StartTime.Format("2006-01-02 15:04"), r.PSRType, r.SettlementPeriod, qty)
	}
	_ = w.Flush()
}
