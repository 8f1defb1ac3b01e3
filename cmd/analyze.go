package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gridscope/elexon-pipeline/internal/store"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Show per-technology generation statistics",
	Long:  "Aggregates the stored records per technology: record and gap counts, total, mean, and peak output, and when the peak occurred.",
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

		summaries, err := st.Summaries(ctx)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}
		if len(summaries) == 0 {
			fmt.Fprintln(os.Stderr, "No data to analyze.")
			return nil
		}

		formatSummaries(os.Stdout, summaries)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

// formatSummaries writes the per-technology statistics table.
func formatSummaries(out io.Writer, summaries []store.TechSummary) {
	p := message.NewPrinter(language.BritishEnglish)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TECHNOLOGY\tRECORDS\tMISSING\tMEAN_MW\tPEAK_MW\tPEAK_AT\tTOTAL_MW")
	_, _ = fmt.Fprintln(w, "----------\t-------\t-------\t-------\t-------\t-------\t--------")

	for _, s := range summaries {
		peakAt := "-"
		if s.PeakTime != nil {
			peakAt = s.PeakTime.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%.1f\t%s\t%s\n",
			s.PSRType,
			p.Sprintf("%d", s.Records),
			s.Missing,
			s.MeanQuantity,
			s.MaxQuantity,
			peakAt,
			p.Sprintf("%.1f", s.TotalQuantity),
		)
	}
	_ = w.Flush()
}
