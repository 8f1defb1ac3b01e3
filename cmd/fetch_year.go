package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var fetchYearCmd = &cobra.Command{
	Use:   "fetch-year <year>",
	Short: "Import generation actuals for a calendar year",
	Long:  "Import wind and solar generation actuals for one calendar year, January 1 through December 31 inclusive.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		year, err := strconv.Atoi(args[0])
		if err != nil {
			return eris.Errorf("invalid year %q", args[0])
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		imp := newImporter(st, dryRun, printProgress(os.Stderr))
		summary, err := imp.RunYear(ctx, year)
		if summary != nil {
			formatSummary(os.Stdout, summary)
		}
		if err != nil {
			return eris.Wrap(err, "fetch year")
		}
		return nil
	},
}

func init() {
	fetchYearCmd.Flags().Bool("dry-run", false, "fetch and count records without writing")
	rootCmd.AddCommand(fetchYearCmd)
}
