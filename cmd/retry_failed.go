package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gridscope/elexon-pipeline/internal/model"
)

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Re-import the failed windows of a previous run",
	Long: `Re-import only the windows that failed in a previous import run.

Without --run, the most recent run that recorded failed windows is used.
Upserts are idempotent, so windows that did import are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runID, _ := cmd.Flags().GetString("run")
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

		var summary *model.ImportSummary
		if runID != "" {
			summary, err = imp.RetryRun(ctx, runID)
		} else {
			summary, err = imp.RetryFailed(ctx)
		}
		if summary == nil && err == nil {
			fmt.Fprintln(os.Stderr, "Nothing to retry.")
			return nil
		}
		if summary != nil {
			formatSummary(os.Stdout, summary)
		}
		if err != nil {
			return eris.Wrap(err, "retry failed")
		}
		return nil
	},
}

func init() {
	retryFailedCmd.Flags().String("run", "", "retry a specific run id instead of the latest failed run")
	retryFailedCmd.Flags().Bool("dry-run", false, "fetch and count records without writing")
	rootCmd.AddCommand(retryFailedCmd)
}
