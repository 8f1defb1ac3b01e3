package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gridscope/elexon-pipeline/internal/model"
)

var importsCmd = &cobra.Command{
	Use:   "imports",
	Short: "Inspect import run history",
	Long:  "Commands for listing and viewing logged import runs.",
}

// -- imports list --

var importsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List import runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListImports(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "imports list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No imports recorded.")
			return nil
		}

		formatImports(os.Stdout, runs)
		return nil
	},
}

// -- imports show --

var importsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of an import run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetImport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "imports show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	importsListCmd.Flags().Int("limit", 20, "max number of runs to display")

	importsCmd.AddCommand(importsListCmd)
	importsCmd.AddCommand(importsShowCmd)
	rootCmd.AddCommand(importsCmd)
}

// formatImports writes a tabular list of import runs to out.
func formatImports(out io.Writer, runs []model.ImportRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tRANGE\tSTATUS\tWINDOWS\tOK\tFAIL\tSKIP\tRECORDS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "---\t-----\t------\t-------\t--\t----\t----\t-------\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.RunID),
			model.Window{Start: r.RangeStart, End: r.RangeEnd},
			r.Status,
			r.TotalWindows,
			r.Succeeded,
			r.Failed,
			r.Skipped,
			r.RecordsTotal,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
