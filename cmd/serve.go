package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridscope/elexon-pipeline/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query and import-trigger API",
	Long: `Starts the HTTP API: GET /health, GET /api/generation, GET /api/status,
GET /api/imports, GET /api/imports/{id}, and POST /api/imports to trigger an
import. Shuts down gracefully on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Server.Port
		}

		imp := newImporter(st, false, nil)
		srv := server.New(st, imp, port)

		zap.L().Info("serving API", zap.Int("port", port), zap.String("driver", cfg.Store.Driver))
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
