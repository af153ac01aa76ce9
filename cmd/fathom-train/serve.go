package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/seantiz/fathom-train/internal/api"
	"github.com/seantiz/fathom-train/internal/config"
	"github.com/seantiz/fathom-train/internal/store"
)

func newServeCmd(g *globalFlags, stderr io.Writer) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *g)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			if cfg.DBPath == "" {
				return &config.ParameterError{Param: "--db", Reason: "a run history database is required"}
			}
			logger := config.NewLogger(stderr, cfg.LogLevel)

			logger.Info("fathom-train: starting",
				"listen_addr", cfg.ListenAddr,
				"db_path", cfg.DBPath,
			)

			db, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			return api.NewServer(cfg.ListenAddr, db, logger).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default :8080)")
	return cmd
}
