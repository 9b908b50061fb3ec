package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scan workers",
		Long: `Starts the HTTP API on server.port. Scans submitted with POST /v1/scans
are queued and run by dispatcher.workers workers. SIGINT or SIGTERM drains
the workers and shuts down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context(), state.cfg, state.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run application: %w", err)
			}
			return nil
		},
	}
}
