package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/config"
	"github.com/JakeFAU/webcrawl-engine/internal/logging"
	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/server"
)

// application is what the subcommands need from the built service. A
// variable factory lets tests swap in a fake.
type application interface {
	Run(ctx context.Context) error
	Scan(ctx context.Context, req scan.Request) (scan.Payload, error)
	Close(ctx context.Context) error
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (application, error) {
	return server.Build(ctx, cfg, logger)
}

// rootState is filled by the persistent pre-run hook.
type rootState struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	state := &rootState{}
	cmd := &cobra.Command{
		Use:   "webcrawler",
		Short: "A polite crawler and scraper for configured news sites.",
		Long: `webcrawler crawls configured sites politely: it honours robots.txt,
spaces requests per site, and scrapes pages with per-site routines.
Scans run one-shot from the command line or are queued through the HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(state.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			state.cfg = cfg
			state.logger = logger
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&state.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(state))
	cmd.AddCommand(newScanCmd(state))
	return cmd
}

func execute() int {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errScanFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		return 1
	}
	return 0
}
