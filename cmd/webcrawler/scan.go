package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

// errScanFailed marks a scan whose payload was already printed.
var errScanFailed = errors.New("scan failed")

type scanOptions struct {
	task        string
	sites       []string
	seeds       []string
	maxVisits   int
	queueLimit  int
	errorLimit  int
	skipLimit   int
	followLinks bool
}

func newScanCmd(state *rootState) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and print its payload as JSON",
		Long: `Runs a single scan in the foreground. The task is one of links,
backlogs, indexes, frontpages or sitemaps. Without --site every configured
site is scanned; links scans need --site or --seed.`,
		Example: `  webcrawler scan --task frontpages --site example.com
  webcrawler scan --task links --seed https://example.com/news/ --max-visits 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, state.cfg, state.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
					state.logger.Warn("close application", zap.Error(cerr))
				}
			}()

			payload, scanErr := app.Scan(ctx, req)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(payload); err != nil {
				return fmt.Errorf("write payload: %w", err)
			}
			if scanErr != nil {
				state.logger.Error("scan failed", zap.Error(scanErr))
				return errScanFailed
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.task, "task", string(scan.TaskFrontpages), "scan task")
	flags.StringSliceVar(&opts.sites, "site", nil, "site hostname to scan (repeatable)")
	flags.StringSliceVar(&opts.seeds, "seed", nil, "seed URL for links scans (repeatable)")
	flags.IntVar(&opts.maxVisits, "max-visits", 0, "override crawl.max_visits")
	flags.IntVar(&opts.queueLimit, "queue-limit", 0, "override crawl.queue_limit")
	flags.IntVar(&opts.errorLimit, "error-limit", 0, "override crawl.error_limit")
	flags.IntVar(&opts.skipLimit, "skip-limit", 0, "override crawl.skip_limit")
	flags.BoolVar(&opts.followLinks, "follow-links", false, "override the task's link following")
	return cmd
}

// request builds the scan request. Only flags set on the command line
// become overrides.
func (o *scanOptions) request(cmd *cobra.Command) (scan.Request, error) {
	task, err := scan.ParseTask(o.task)
	if err != nil {
		return scan.Request{}, err
	}
	var overrides crawl.Overrides
	for name, dst := range map[string]**int{
		"max-visits":  &overrides.MaxVisits,
		"queue-limit": &overrides.QueueLimit,
		"error-limit": &overrides.ErrorLimit,
		"skip-limit":  &overrides.SkipLimit,
	} {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, _ := cmd.Flags().GetInt(name)
		if v < 0 {
			return scan.Request{}, fmt.Errorf("--%s must be >= 0", name)
		}
		*dst = &v
	}
	if cmd.Flags().Changed("follow-links") {
		follow := o.followLinks
		overrides.FollowLinks = &follow
	}
	return scan.Request{
		Task:   task,
		Sites:  o.sites,
		Seeds:  o.seeds,
		Params: overrides,
	}, nil
}
