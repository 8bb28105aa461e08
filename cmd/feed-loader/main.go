package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"threatmap/internal/server"
	"threatmap/internal/threat"
)

type options struct {
	primaryURL   string
	secondaryURL string
	count        int
	timeout      time.Duration
	logLevel     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "feed-loader",
		Short:        "Run one acquisition cycle and print the snapshot as JSON",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return load(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.primaryURL, "primary-url", threat.DefaultPrimaryURL, "primary JSON feed URL")
	cmd.Flags().StringVar(&opts.secondaryURL, "secondary-url", threat.DefaultSecondaryURL, "secondary reputation list URL")
	cmd.Flags().IntVar(&opts.count, "count", threat.DefaultSyntheticCount, "records to synthesize when both feeds fail")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request fetch timeout")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func load(ctx context.Context, opts options, out io.Writer) error {
	if opts.count <= 0 {
		return fmt.Errorf("--count must be positive, got %d", opts.count)
	}
	logger := server.LogConfig{Level: opts.logLevel, Format: "text"}.NewLogger(os.Stderr)

	client := threat.DefaultHTTPClient(opts.timeout)
	pipeline := threat.NewPipeline(threat.PipelineConfig{
		Primary:        threat.NewPrimaryFeed(opts.primaryURL, client),
		Secondary:      threat.NewSecondaryFeed(opts.secondaryURL, client),
		SyntheticCount: opts.count,
		Logger:         logger,
	})

	snap := pipeline.Refresh(ctx)
	logger.Info("stored snapshot", "origin", snap.Origin(), "count", snap.Len())

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
