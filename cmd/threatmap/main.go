package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"threatmap/internal/server"
	"threatmap/internal/telemetry"
	"threatmap/internal/threat"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:          "threatmap",
		Short:        "Serve a live map of threat indicators with automatic feed fallback",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	return cmd
}

func run(ctx context.Context, cfg *server.Config) error {
	logger := cfg.Log.NewLogger(os.Stderr)

	shutdownTracing, err := telemetry.Init(ctx, "threatmap", version, cfg.OTel.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown", "err", err)
		}
	}()

	client := threat.DefaultHTTPClient(cfg.FetchTimeout)
	pipeline := threat.NewPipeline(threat.PipelineConfig{
		Primary:        threat.NewPrimaryFeed(cfg.Primary.URL, client),
		Secondary:      threat.NewSecondaryFeed(cfg.Secondary.URL, client, threat.WithSeverityWeights(cfg.Secondary.Weights)),
		SyntheticCount: cfg.Synthetic.Count,
		Logger:         logger,
	})
	sched := threat.NewScheduler(pipeline, threat.DefaultRefreshInterval, logger)
	srv := server.New(pipeline, sched, cfg, logger)

	metricsSrv := srv.StartMetrics(cfg.MetricsAddr)
	go srv.Run(ctx)

	errCh := make(chan error, 2)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if cfg.GRPCAddr != "" {
		go func() {
			logger.Info("grpc listening", "addr", cfg.GRPCAddr)
			if err := srv.StartGRPC(cfg.GRPCAddr); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server error", "err", runErr)
	}

	sched.Stop()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	if err := metricsSrv.Shutdown(sctx); err != nil {
		logger.Warn("metrics shutdown", "err", err)
	}
	srv.Stop()
	return runErr
}
