package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/bjaus/tabexport/config"
	"github.com/bjaus/tabexport/history"
	"github.com/bjaus/tabexport/internal/filehost"
	"github.com/bjaus/tabexport/pipeline"
	"github.com/bjaus/tabexport/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the export HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context, metricsOut io.Writer) error {
	cfg := a.cfg
	if cfg.Storage.DataFile == "" {
		return errors.New("storage.data_file is required to serve exports")
	}
	host, err := filehost.Open(cfg.Storage.DataFile)
	if err != nil {
		return err
	}
	signer, err := pipeline.NewSigner(cfg.Server.Secret)
	if err != nil {
		return err
	}
	if cfg.Server.Secret == "" {
		a.log.Warn("No server.secret configured; tokens will not survive a restart")
	}
	store, err := pipeline.NewTempStore(cfg.Storage.TempDir, a.log.WithField("component", "tempstore"))
	if err != nil {
		return err
	}
	hist, err := history.Open(cfg.Storage.HistoryDB)
	if err != nil {
		return err
	}
	defer hist.Close()

	meter, shutdown, err := newMeter(cfg.Metrics, metricsOut)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			a.log.WithError(err).Warn("Failed to flush metrics")
		}
	}()

	p, err := pipeline.New(pipeline.Config{
		Registry:    a.registry(),
		Settings:    cfg.Export,
		Host:        host,
		Authorizer:  pipeline.NonceAuthorizer{Signer: signer},
		Store:       store,
		Signer:      signer,
		DownloadTTL: cfg.Server.DownloadTTL,
		History:     hist,
		Meter:       meter,
		Memory:      cfg.MemoryGuard(),
		Logger:      a.log.WithField("component", "pipeline"),
	})
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		Pipeline: p,
		Signer:   signer,
		NonceTTL: cfg.Server.NonceTTL,
		APIKey:   cfg.Server.APIKey,
		History:  hist,
		Logger:   a.log.WithField("component", "server"),
	})
	if err != nil {
		return err
	}

	go store.Run(ctx, cfg.Storage.SweepInterval, cfg.Storage.TempTTL)
	return srv.Run(ctx, cfg.Server.Addr)
}

// newMeter returns the meter for export metrics and a function that flushes
// and stops the provider. The stdout exporter writes to out.
func newMeter(c config.MetricsConfig, out io.Writer) (metric.Meter, func(context.Context) error, error) {
	if c.Exporter != config.ExporterStdout {
		return noop.NewMeterProvider().Meter("tabexport"), func(context.Context) error { return nil }, nil
	}
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
	if err != nil {
		return nil, nil, fmt.Errorf("create metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(c.Interval))),
	)
	return provider.Meter("tabexport"), provider.Shutdown, nil
}
