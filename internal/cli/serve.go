package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"foodledger/internal/app"
	"foodledger/internal/intake"
	"foodledger/internal/observability"
	transporthttp "foodledger/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, metrics, periodic snapshots and optional Kafka intake",
		Long: `Recover the ledger from the latest snapshot and changelog, then serve it.

Endpoints:
  GET  /health  /metrics  /owner  /balance  /foods  /foods/{id}
  POST /foods  /foods/{id}/buy  /foods/{id}/restock  /owner/transfer
  PUT  /foods/{id}/price

Mutating requests name their caller in the X-Caller header.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint: cfg.Tracing.Endpoint,
		URLPath:  cfg.Tracing.URLPath,
		Insecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("tracing disabled", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start ledger", err)
	}
	defer a.Close()
	logger.Info("ledger ready",
		zap.String("store", cfg.Store.Backend),
		zap.Stringer("owner", a.Ledger.Owner()),
		zap.Int64("last_seq", a.Ledger.LastSeq()),
		zap.Int("replayed", a.Recovery.Applied))

	errc := make(chan error, 2)
	if cfg.Snapshot.IntervalSec > 0 {
		go a.RunSnapshots(ctx, time.Duration(cfg.Snapshot.IntervalSec)*time.Second)
	}
	if cfg.Intake.Enabled {
		c, err := intake.NewConsumer(intake.Config{
			Bootstrap:    cfg.Kafka.Bootstrap,
			GroupID:      cfg.Intake.GroupID,
			Topic:        cfg.Intake.Topic,
			ResultsTopic: cfg.Intake.ResultsTopic,
			Poll:         time.Duration(cfg.Intake.PollMs) * time.Millisecond,
		}, a.Ledger, a.Metrics, logger.Named("intake"))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start intake", err)
		}
		defer c.Close()
		go func() { errc <- c.Run(ctx) }()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           transporthttp.NewRouter(a.Ledger, a.Metrics.Handler(), logger.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		if err != nil {
			logger.Error("component failed, shutting down", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	if _, serr := a.Snapshot(shutdownCtx); serr != nil {
		logger.Warn("final snapshot failed", zap.Error(serr))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "serve failed", err)
	}
	return nil
}
