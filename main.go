package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tournevent/courier/internal/lifecycle"
	"github.com/tournevent/courier/internal/server"
	"github.com/tournevent/courier/internal/telemetry"
	"github.com/tournevent/courier/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "courier",
	Short:   "Courier integration service - Delhivery and Blue Dart shipments with NDR handling",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the outbox relay",
	RunE:  runServe,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run only the outbox relay",
	RunE:  runRelay,
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect configured courier accounts",
}

var accountsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check every account's credentials with its courier",
	RunE:  runAccountsValidate,
}

var withoutRelay bool

func init() {
	serveCmd.Flags().BoolVar(&withoutRelay, "no-relay", false, "do not run the outbox relay in this process")
	accountsCmd.AddCommand(accountsValidateCmd)
	rootCmd.AddCommand(serveCmd, relayCmd, accountsCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(ctx)
	}
	metrics := telemetry.NewMetrics()

	dir, err := loadAccounts(cfg)
	if err != nil {
		return err
	}
	st, err := initStore(ctx, cfg)
	if err != nil {
		return err
	}
	registry := initCourierRegistry(cfg, logger)

	svc := lifecycle.New(st, registry, dir, logger,
		lifecycle.WithMetrics(metrics),
		lifecycle.WithTracer(tracer(cfg)),
	)
	ingestor := webhook.NewIngestor(registry, svc, cfg.WebhookSecrets, logger, metrics).WithTracer(tracer(cfg))

	logger.Info("Starting courier service",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.Strings("providers", registry.Providers()),
		zap.String("store", cfg.StoreBackend),
	)

	g, ctx := errgroup.WithContext(ctx)
	srv := server.New(server.Config{Port: cfg.Port}, svc, ingestor, logger)
	g.Go(func() error {
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if !withoutRelay {
		relay, err := initRelay(ctx, cfg, st, logger, metrics)
		if err != nil {
			return err
		}
		g.Go(func() error { return relay.Run(ctx) })
	}
	return g.Wait()
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := initStore(ctx, cfg)
	if err != nil {
		return err
	}
	relay, err := initRelay(ctx, cfg, st, logger, telemetry.NewMetrics())
	if err != nil {
		return err
	}
	logger.Info("Starting outbox relay", zap.String("publisher", cfg.OutboxPublisher))
	return relay.Run(ctx)
}

func runAccountsValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dir, err := loadAccounts(cfg)
	if err != nil {
		return err
	}
	registry := initCourierRegistry(cfg, logger)

	failed := 0
	out := cmd.OutOrStdout()
	for _, acct := range dir.Accounts() {
		adapter, err := registry.ResolveAccount(acct)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s (%s): %v\n", acct.ID, acct.Provider, err)
			continue
		}
		res := adapter.ValidateCredentials(ctx, acct.Credentials)
		if !res.Success {
			failed++
			fmt.Fprintf(out, "FAIL %s (%s): %s\n", acct.ID, acct.Provider, res.Message)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%s)\n", acct.ID, acct.Provider)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed validation", failed, len(dir.Accounts()))
	}
	return nil
}
