package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vaultscope/internal/api"
	"vaultscope/internal/chain"
	"vaultscope/internal/config"
	"vaultscope/internal/indexer"
	"vaultscope/internal/oracle"
	"vaultscope/internal/recompute"
	"vaultscope/internal/storage"
	"vaultscope/internal/storage/memory"
	"vaultscope/internal/storage/postgres"
	"vaultscope/internal/valuation"
)

func main() {
	root := &cobra.Command{
		Use:          "vaultscope",
		Short:        "On-chain vault TVL tracker",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("rpc", "", "chain RPC URL")
	root.PersistentFlags().String("package", "", "vault package id")
	root.PersistentFlags().String("module", "vault", "vault module name")
	root.PersistentFlags().String("pg-dsn", "", "Postgres DSN (empty uses in-memory storage)")
	root.PersistentFlags().String("oracle-url", "https://coins.llama.fi", "price oracle base URL")
	root.PersistentFlags().String("oracle-apikey", "", "price oracle API key")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the indexer, recompute workers, and HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Int("batch-size", 50, "events per poll")
	serveCmd.Flags().String("poll-cron", "0 * * * * *", "event poll schedule (with seconds)")
	serveCmd.Flags().String("sync-cron", "0 0 * * * *", "full resync schedule (with seconds)")
	serveCmd.Flags().Int("workers", 4, "recompute worker count")
	serveCmd.Flags().Int("max-attempts", 3, "recompute attempts per vault")
	serveCmd.Flags().Duration("retry-backoff", 2*time.Second, "initial recompute retry backoff")
	root.AddCommand(serveCmd)

	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Apply one batch of pending events and exit",
		RunE:  runPoll,
	}
	pollCmd.Flags().Int("batch-size", 50, "events per poll")
	root.AddCommand(pollCmd)

	syncCmd := &cobra.Command{
		Use:   "sync [vault-id]",
		Short: "Recompute TVL for one vault, or --all active vaults",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSync,
	}
	syncCmd.Flags().Bool("all", false, "recompute every active vault")
	syncCmd.Flags().Int("workers", 4, "recompute worker count")
	root.AddCommand(syncCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired layers every command shares.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	chain  *chain.Client
	store  storage.Store
	engine *valuation.Engine
}

func buildApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			chainClient.Close()
			logger.Sync()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
	} else {
		logger.Warn("no pg-dsn configured, using in-memory storage")
		store = memory.NewStore()
	}

	prices := oracle.NewClient(cfg.OracleURL, cfg.OracleAPIKey, logger)
	registry := valuation.NewRegistry(
		valuation.NewCoinStrategy(chainClient, prices, logger),
		valuation.NewClmmPositionStrategy(chainClient, prices, logger),
	)
	engine := valuation.NewEngine(chainClient, registry, logger)

	return &app{cfg: cfg, logger: logger, chain: chainClient, store: store, engine: engine}, nil
}

func (a *app) close() {
	a.store.Close()
	a.chain.Close()
	a.logger.Sync()
}

func (a *app) newQueue(ctx context.Context) *recompute.Queue {
	return recompute.NewQueue(ctx, recompute.Config{
		Workers:        a.cfg.Workers,
		MaxAttempts:    a.cfg.MaxAttempts,
		RetryBaseDelay: a.cfg.RetryBackoff,
	}, a.store, a.engine, a.logger)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	queue := a.newQueue(ctx)
	defer queue.Close()

	ix := indexer.New(indexer.Config{
		PackageID: a.cfg.PackageID,
		Module:    a.cfg.Module,
		BatchSize: a.cfg.BatchSize,
	}, a.chain, a.store, queue, a.logger)

	if err := ix.Bootstrap(ctx); err != nil {
		return err
	}

	a.logger.Info("vaultscope start",
		zap.String("rpc", a.cfg.RPCURL),
		zap.String("package", a.cfg.PackageID),
		zap.String("module", a.cfg.Module),
		zap.String("listen", a.cfg.ListenAddr),
		zap.Int("batch_size", a.cfg.BatchSize),
		zap.Int("workers", a.cfg.Workers),
	)

	// Seed stored TVLs before the first poll tick.
	if queued, err := queue.SyncAllActive(ctx); err != nil {
		a.logger.Warn("initial sync failed", zap.Error(err))
	} else if queued > 0 {
		a.logger.Info("initial sync queued", zap.Int("vaults", queued))
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(a.logger))
	scheduler := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger)))
	if _, err := scheduler.AddFunc(a.cfg.PollCron, func() {
		pctx, cancel := context.WithTimeout(ctx, 45*time.Second)
		defer cancel()
		if err := ix.PollOnce(pctx); err != nil {
			var transient *indexer.TransientError
			if errors.As(err, &transient) {
				a.logger.Warn("poll skipped", zap.Error(err))
				return
			}
			a.logger.Error("poll failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	if _, err := scheduler.AddFunc(a.cfg.SyncCron, func() {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := queue.SyncAllActive(sctx); err != nil {
			a.logger.Error("scheduled sync failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	server := api.NewServer(a.store, a.engine, queue, a.logger).NewHTTPServer(a.cfg.ListenAddr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runPoll(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	queue := a.newQueue(ctx)
	defer queue.Close()

	ix := indexer.New(indexer.Config{
		PackageID: a.cfg.PackageID,
		Module:    a.cfg.Module,
		BatchSize: a.cfg.BatchSize,
	}, a.chain, a.store, queue, a.logger)

	if err := ix.Bootstrap(ctx); err != nil {
		return err
	}
	return ix.PollOnce(ctx)
}

func runSync(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) == 1) {
		return fmt.Errorf("pass exactly one vault id or --all")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	queue := a.newQueue(ctx)
	defer queue.Close()

	if all {
		queued, err := queue.SyncAllActive(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("sync queued", zap.Int("vaults", queued))
		return nil
	}

	queue.Request(args[0])
	a.logger.Info("sync queued", zap.String("vault", args[0]))
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
