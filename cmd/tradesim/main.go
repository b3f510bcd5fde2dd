package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gregtusar/tradesim/api"
	"github.com/gregtusar/tradesim/internal/config"
	"github.com/gregtusar/tradesim/pkg/clock"
	"github.com/gregtusar/tradesim/pkg/events"
	"github.com/gregtusar/tradesim/pkg/trader"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "tradesim",
		Short: "Simulated binary options trading engine",
		Long:  `Runs a synthetic price feed and an in-memory account that settles timed up/down trades, served over HTTP and WebSocket`,
		RunE:  runServe,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the trading session and API server",
			RunE:  runServe,
		},
		newSimulateCmd(),
		newTradeCmd(),
		newWatchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig returns the config and a logger built from it. The returned
// func releases the log file, if any.
func loadConfig() (*config.Config, *logrus.Logger, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closeLog, nil
}

func newLogger(cfg config.LoggingConfig) (*logrus.Logger, func(), error) {
	logger := logrus.New()

	if strings.ToLower(cfg.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File == "" {
		return logger, func() {}, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))

	closeLog := func() {
		logger.SetOutput(os.Stderr)
		if err := f.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close log file")
		}
	}
	return logger, closeLog, nil
}

func sessionConfig(cfg *config.Config) trader.Config {
	return trader.Config{
		Balance:             cfg.Trading.BalanceDecimal(),
		DefaultStake:        cfg.Trading.DefaultStakeDecimal(),
		ProfitRatePercent:   cfg.Trading.ProfitRateDecimal(),
		Assets:              cfg.Trading.AssetCatalog(),
		ExpirationChoices:   cfg.Trading.ExpirationChoices,
		HistoryPoints:       cfg.Price.HistoryPoints,
		WindowSize:          cfg.Price.WindowSize,
		TickInterval:        cfg.Price.TickInterval,
		SweepInterval:       cfg.Ledger.SweepInterval,
		CelebrationDuration: cfg.Session.CelebrationDuration,
		Seed:                cfg.Price.Seed,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.New(logger)
	session, err := trader.NewSession(sessionConfig(cfg), clock.Real(), bus, logger)
	if err != nil {
		return err
	}

	server, err := api.NewServer(session, bus, logger, api.Options{
		Port:           cfg.Server.Port,
		TradeRateLimit: cfg.Server.TradeRateLimit,
		TradeBurst:     cfg.Server.TradeBurst,
	})
	if err != nil {
		return err
	}

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	logger.Info("Trading simulator is running. Press Ctrl+C to stop.")

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("API server stopped with error")
		return err
	}

	logger.Info("Trading simulator stopped")
	return nil
}
