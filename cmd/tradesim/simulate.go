package main

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gregtusar/tradesim/pkg/clock"
	"github.com/gregtusar/tradesim/pkg/events"
	"github.com/gregtusar/tradesim/pkg/models"
	"github.com/gregtusar/tradesim/pkg/trader"
)

type simulateOptions struct {
	duration   time.Duration
	trades     int
	stake      float64
	expiration int
	seed       int64
	csv        bool
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a headless session on virtual time and print the trade history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			sc := sessionConfig(cfg)
			if opts.seed != 0 {
				sc.Seed = opts.seed
			}
			if opts.stake > 0 {
				sc.DefaultStake = decimal.NewFromFloat(opts.stake)
			}
			if opts.expiration == 0 {
				opts.expiration = sc.ExpirationChoices[0]
			}

			return simulate(cmd.OutOrStdout(), sc, opts, logger)
		},
	}

	cmd.Flags().DurationVar(&opts.duration, "duration", 90*time.Second, "virtual time to simulate")
	cmd.Flags().IntVar(&opts.trades, "trades", 3, "number of trades to place, one per second from the start")
	cmd.Flags().Float64Var(&opts.stake, "stake", 0, "stake per trade (default trading.default_stake)")
	cmd.Flags().IntVar(&opts.expiration, "expiration", 0, "expiration in seconds (default first configured choice)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "price generator seed (default price.seed)")
	cmd.Flags().BoolVar(&opts.csv, "csv", false, "print CSV instead of a table")

	return cmd
}

// simulate drives a session second by second on a manual clock. Trades go
// in round-robin over the asset catalog with alternating direction.
func simulate(out io.Writer, sc trader.Config, opts simulateOptions, logger *logrus.Logger) error {
	clk := clock.NewManual(time.Now().UTC().Truncate(time.Second))
	session, err := trader.NewSession(sc, clk, events.New(logger), logger)
	if err != nil {
		return err
	}
	defer session.Stop()

	session.Initialize()

	assets := session.Assets()
	steps := int(opts.duration / time.Second)

	for i := 0; i <= steps; i++ {
		if i > 0 {
			clk.Advance(time.Second)
			session.Tick()
			session.Sweep()
		}

		if i >= opts.trades {
			continue
		}

		direction := models.DirectionUp
		if i%2 == 1 {
			direction = models.DirectionDown
		}
		_, err := session.PlaceTrade(trader.TradeRequest{
			AssetID:           assets[i%len(assets)].ID,
			Direction:         direction,
			Stake:             session.DefaultStake(),
			ExpirationSeconds: opts.expiration,
		})
		if err != nil {
			logger.WithError(err).WithField("trade", i+1).Warn("Trade rejected")
		}
	}

	if opts.csv {
		return session.Ledger().WriteCSV(out)
	}

	summary, err := session.PriceSummary()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Price: %.2f (open %.2f, low %.2f, high %.2f, %+.2f%%)\n\n",
		summary.Current, summary.Open, summary.Min, summary.Max, summary.ChangePercent)
	fmt.Fprint(out, session.Ledger().Table())
	return nil
}

