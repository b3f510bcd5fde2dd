package main

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/gregtusar/tradesim/pkg/client"
	"github.com/gregtusar/tradesim/pkg/models"
)

func newTradeCmd() *cobra.Command {
	var (
		server     string
		asset      string
		direction  string
		stake      float64
		expiration int
	)

	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Place a trade on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if server == "" {
				server = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}

			req := client.TradeRequest{
				AssetID:           asset,
				Direction:         models.Direction(strings.ToLower(direction)),
				ExpirationSeconds: expiration,
			}
			if stake > 0 {
				s := decimal.NewFromFloat(stake)
				req.Stake = &s
			}

			c := client.NewRESTClient(server)
			position, err := c.PlaceTrade(cmd.Context(), req)
			if err != nil {
				return err
			}
			snapshot, err := c.Account(cmd.Context())
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Asset", "Direction", "Stake", "Expires", "Balance"})
			table.Append([]string{
				position.ID,
				position.AssetID,
				string(position.Direction),
				position.Stake.StringFixed(2),
				position.Deadline().Format("15:04:05"),
				snapshot.Stats.Balance.StringFixed(2),
			})
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server base URL (default http://localhost:<server.port>)")
	cmd.Flags().StringVar(&asset, "asset", "BTC/USD", "asset id")
	cmd.Flags().StringVar(&direction, "direction", string(models.DirectionUp), "up or down")
	cmd.Flags().Float64Var(&stake, "stake", 0, "stake (default server's trading.default_stake)")
	cmd.Flags().IntVar(&expiration, "expiration", 0, "expiration in seconds (default server's first choice)")

	return cmd
}
