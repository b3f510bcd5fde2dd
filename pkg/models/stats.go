package models

import (
	"github.com/shopspring/decimal"
)

type Stats struct {
	Balance      decimal.Decimal `json:"balance"`
	TotalTrades  int             `json:"total_trades"`
	ActiveTrades int             `json:"active_trades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
}

type Snapshot struct {
	Stats        Stats   `json:"stats"`
	CurrentPrice float64 `json:"current_price"`
	Celebrating  bool    `json:"celebrating"`
}

// Terms are the payout and stake settings a trading panel shows.
type Terms struct {
	DefaultStake      decimal.Decimal `json:"default_stake"`
	ProfitRatePercent decimal.Decimal `json:"profit_rate_percent"`
	StakePresets      []StakePreset   `json:"stake_presets"`
}

// StakePreset is a stake expressed as a share of the current balance,
// rounded down to a whole unit.
type StakePreset struct {
	Percent int             `json:"percent"`
	Amount  decimal.Decimal `json:"amount"`
}
