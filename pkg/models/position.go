package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID                string          `json:"id"`
	AssetID           string          `json:"asset_id"`
	Direction         Direction       `json:"direction"`
	Stake             decimal.Decimal `json:"stake"`
	RealizedProfit    decimal.Decimal `json:"realized_profit"`
	PlacedAt          time.Time       `json:"placed_at"`
	ExpirationSeconds int             `json:"expiration_seconds"`
	Status            PositionStatus  `json:"status"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
}

// Deadline is the instant the position becomes eligible for resolution.
func (p Position) Deadline() time.Time {
	return p.PlacedAt.Add(time.Duration(p.ExpirationSeconds) * time.Second)
}

func (p Position) IsTerminal() bool {
	return p.Status == PositionStatusWon || p.Status == PositionStatusLost
}

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

type PositionStatus string

const (
	PositionStatusActive PositionStatus = "active"
	PositionStatusWon    PositionStatus = "won"
	PositionStatusLost   PositionStatus = "lost"
)
