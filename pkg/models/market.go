package models

import (
	"fmt"
	"time"
)

type Asset struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Category AssetCategory `json:"category"`
	Icon     string        `json:"icon"`
}

type AssetCategory string

const (
	AssetCategoryCrypto AssetCategory = "crypto"
	AssetCategoryForex  AssetCategory = "forex"
	AssetCategoryStock  AssetCategory = "stock"
)

func (c AssetCategory) Valid() bool {
	switch c {
	case AssetCategoryCrypto, AssetCategoryForex, AssetCategoryStock:
		return true
	}
	return false
}

type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

type PriceSummary struct {
	Current       float64 `json:"current"`
	Open          float64 `json:"open"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"std_dev"`
	ChangePercent float64 `json:"change_percent"`
	Points        int     `json:"points"`
}

type ExpirationChoice struct {
	Seconds int    `json:"seconds"`
	Label   string `json:"label"`
}

// ExpirationLabel renders whole minutes as "Nm" and everything else as "Ns".
func ExpirationLabel(seconds int) string {
	if seconds >= 60 && seconds%60 == 0 {
		return fmt.Sprintf("%dm", seconds/60)
	}
	return fmt.Sprintf("%ds", seconds)
}

func NewExpirationChoices(seconds []int) []ExpirationChoice {
	choices := make([]ExpirationChoice, 0, len(seconds))
	for _, s := range seconds {
		choices = append(choices, ExpirationChoice{Seconds: s, Label: ExpirationLabel(s)})
	}
	return choices
}
