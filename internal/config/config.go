package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/gregtusar/tradesim/pkg/models"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Trading TradingConfig `mapstructure:"trading"`
	Price   PriceConfig   `mapstructure:"price"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Session SessionConfig `mapstructure:"session"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int     `mapstructure:"port"`
	TradeRateLimit float64 `mapstructure:"trade_rate_limit"`
	TradeBurst     int     `mapstructure:"trade_burst"`
}

type TradingConfig struct {
	Balance           float64       `mapstructure:"balance"`
	DefaultStake      float64       `mapstructure:"default_stake"`
	ProfitRatePercent float64       `mapstructure:"profit_rate_percent"`
	ExpirationChoices []int         `mapstructure:"expiration_choices"`
	Assets            []AssetConfig `mapstructure:"assets"`
}

type AssetConfig struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Category string `mapstructure:"category"`
	Icon     string `mapstructure:"icon"`
}

type PriceConfig struct {
	HistoryPoints int           `mapstructure:"history_points"`
	WindowSize    int           `mapstructure:"window_size"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	Seed          int64         `mapstructure:"seed"`
}

type LedgerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SessionConfig struct {
	CelebrationDuration time.Duration `mapstructure:"celebration_duration"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func Load(configPath string) (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tradesim")
	}

	// TRADESIM_TRADING_BALANCE -> trading.balance
	v.SetEnvPrefix("TRADESIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.trade_rate_limit", 5.0)
	v.SetDefault("server.trade_burst", 10)

	// Trading defaults
	v.SetDefault("trading.balance", 10000.0)
	v.SetDefault("trading.default_stake", 100.0)
	v.SetDefault("trading.profit_rate_percent", 85.0)
	v.SetDefault("trading.expiration_choices", []int{30, 60, 180, 300, 600})
	v.SetDefault("trading.assets", []map[string]interface{}{
		{"id": "BTC/USD", "name": "Bitcoin", "category": "crypto", "icon": "Bitcoin"},
		{"id": "ETH/USD", "name": "Ethereum", "category": "crypto", "icon": "Wallet"},
		{"id": "EUR/USD", "name": "EUR/USD", "category": "forex", "icon": "Euro"},
		{"id": "AAPL", "name": "Apple", "category": "stock", "icon": "Apple"},
		{"id": "TSLA", "name": "Tesla", "category": "stock", "icon": "Car"},
	})

	// Price process defaults
	v.SetDefault("price.history_points", 50)
	v.SetDefault("price.window_size", 100)
	v.SetDefault("price.tick_interval", time.Second)
	v.SetDefault("price.seed", 0)

	v.SetDefault("ledger.sweep_interval", time.Second)
	v.SetDefault("session.celebration_duration", 3*time.Second)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
}

func overrideFromEnv(config *Config) {
	// PORT is what most container platforms inject
	if port := os.Getenv("PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil && p > 0 {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

func (c *Config) Validate() error {
	t := c.Trading
	if t.Balance < 0 {
		return fmt.Errorf("trading.balance must not be negative, got %v", t.Balance)
	}
	if t.DefaultStake <= 0 {
		return fmt.Errorf("trading.default_stake must be positive, got %v", t.DefaultStake)
	}
	if t.ProfitRatePercent <= 0 || t.ProfitRatePercent > 100 {
		return fmt.Errorf("trading.profit_rate_percent must be in (0, 100], got %v", t.ProfitRatePercent)
	}
	if len(t.ExpirationChoices) == 0 {
		return fmt.Errorf("trading.expiration_choices must not be empty")
	}
	for _, s := range t.ExpirationChoices {
		if s <= 0 {
			return fmt.Errorf("trading.expiration_choices must be positive, got %d", s)
		}
	}
	if len(t.Assets) == 0 {
		return fmt.Errorf("trading.assets must not be empty")
	}
	seen := make(map[string]bool, len(t.Assets))
	for _, a := range t.Assets {
		if a.ID == "" {
			return fmt.Errorf("trading.assets: id is required")
		}
		if seen[a.ID] {
			return fmt.Errorf("trading.assets: duplicate id %q", a.ID)
		}
		seen[a.ID] = true
		if !models.AssetCategory(a.Category).Valid() {
			return fmt.Errorf("trading.assets: %q has unknown category %q", a.ID, a.Category)
		}
	}

	if c.Price.WindowSize < 1 {
		return fmt.Errorf("price.window_size must be positive, got %d", c.Price.WindowSize)
	}
	if c.Price.HistoryPoints < 0 {
		return fmt.Errorf("price.history_points must not be negative, got %d", c.Price.HistoryPoints)
	}
	if c.Price.TickInterval <= 0 || c.Ledger.SweepInterval <= 0 {
		return fmt.Errorf("price.tick_interval and ledger.sweep_interval must be positive")
	}
	if c.Session.CelebrationDuration < 0 {
		return fmt.Errorf("session.celebration_duration must not be negative")
	}
	if c.Server.TradeRateLimit <= 0 || c.Server.TradeBurst < 1 {
		return fmt.Errorf("server.trade_rate_limit and server.trade_burst must be positive")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

func (t TradingConfig) AssetCatalog() []models.Asset {
	assets := make([]models.Asset, 0, len(t.Assets))
	for _, a := range t.Assets {
		assets = append(assets, models.Asset{
			ID:       a.ID,
			Name:     a.Name,
			Category: models.AssetCategory(a.Category),
			Icon:     a.Icon,
		})
	}
	return assets
}

func (t TradingConfig) BalanceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(t.Balance)
}

func (t TradingConfig) DefaultStakeDecimal() decimal.Decimal {
	return decimal.NewFromFloat(t.DefaultStake)
}

func (t TradingConfig) ProfitRateDecimal() decimal.Decimal {
	return decimal.NewFromFloat(t.ProfitRatePercent)
}
