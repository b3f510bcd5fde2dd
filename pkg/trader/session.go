// Package trader runs a single simulated trading session: the price
// process, the trade ledger and the loops that drive them.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/tradesim/pkg/clock"
	"github.com/gregtusar/tradesim/pkg/events"
	"github.com/gregtusar/tradesim/pkg/ledger"
	"github.com/gregtusar/tradesim/pkg/models"
	"github.com/gregtusar/tradesim/pkg/pricefeed"
)

var (
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrInvalidExpiration   = errors.New("invalid expiration")
	ErrInvalidDirection    = errors.New("invalid direction")
	ErrSessionAlreadyStart = errors.New("session already started")
)

// StakePresetPercents are the balance shares offered as quick stakes.
var StakePresetPercents = []int{10, 25, 50, 100}

type Config struct {
	Balance             decimal.Decimal
	DefaultStake        decimal.Decimal
	ProfitRatePercent   decimal.Decimal
	Assets              []models.Asset
	ExpirationChoices   []int
	HistoryPoints       int
	WindowSize          int
	TickInterval        time.Duration
	SweepInterval       time.Duration
	CelebrationDuration time.Duration
	Seed                int64
}

type TradeRequest struct {
	AssetID           string
	Direction         models.Direction
	Stake             decimal.Decimal
	ExpirationSeconds int
}

type Session struct {
	cfg         Config
	assets      map[string]models.Asset
	expirations map[int]bool
	prices      *pricefeed.Process
	ledger      *ledger.Ledger
	celebration *Celebration
	bus         *events.Bus
	clock       clock.Clock
	logger      *logrus.Logger
	mu          sync.Mutex
	started     bool
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewSession(cfg Config, clk clock.Clock, bus *events.Bus, logger *logrus.Logger) (*Session, error) {
	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("session: no assets configured")
	}
	if len(cfg.ExpirationChoices) == 0 {
		return nil, fmt.Errorf("session: no expiration choices configured")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = clk.Now().UnixNano()
	}
	prices, err := pricefeed.NewProcess(pricefeed.NewGenerator(seed), clk, cfg.WindowSize, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		cfg:         cfg,
		assets:      make(map[string]models.Asset, len(cfg.Assets)),
		expirations: make(map[int]bool, len(cfg.ExpirationChoices)),
		prices:      prices,
		ledger: ledger.New(ledger.Config{
			Balance:           cfg.Balance,
			ProfitRatePercent: cfg.ProfitRatePercent,
		}, clk, bus, logger),
		celebration: NewCelebration(clk, cfg.CelebrationDuration),
		bus:         bus,
		clock:       clk,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
	for _, a := range cfg.Assets {
		s.assets[a.ID] = a
	}
	for _, e := range cfg.ExpirationChoices {
		s.expirations[e] = true
	}

	if err := bus.Subscribe(events.PositionResolved, s.onResolved); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return s, nil
}

// Start seeds the price history, takes the first tick immediately and
// launches the price and sweep loops. The loops exit on Stop or when ctx
// is done.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSessionAlreadyStart
	}
	s.started = true
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"balance": s.cfg.Balance.String(),
		"assets":  len(s.assets),
	}).Info("Starting trading session")

	s.Initialize()

	priceTicker := s.clock.NewTicker(s.cfg.TickInterval)
	sweepTicker := s.clock.NewTicker(s.cfg.SweepInterval)

	s.wg.Add(2)
	go s.runLoop(ctx, priceTicker, func() { s.Tick() })
	go s.runLoop(ctx, sweepTicker, func() { s.Sweep() })

	return nil
}

func (s *Session) runLoop(ctx context.Context, ticker clock.Ticker, fn func()) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C():
			fn()
		}
	}
}

// Stop ends both loops, waits for them and releases every pending timer.
// It is safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping trading session")
		close(s.stopCh)
		s.wg.Wait()

		cancelled := s.ledger.CancelPending()
		s.celebration.Stop()
		s.bus.WaitAsync()

		s.logger.WithField("cancelled_timers", cancelled).Info("Trading session stopped")
	})
}

// Initialize seeds the price history and takes the first tick. Start calls
// it; headless runs that drive Tick and Sweep themselves call it directly.
func (s *Session) Initialize() models.PricePoint {
	s.prices.Initialize(s.cfg.HistoryPoints)
	return s.Tick()
}

// Tick advances the price process by one sample.
func (s *Session) Tick() models.PricePoint {
	pt := s.prices.Tick()
	s.bus.Publish(events.PriceTick, pt)
	return pt
}

// Sweep resolves every position past its deadline.
func (s *Session) Sweep() []models.Position {
	return s.ledger.Sweep(s.clock.Now())
}

func (s *Session) PlaceTrade(req TradeRequest) (*models.Position, error) {
	if _, ok := s.assets[req.AssetID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, req.AssetID)
	}
	if !req.Direction.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, req.Direction)
	}
	if !s.expirations[req.ExpirationSeconds] {
		return nil, fmt.Errorf("%w: %ds", ErrInvalidExpiration, req.ExpirationSeconds)
	}

	return s.ledger.PlaceTrade(req.AssetID, req.Direction, req.Stake, req.ExpirationSeconds)
}

func (s *Session) onResolved(position models.Position) {
	s.celebration.Trigger()
}

func (s *Session) Positions() []models.Position {
	return s.ledger.Positions()
}

func (s *Session) Position(id string) (models.Position, error) {
	return s.ledger.Position(id)
}

func (s *Session) Balance() decimal.Decimal {
	return s.ledger.Balance()
}

func (s *Session) PriceHistory() []models.PricePoint {
	return s.prices.History()
}

func (s *Session) PriceSummary() (models.PriceSummary, error) {
	return s.prices.Summary()
}

func (s *Session) Celebrating() bool {
	return s.celebration.Active()
}

func (s *Session) Snapshot() models.Snapshot {
	return models.Snapshot{
		Stats:        s.ledger.Stats(),
		CurrentPrice: s.prices.Current(),
		Celebrating:  s.celebration.Active(),
	}
}

func (s *Session) Assets() []models.Asset {
	out := make([]models.Asset, len(s.cfg.Assets))
	copy(out, s.cfg.Assets)
	return out
}

func (s *Session) ExpirationChoices() []models.ExpirationChoice {
	return models.NewExpirationChoices(s.cfg.ExpirationChoices)
}

// Terms reports the payout rate, the default stake and stake presets
// computed from the current balance.
func (s *Session) Terms() models.Terms {
	balance := s.ledger.Balance()
	hundred := decimal.NewFromInt(100)

	presets := make([]models.StakePreset, 0, len(StakePresetPercents))
	for _, pct := range StakePresetPercents {
		presets = append(presets, models.StakePreset{
			Percent: pct,
			Amount:  balance.Mul(decimal.NewFromInt(int64(pct))).Div(hundred).Floor(),
		})
	}

	return models.Terms{
		DefaultStake:      s.cfg.DefaultStake,
		ProfitRatePercent: s.cfg.ProfitRatePercent,
		StakePresets:      presets,
	}
}

func (s *Session) DefaultStake() decimal.Decimal {
	return s.cfg.DefaultStake
}

// DefaultExpiration is the first configured choice.
func (s *Session) DefaultExpiration() int {
	return s.cfg.ExpirationChoices[0]
}

func (s *Session) Ledger() *ledger.Ledger {
	return s.ledger
}
