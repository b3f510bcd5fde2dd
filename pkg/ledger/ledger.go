// Package ledger tracks the user's positions and balance and resolves every
// position once its expiration elapses.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/tradesim/pkg/clock"
	"github.com/gregtusar/tradesim/pkg/events"
	"github.com/gregtusar/tradesim/pkg/models"
)

type Config struct {
	Balance           decimal.Decimal
	ProfitRatePercent decimal.Decimal
}

type Ledger struct {
	account    *Account
	profitRate decimal.Decimal
	positions  []*models.Position
	byID       map[string]*models.Position
	timers     map[string]clock.Timer
	clock      clock.Clock
	bus        *events.Bus
	logger     *logrus.Logger
	mu         sync.RWMutex
}

var hundred = decimal.NewFromInt(100)

func New(cfg Config, clk clock.Clock, bus *events.Bus, logger *logrus.Logger) *Ledger {
	return &Ledger{
		account:    NewAccount(cfg.Balance),
		profitRate: cfg.ProfitRatePercent.Div(hundred),
		byID:       make(map[string]*models.Position),
		timers:     make(map[string]clock.Timer),
		clock:      clk,
		bus:        bus,
		logger:     logger,
	}
}

// PlaceTrade debits stake, records an active position and schedules its
// resolution expirationSeconds from now.
func (l *Ledger) PlaceTrade(assetID string, direction models.Direction, stake decimal.Decimal, expirationSeconds int) (*models.Position, error) {
	l.mu.Lock()

	if err := l.account.debit(stake); err != nil {
		l.mu.Unlock()
		l.logger.WithError(err).WithField("asset", assetID).Warn("Rejected trade")
		return nil, err
	}

	position := &models.Position{
		ID:                uuid.NewString(),
		AssetID:           assetID,
		Direction:         direction,
		Stake:             stake,
		RealizedProfit:    decimal.Zero,
		PlacedAt:          l.clock.Now(),
		ExpirationSeconds: expirationSeconds,
		Status:            models.PositionStatusActive,
	}
	l.positions = append(l.positions, position)
	l.byID[position.ID] = position

	id := position.ID
	l.timers[id] = l.clock.AfterFunc(time.Duration(expirationSeconds)*time.Second, func() {
		l.Resolve(id)
	})

	placed := *position
	balance := l.account.Balance()
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"position_id": placed.ID,
		"asset":       placed.AssetID,
		"direction":   placed.Direction,
		"stake":       placed.Stake.String(),
		"expiration":  placed.ExpirationSeconds,
		"balance":     balance.String(),
	}).Info("Placed trade")

	l.bus.Publish(events.PositionPlaced, placed)
	return &placed, nil
}

// Resolve settles an active position as a win and credits stake plus
// profit. It reports false, changing nothing, for unknown or already
// settled positions, so it is safe to call from both the per-trade timer
// and the sweep.
func (l *Ledger) Resolve(id string) bool {
	l.mu.Lock()

	position, ok := l.byID[id]
	if !ok {
		l.mu.Unlock()
		return false
	}

	switch position.Status {
	case models.PositionStatusActive:
	case models.PositionStatusWon, models.PositionStatusLost:
		l.mu.Unlock()
		return false
	default:
		l.mu.Unlock()
		l.logger.WithField("status", position.Status).Error("Unknown position status")
		return false
	}

	resolved := l.settleLocked(position, l.clock.Now())
	balance := l.account.Balance()
	l.mu.Unlock()

	l.logResolved(resolved, balance)
	l.bus.Publish(events.PositionResolved, resolved)
	return true
}

// Sweep resolves every active position whose deadline is at or before now.
func (l *Ledger) Sweep(now time.Time) []models.Position {
	l.mu.Lock()

	var resolved []models.Position
	for _, position := range l.positions {
		if position.Status != models.PositionStatusActive {
			continue
		}
		if position.Deadline().After(now) {
			continue
		}
		resolved = append(resolved, l.settleLocked(position, now))
	}
	balance := l.account.Balance()
	l.mu.Unlock()

	for _, position := range resolved {
		l.logResolved(position, balance)
		l.bus.Publish(events.PositionResolved, position)
	}
	return resolved
}

// settleLocked marks position won as of at.
func (l *Ledger) settleLocked(position *models.Position, at time.Time) models.Position {
	profit := position.Stake.Mul(l.profitRate)

	position.Status = models.PositionStatusWon
	position.RealizedProfit = profit
	position.ResolvedAt = &at
	l.account.credit(position.Stake.Add(profit))

	if timer, ok := l.timers[position.ID]; ok {
		timer.Stop()
		delete(l.timers, position.ID)
	}

	return *position
}

func (l *Ledger) logResolved(position models.Position, balance decimal.Decimal) {
	l.logger.WithFields(logrus.Fields{
		"position_id": position.ID,
		"asset":       position.AssetID,
		"profit":      position.RealizedProfit.String(),
		"balance":     balance.String(),
	}).Info("Resolved trade")
}

// CancelPending stops every outstanding resolution timer. Positions stay
// active; a later Sweep still resolves them.
func (l *Ledger) CancelPending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, timer := range l.timers {
		if timer.Stop() {
			n++
		}
		delete(l.timers, id)
	}
	return n
}

// Positions returns copies of every position, newest first.
func (l *Ledger) Positions() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Position, 0, len(l.positions))
	for i := len(l.positions) - 1; i >= 0; i-- {
		out = append(out, *l.positions[i])
	}
	return out
}

func (l *Ledger) Position(id string) (models.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	position, ok := l.byID[id]
	if !ok {
		return models.Position{}, ErrPositionNotFound
	}
	return *position, nil
}

func (l *Ledger) Balance() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.account.Balance()
}

func (l *Ledger) Stats() models.Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := models.Stats{
		Balance:     l.account.Balance(),
		TotalTrades: len(l.positions),
		TotalProfit: decimal.Zero,
	}
	for _, position := range l.positions {
		switch position.Status {
		case models.PositionStatusActive:
			stats.ActiveTrades++
		case models.PositionStatusWon:
			stats.Wins++
			stats.TotalProfit = stats.TotalProfit.Add(position.RealizedProfit)
		case models.PositionStatusLost:
			stats.Losses++
		}
	}
	return stats
}
