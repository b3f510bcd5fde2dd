package pricefeed

import (
	"fmt"
	"sync"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/tradesim/pkg/clock"
	"github.com/gregtusar/tradesim/pkg/models"
)

// DefaultWindowSize is the number of samples kept for display.
const DefaultWindowSize = 100

// Process holds the rolling window of recent samples and the current price.
type Process struct {
	generator *Generator
	clock     clock.Clock
	window    int
	history   []models.PricePoint
	current   float64
	logger    *logrus.Logger
	mu        sync.RWMutex
}

func NewProcess(generator *Generator, clk clock.Clock, window int, logger *logrus.Logger) (*Process, error) {
	if window < 1 {
		return nil, fmt.Errorf("pricefeed: window size must be positive, got %d", window)
	}

	return &Process{
		generator: generator,
		clock:     clk,
		window:    window,
		history:   make([]models.PricePoint, 0, window),
		logger:    logger,
	}, nil
}

// Initialize replaces the window with numPoints freshly generated samples
// ending at the current time and returns them, oldest first.
func (p *Process) Initialize(numPoints int) []models.PricePoint {
	series := p.generator.Series(numPoints, p.clock.Now())

	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = p.history[:0]
	for _, pt := range series {
		p.appendLocked(pt)
	}
	if n := len(p.history); n > 0 {
		p.current = p.history[n-1].Price
	}

	p.logger.WithFields(logrus.Fields{
		"points": len(series),
		"price":  p.current,
	}).Debug("Initialized price history")

	return series
}

// Tick steps the last known price, appends it at the current time and
// evicts the oldest sample if the window overflows.
func (p *Process) Tick() models.PricePoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	var prev float64
	if n := len(p.history); n > 0 {
		prev = p.history[n-1].Price
	} else {
		prev = p.generator.StartingPrice()
	}

	pt := models.PricePoint{
		Timestamp: p.clock.Now(),
		Price:     p.generator.Step(prev),
	}
	p.appendLocked(pt)
	p.current = pt.Price

	return pt
}

func (p *Process) appendLocked(pt models.PricePoint) {
	if len(p.history) == p.window {
		copy(p.history, p.history[1:])
		p.history = p.history[:p.window-1]
	}
	p.history = append(p.history, pt)
}

// Current is zero until the first Initialize or Tick.
func (p *Process) Current() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *Process) History() []models.PricePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.PricePoint, len(p.history))
	copy(out, p.history)
	return out
}

func (p *Process) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.history)
}

func (p *Process) Summary() (models.PriceSummary, error) {
	history := p.History()
	if len(history) == 0 {
		return models.PriceSummary{}, nil
	}

	data := make(stats.Float64Data, 0, len(history))
	for _, pt := range history {
		data = append(data, pt.Price)
	}

	low, err := data.Min()
	if err != nil {
		return models.PriceSummary{}, fmt.Errorf("pricefeed: min: %w", err)
	}
	high, err := data.Max()
	if err != nil {
		return models.PriceSummary{}, fmt.Errorf("pricefeed: max: %w", err)
	}
	mean, err := data.Mean()
	if err != nil {
		return models.PriceSummary{}, fmt.Errorf("pricefeed: mean: %w", err)
	}
	stdDev, err := data.StandardDeviation()
	if err != nil {
		return models.PriceSummary{}, fmt.Errorf("pricefeed: std dev: %w", err)
	}

	open := history[0].Price
	last := history[len(history)-1].Price

	return models.PriceSummary{
		Current:       last,
		Open:          open,
		Min:           low,
		Max:           high,
		Mean:          mean,
		StdDev:        stdDev,
		ChangePercent: (last - open) / open * 100,
		Points:        len(history),
	}, nil
}
