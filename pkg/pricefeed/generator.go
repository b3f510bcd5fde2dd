// Package pricefeed produces the synthetic price series: a bounded random
// walk with a slight upward skew, sampled once per second.
package pricefeed

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gregtusar/tradesim/pkg/models"
)

const (
	// MinPrice is the floor applied after every step.
	MinPrice = 50.0

	startMin  = 1000.0
	startSpan = 14000.0

	baseVolatility = 0.002
	volatilitySpan = 0.01

	// Subtracting 0.48 rather than 0.5 makes roughly 52% of steps non-negative.
	upwardBias = 0.48

	// Cadence is the spacing between generated samples.
	Cadence = time.Second
)

type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *Generator) float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

// StartingPrice is uniform in [1000, 15000).
func (g *Generator) StartingPrice() float64 {
	return g.float64()*startSpan + startMin
}

// Step derives the next price from prev. It is pure apart from the
// randomness it draws.
func (g *Generator) Step(prev float64) float64 {
	volatility := baseVolatility + g.float64()*volatilitySpan
	change := (g.float64() - upwardBias) * volatility
	return math.Max(MinPrice, prev*(1+change))
}

// Series returns n samples spaced one Cadence apart, oldest first, the last
// one Cadence before now.
func (g *Generator) Series(n int, now time.Time) []models.PricePoint {
	if n <= 0 {
		return []models.PricePoint{}
	}

	points := make([]models.PricePoint, 0, n)
	price := g.StartingPrice()
	for i := 0; i < n; i++ {
		offset := time.Duration(n-i) * Cadence
		points = append(points, models.PricePoint{
			Timestamp: now.Add(-offset),
			Price:     price,
		})
		price = g.Step(price)
	}
	return points
}
