package trader

import (
	"sync"
	"time"

	"github.com/gregtusar/tradesim/pkg/clock"
)

// Celebration is the transient "you won" cue shown after every resolution.
// It never touches ledger state.
type Celebration struct {
	clock    clock.Clock
	duration time.Duration
	timer    clock.Timer
	active   bool
	mu       sync.Mutex
}

func NewCelebration(clk clock.Clock, duration time.Duration) *Celebration {
	return &Celebration{clock: clk, duration: duration}
}

// Trigger turns the cue on and (re)starts its display window.
func (c *Celebration) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.active = true

	var timer clock.Timer
	timer = c.clock.AfterFunc(c.duration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.timer == timer {
			c.active = false
			c.timer = nil
		}
	})
	c.timer = timer
}

func (c *Celebration) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Celebration) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.active = false
}
