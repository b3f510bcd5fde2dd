package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a virtual clock. Time only moves when Advance is called, at
// which point due timers run and due tickers deliver, in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	timers  []*manualTimer
	tickers []*manualTicker
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{clock: m, at: m.now.Add(d), f: f, seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTicker{
		clock:  m,
		period: d,
		next:   m.now.Add(d),
		ch:     make(chan time.Time, 1),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the clock forward by d. Timer callbacks run synchronously on
// the calling goroutine with the clock set to their deadline. Ticks are
// dropped if the receiver has not drained the previous one, like time.Ticker.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		timer, ticker, at, ok := m.nextDue(target)
		if !ok {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = at

		if timer != nil {
			m.removeTimer(timer)
			m.mu.Unlock()
			timer.f()
			continue
		}

		ticker.next = ticker.next.Add(ticker.period)
		select {
		case ticker.ch <- at:
		default:
		}
		m.mu.Unlock()
	}
}

// PendingTimers returns the number of timers that have neither fired nor
// been stopped.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) nextDue(target time.Time) (*manualTimer, *manualTicker, time.Time, bool) {
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})

	var (
		timer  *manualTimer
		ticker *manualTicker
		at     time.Time
		found  bool
	)

	if len(m.timers) > 0 && !m.timers[0].at.After(target) {
		timer, at, found = m.timers[0], m.timers[0].at, true
	}

	for _, t := range m.tickers {
		if t.next.After(target) {
			continue
		}
		if !found || t.next.Before(at) {
			timer, ticker, at, found = nil, t, t.next, true
		}
	}

	return timer, ticker, at, found
}

func (m *Manual) removeTimer(t *manualTimer) bool {
	for i, candidate := range m.timers {
		if candidate == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manual) removeTicker(t *manualTicker) {
	for i, candidate := range m.tickers {
		if candidate == t {
			m.tickers = append(m.tickers[:i], m.tickers[i+1:]...)
			return
		}
	}
}

type manualTimer struct {
	clock *Manual
	at    time.Time
	f     func()
	seq   int
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.removeTimer(t)
}

type manualTicker struct {
	clock  *Manual
	period time.Duration
	next   time.Time
	ch     chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.clock.removeTicker(t)
}
