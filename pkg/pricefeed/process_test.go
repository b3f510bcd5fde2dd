package pricefeed

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/tradesim/pkg/clock"
)

var epoch = time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

func newTestProcess(t *testing.T, window int) (*Process, *clock.Manual) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clk := clock.NewManual(epoch)
	p, err := NewProcess(NewGenerator(21), clk, window, logger)
	require.NoError(t, err)
	return p, clk
}

func TestNewProcess_RejectsEmptyWindow(t *testing.T) {
	_, err := NewProcess(NewGenerator(1), clock.NewManual(epoch), 0, logrus.New())
	assert.Error(t, err)
}

func TestProcess_Initialize(t *testing.T) {
	p, _ := newTestProcess(t, DefaultWindowSize)

	assert.Equal(t, 0.0, p.Current())

	points := p.Initialize(50)
	require.Len(t, points, 50)
	assert.Equal(t, points, p.History())
	assert.Equal(t, points[49].Price, p.Current())
	assert.False(t, points[49].Timestamp.After(epoch))
}

func TestProcess_InitializeLargerThanWindow(t *testing.T) {
	p, _ := newTestProcess(t, 10)

	points := p.Initialize(25)
	require.Len(t, points, 25)

	history := p.History()
	require.Len(t, history, 10)
	assert.Equal(t, points[15:], history)
}

func TestProcess_Tick(t *testing.T) {
	t.Run("appends a stepped sample at the current time", func(t *testing.T) {
		p, clk := newTestProcess(t, DefaultWindowSize)
		p.Initialize(50)
		last := p.Current()

		clk.Advance(time.Second)
		pt := p.Tick()

		assert.Equal(t, epoch.Add(time.Second), pt.Timestamp)
		assert.Equal(t, pt.Price, p.Current())
		assert.Equal(t, 51, p.Len())
		assert.InEpsilon(t, last, pt.Price, 0.01)
	})

	t.Run("works on an empty window", func(t *testing.T) {
		p, _ := newTestProcess(t, DefaultWindowSize)
		pt := p.Tick()

		assert.Equal(t, 1, p.Len())
		assert.GreaterOrEqual(t, pt.Price, MinPrice)
	})

	t.Run("window never exceeds its size", func(t *testing.T) {
		p, clk := newTestProcess(t, DefaultWindowSize)

		first := p.Tick()
		for i := 0; i < 100; i++ {
			clk.Advance(time.Second)
			p.Tick()
			assert.LessOrEqual(t, p.Len(), DefaultWindowSize)
		}
		clk.Advance(time.Second)
		newest := p.Tick()

		history := p.History()
		require.Len(t, history, DefaultWindowSize)
		assert.NotEqual(t, first.Timestamp, history[0].Timestamp)
		assert.Equal(t, newest, history[len(history)-1])
		for i := 1; i < len(history); i++ {
			assert.True(t, history[i].Timestamp.After(history[i-1].Timestamp))
		}
	})
}

func TestProcess_HistoryIsACopy(t *testing.T) {
	p, _ := newTestProcess(t, DefaultWindowSize)
	p.Initialize(5)

	history := p.History()
	history[0].Price = -1

	assert.NotEqual(t, -1.0, p.History()[0].Price)
}

func TestProcess_Summary(t *testing.T) {
	p, _ := newTestProcess(t, DefaultWindowSize)

	empty, err := p.Summary()
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Points)

	points := p.Initialize(30)
	summary, err := p.Summary()
	require.NoError(t, err)

	assert.Equal(t, 30, summary.Points)
	assert.Equal(t, points[0].Price, summary.Open)
	assert.Equal(t, points[29].Price, summary.Current)
	assert.LessOrEqual(t, summary.Min, summary.Mean)
	assert.GreaterOrEqual(t, summary.Max, summary.Mean)
	assert.GreaterOrEqual(t, summary.StdDev, 0.0)
	assert.InDelta(t, (points[29].Price-points[0].Price)/points[0].Price*100, summary.ChangePercent, 1e-9)
}
