package trader

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/tradesim/pkg/clock"
	"github.com/gregtusar/tradesim/pkg/events"
	"github.com/gregtusar/tradesim/pkg/models"
)

var epoch = time.Date(2024, time.June, 3, 9, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() Config {
	return Config{
		Balance:           d("10000"),
		DefaultStake:      d("100"),
		ProfitRatePercent: d("85"),
		Assets: []models.Asset{
			{ID: "BTC/USD", Name: "Bitcoin", Category: models.AssetCategoryCrypto, Icon: "Bitcoin"},
			{ID: "AAPL", Name: "Apple", Category: models.AssetCategoryStock, Icon: "Apple"},
		},
		ExpirationChoices:   []int{30, 60},
		HistoryPoints:       50,
		WindowSize:          100,
		TickInterval:        time.Second,
		SweepInterval:       time.Second,
		CelebrationDuration: 3 * time.Second,
		Seed:                99,
	}
}

func newTestSession(t *testing.T) (*Session, *clock.Manual) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clk := clock.NewManual(epoch)
	s, err := NewSession(testConfig(), clk, events.New(logger), logger)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s, clk
}

// step advances one second and waits for the price loop to consume the tick.
func step(t *testing.T, s *Session, clk *clock.Manual) {
	t.Helper()
	want := len(s.PriceHistory()) + 1
	if want > s.cfg.WindowSize {
		want = s.cfg.WindowSize
	}
	clk.Advance(time.Second)
	require.Eventually(t, func() bool {
		history := s.PriceHistory()
		return len(history) == want && history[len(history)-1].Timestamp.Equal(clk.Now())
	}, time.Second, time.Millisecond)
}

func TestNewSession_RequiresCatalog(t *testing.T) {
	logger := logrus.New()
	cfg := testConfig()
	cfg.Assets = nil
	_, err := NewSession(cfg, clock.NewManual(epoch), events.New(logger), logger)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.ExpirationChoices = nil
	_, err = NewSession(cfg, clock.NewManual(epoch), events.New(logger), logger)
	assert.Error(t, err)
}

func TestSession_Start(t *testing.T) {
	s, clk := newTestSession(t)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSessionAlreadyStart)

	history := s.PriceHistory()
	require.Len(t, history, 51)
	assert.Equal(t, epoch, history[50].Timestamp)
	assert.Equal(t, history[50].Price, s.Snapshot().CurrentPrice)

	step(t, s, clk)
	step(t, s, clk)
	assert.Len(t, s.PriceHistory(), 53)
}

func TestSession_TradeLifecycle(t *testing.T) {
	s, clk := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	position, err := s.PlaceTrade(TradeRequest{
		AssetID:           "BTC/USD",
		Direction:         models.DirectionUp,
		Stake:             d("100"),
		ExpirationSeconds: 30,
	})
	require.NoError(t, err)
	assert.True(t, s.Balance().Equal(d("9900")))
	assert.Equal(t, models.PositionStatusActive, position.Status)

	for i := 0; i < 29; i++ {
		step(t, s, clk)
	}
	assert.False(t, s.Celebrating())
	assert.True(t, s.Balance().Equal(d("9900")))

	step(t, s, clk)
	got, err := s.Position(position.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusWon, got.Status)
	assert.True(t, got.RealizedProfit.Equal(d("85")))
	assert.True(t, s.Balance().Equal(d("10085")))
	assert.True(t, s.Celebrating())

	// the sweep loop may also see the position; the credit must not repeat
	assert.Empty(t, s.Sweep())
	assert.True(t, s.Balance().Equal(d("10085")))

	for i := 0; i < 3; i++ {
		step(t, s, clk)
	}
	assert.False(t, s.Celebrating())

	snapshot := s.Snapshot()
	assert.Equal(t, 1, snapshot.Stats.Wins)
	assert.True(t, snapshot.Stats.TotalProfit.Equal(d("85")))
}

func TestSession_PlaceTradeValidation(t *testing.T) {
	s, _ := newTestSession(t)

	tests := []struct {
		name string
		req  TradeRequest
		want error
	}{
		{
			name: "unknown asset",
			req:  TradeRequest{AssetID: "DOGE", Direction: models.DirectionUp, Stake: d("100"), ExpirationSeconds: 30},
			want: ErrUnknownAsset,
		},
		{
			name: "bad direction",
			req:  TradeRequest{AssetID: "AAPL", Direction: "sideways", Stake: d("100"), ExpirationSeconds: 30},
			want: ErrInvalidDirection,
		},
		{
			name: "expiration not offered",
			req:  TradeRequest{AssetID: "AAPL", Direction: models.DirectionDown, Stake: d("100"), ExpirationSeconds: 45},
			want: ErrInvalidExpiration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.PlaceTrade(tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, s.Positions())
			assert.True(t, s.Balance().Equal(d("10000")))
		})
	}
}

func TestSession_Stop(t *testing.T) {
	s, clk := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	_, err := s.PlaceTrade(TradeRequest{AssetID: "AAPL", Direction: models.DirectionDown, Stake: d("50"), ExpirationSeconds: 60})
	require.NoError(t, err)
	require.Equal(t, 1, clk.PendingTimers())

	s.Stop()
	s.Stop()

	assert.Equal(t, 0, clk.PendingTimers())

	before := len(s.PriceHistory())
	clk.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, s.PriceHistory(), before)
}

func TestSession_StopsWithContext(t *testing.T) {
	s, clk := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loops did not exit after context cancellation")
	}

	before := len(s.PriceHistory())
	clk.Advance(3 * time.Second)
	assert.Len(t, s.PriceHistory(), before)
}

func TestSession_Catalog(t *testing.T) {
	s, _ := newTestSession(t)

	assert.Len(t, s.Assets(), 2)
	assert.Equal(t, []models.ExpirationChoice{{Seconds: 30, Label: "30s"}, {Seconds: 60, Label: "1m"}}, s.ExpirationChoices())
	assert.Equal(t, 30, s.DefaultExpiration())
	assert.True(t, s.DefaultStake().Equal(d("100")))
}

func TestCelebration(t *testing.T) {
	clk := clock.NewManual(epoch)
	c := NewCelebration(clk, 3*time.Second)
	assert.False(t, c.Active())

	c.Trigger()
	assert.True(t, c.Active())

	clk.Advance(2 * time.Second)
	c.Trigger()
	clk.Advance(2 * time.Second)
	assert.True(t, c.Active(), "a second trigger restarts the window")

	clk.Advance(time.Second)
	assert.False(t, c.Active())

	c.Trigger()
	c.Stop()
	assert.False(t, c.Active())
	assert.Equal(t, 0, clk.PendingTimers())
}

func TestSession_Terms(t *testing.T) {
	s, _ := newTestSession(t)

	terms := s.Terms()
	assert.True(t, terms.ProfitRatePercent.Equal(d("85")))
	assert.True(t, terms.DefaultStake.Equal(d("100")))
	require.Len(t, terms.StakePresets, 4)
	assert.True(t, terms.StakePresets[1].Amount.Equal(d("2500")))

	_, err := s.PlaceTrade(TradeRequest{AssetID: "AAPL", Direction: models.DirectionUp, Stake: d("0.5"), ExpirationSeconds: 30})
	require.NoError(t, err)

	// 9999.5 rounds down at every share
	terms = s.Terms()
	assert.True(t, terms.StakePresets[0].Amount.Equal(d("999")))
	assert.True(t, terms.StakePresets[3].Amount.Equal(d("9999")))
}
