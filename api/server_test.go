package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/tradesim/pkg/clock"
	"github.com/gregtusar/tradesim/pkg/events"
	"github.com/gregtusar/tradesim/pkg/models"
	"github.com/gregtusar/tradesim/pkg/trader"
)

type testEnv struct {
	session *trader.Session
	server  *Server
	http    *httptest.Server
}

func newTestSession(t *testing.T) (*trader.Session, *events.Bus, *logrus.Logger) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	bus := events.New(logger)

	session, err := trader.NewSession(trader.Config{
		Balance:           decimal.NewFromInt(10000),
		DefaultStake:      decimal.NewFromInt(100),
		ProfitRatePercent: decimal.NewFromInt(85),
		Assets: []models.Asset{
			{ID: "BTC/USD", Name: "Bitcoin", Category: models.AssetCategoryCrypto, Icon: "Bitcoin"},
			{ID: "EUR/USD", Name: "EUR/USD", Category: models.AssetCategoryForex, Icon: "Euro"},
		},
		ExpirationChoices:   []int{30, 60, 180},
		HistoryPoints:       50,
		WindowSize:          100,
		TickInterval:        time.Second,
		SweepInterval:       time.Second,
		CelebrationDuration: 3 * time.Second,
		Seed:                7,
	}, clock.NewManual(time.Date(2024, time.June, 3, 9, 30, 0, 0, time.UTC)), bus, logger)
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(session.Stop)

	return session, bus, logger
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	session, bus, logger := newTestSession(t)

	if opts.TradeRateLimit == 0 {
		opts.TradeRateLimit = 1000
		opts.TradeBurst = 1000
	}
	server, err := NewServer(session, bus, logger, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go server.Hub().Run(ctx)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{session: session, server: server, http: ts}
}

func (e *testEnv) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) post(t *testing.T, body string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(e.http.URL+"/api/trades", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{})

	var body map[string]interface{}
	assert.Equal(t, http.StatusOK, env.get(t, "/api/health", &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})

	var assets []models.Asset
	require.Equal(t, http.StatusOK, env.get(t, "/api/assets", &assets))
	require.Len(t, assets, 2)
	assert.Equal(t, "BTC/USD", assets[0].ID)

	var expirations struct {
		Choices []models.ExpirationChoice `json:"choices"`
		Default int                       `json:"default"`
	}
	require.Equal(t, http.StatusOK, env.get(t, "/api/expirations", &expirations))
	assert.Equal(t, 30, expirations.Default)
	assert.Equal(t, "3m", expirations.Choices[2].Label)
}

func TestPriceEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})

	var prices []models.PricePoint
	require.Equal(t, http.StatusOK, env.get(t, "/api/prices", &prices))
	assert.Len(t, prices, 51)

	var summary models.PriceSummary
	require.Equal(t, http.StatusOK, env.get(t, "/api/prices/summary", &summary))
	assert.Equal(t, 51, summary.Points)
	assert.Equal(t, prices[50].Price, summary.Current)
	assert.GreaterOrEqual(t, summary.Max, summary.Min)
}

func TestPlaceTrade(t *testing.T) {
	env := newTestEnv(t, Options{})

	var position models.Position
	status := env.post(t, `{"asset_id":"BTC/USD","direction":"up","stake":100,"expiration_seconds":60}`, &position)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, position.ID)
	assert.Equal(t, models.PositionStatusActive, position.Status)
	assert.Equal(t, 60, position.ExpirationSeconds)
	assert.True(t, position.Stake.Equal(decimal.NewFromInt(100)))

	var snapshot models.Snapshot
	require.Equal(t, http.StatusOK, env.get(t, "/api/account", &snapshot))
	assert.True(t, snapshot.Stats.Balance.Equal(decimal.NewFromInt(9900)))
	assert.Equal(t, 1, snapshot.Stats.ActiveTrades)

	var got models.Position
	require.Equal(t, http.StatusOK, env.get(t, "/api/trades/"+position.ID, &got))
	assert.Equal(t, position.ID, got.ID)

	var list []models.Position
	require.Equal(t, http.StatusOK, env.get(t, "/api/trades", &list))
	assert.Len(t, list, 1)
}

func TestPlaceTrade_Defaults(t *testing.T) {
	env := newTestEnv(t, Options{})

	var position models.Position
	require.Equal(t, http.StatusCreated, env.post(t, `{"asset_id":"EUR/USD","direction":"down"}`, &position))
	assert.True(t, position.Stake.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 30, position.ExpirationSeconds)
}

func TestPlaceTrade_Errors(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"asset_id":`, http.StatusBadRequest},
		{"zero stake", `{"asset_id":"BTC/USD","direction":"up","stake":0}`, http.StatusUnprocessableEntity},
		{"negative stake", `{"asset_id":"BTC/USD","direction":"up","stake":-5}`, http.StatusUnprocessableEntity},
		{"stake above balance", `{"asset_id":"BTC/USD","direction":"up","stake":10000.01}`, http.StatusUnprocessableEntity},
		{"unknown asset", `{"asset_id":"DOGE","direction":"up","stake":10}`, http.StatusUnprocessableEntity},
		{"bad direction", `{"asset_id":"BTC/USD","direction":"flat","stake":10}`, http.StatusUnprocessableEntity},
		{"bad expiration", `{"asset_id":"BTC/USD","direction":"up","stake":10,"expiration_seconds":45}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			assert.Equal(t, tt.want, env.post(t, tt.body, &body))
			assert.NotEmpty(t, body["error"])
		})
	}

	assert.Empty(t, env.session.Positions())
	assert.True(t, env.session.Balance().Equal(decimal.NewFromInt(10000)))
}

func TestGetTrade_NotFound(t *testing.T) {
	env := newTestEnv(t, Options{})
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/trades/missing", nil))
}

func TestPlaceTrade_RateLimited(t *testing.T) {
	env := newTestEnv(t, Options{TradeRateLimit: 0.001, TradeBurst: 1})

	body := `{"asset_id":"BTC/USD","direction":"up","stake":10}`
	assert.Equal(t, http.StatusCreated, env.post(t, body, nil))
	assert.Equal(t, http.StatusTooManyRequests, env.post(t, body, nil))

	// reads are not limited
	assert.Equal(t, http.StatusOK, env.get(t, "/api/trades", nil))
}

func TestExportTrades(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.Equal(t, http.StatusCreated, env.post(t, `{"asset_id":"BTC/USD","direction":"up","stake":25}`, nil))

	resp, err := http.Get(env.http.URL + "/api/trades/export")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,asset,direction,stake"))
	assert.Contains(t, lines[1], "BTC/USD")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, Options{})

	req, err := http.NewRequest(http.MethodOptions, env.http.URL+"/api/trades", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv(t, Options{})

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Envelope
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, MessageTypeSnapshot, first.Type)

	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(first.Payload, &snapshot))
	assert.True(t, snapshot.Stats.Balance.Equal(decimal.NewFromInt(10000)))

	pt := env.session.Tick()

	for {
		var msg Envelope
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != string(events.PriceTick) {
			continue
		}
		var got models.PricePoint
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		if got.Price == pt.Price {
			break
		}
	}
}

func presetAmounts(terms models.Terms) []string {
	out := make([]string, 0, len(terms.StakePresets))
	for _, p := range terms.StakePresets {
		out = append(out, p.Amount.String())
	}
	return out
}

func TestTerms(t *testing.T) {
	env := newTestEnv(t, Options{})

	t.Run("defaults", func(t *testing.T) {
		var terms models.Terms
		require.Equal(t, http.StatusOK, env.get(t, "/api/terms", &terms))

		assert.True(t, terms.DefaultStake.Equal(decimal.NewFromInt(100)))
		assert.True(t, terms.ProfitRatePercent.Equal(decimal.NewFromInt(85)))
		require.Len(t, terms.StakePresets, 4)
		assert.Equal(t, []int{10, 25, 50, 100}, []int{
			terms.StakePresets[0].Percent,
			terms.StakePresets[1].Percent,
			terms.StakePresets[2].Percent,
			terms.StakePresets[3].Percent,
		})
		assert.Equal(t, []string{"1000", "2500", "5000", "10000"}, presetAmounts(terms))
	})

	t.Run("presets follow the balance after a placement", func(t *testing.T) {
		require.Equal(t, http.StatusCreated, env.post(t, `{"asset_id":"BTC/USD","direction":"up","stake":33}`, nil))

		var terms models.Terms
		require.Equal(t, http.StatusOK, env.get(t, "/api/terms", &terms))

		// balance 9967, each share rounded down
		assert.Equal(t, []string{"996", "2491", "4983", "9967"}, presetAmounts(terms))
		assert.True(t, terms.DefaultStake.Equal(decimal.NewFromInt(100)))
	})
}

func TestStart_ListenFailureDetachesHub(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	session, bus, logger := newTestSession(t)
	server, err := NewServer(session, bus, logger, Options{
		Port:           ln.Addr().(*net.TCPAddr).Port,
		TradeRateLimit: 1,
		TradeBurst:     1,
	})
	require.NoError(t, err)
	require.True(t, bus.HasSubscribers(events.PriceTick))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.Error(t, server.Start(ctx))
	assert.False(t, bus.HasSubscribers(events.PriceTick))
	assert.False(t, bus.HasSubscribers(events.PositionPlaced))
	// the session's own resolution handler stays
	assert.True(t, bus.HasSubscribers(events.PositionResolved))
}

func TestStart_ShutdownDetachesHub(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	session, bus, logger := newTestSession(t)
	server, err := NewServer(session, bus, logger, Options{Port: port, TradeRateLimit: 1, TradeBurst: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, bus.HasSubscribers(events.PriceTick))
}
