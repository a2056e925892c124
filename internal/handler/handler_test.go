package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/donut-exchange/internal/agent"
	"github.com/nathanyu/donut-exchange/internal/domain"
	"github.com/nathanyu/donut-exchange/internal/engine"
	"github.com/nathanyu/donut-exchange/internal/ledger"
	"github.com/nathanyu/donut-exchange/internal/notify"
	"github.com/nathanyu/donut-exchange/internal/stats"
)

type fixture struct {
	router *gin.Engine
	engine *engine.Engine
	ledger *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.DiscardHandler)
	l := ledger.New()
	n := notify.New(logger)
	e := engine.New(l, n, logger)
	tracker := stats.New(nil, logger)
	n.Subscribe(tracker)
	restocker := agent.NewRestocker(e, l, logger, agent.DefaultRestockInterval)

	require.NoError(t, e.RegisterInstrument(domain.Instrument{InstrumentID: "glazed", Name: "Glazed"}))
	_, err := l.CreateOutlet("outlet-a", "Downtown", "Main St", 100_000)
	require.NoError(t, err)
	_, err = l.CreateOutlet("outlet-b", "Airport", "Terminal 2", 100_000)
	require.NoError(t, err)

	router := gin.New()
	New(e, l, tracker, restocker).RegisterRoutes(router)

	return &fixture{router: router, engine: e, ledger: l}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func orderBody(side string, qty, price int64, outlet string) gin.H {
	return gin.H{
		"side":           side,
		"instrument_id":  "glazed",
		"quantity":       qty,
		"price_per_unit": price,
		"outlet_id":      outlet,
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/order", orderBody("sell", 10, 200, "outlet-b"))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Order  domain.Order   `json:"order"`
		Trades []domain.Trade `json:"trades"`
	}
	decode(t, w, &resp)
	assert.Equal(t, domain.OrderStatusActive, resp.Order.Status)
	assert.Empty(t, resp.Trades)

	// A crossing buy returns the trade inline.
	w = f.do(t, http.MethodPost, "/v1/order", orderBody("buy", 10, 200, "outlet-a"))
	require.Equal(t, http.StatusCreated, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, domain.OrderStatusFilled, resp.Order.Status)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, int64(2000), resp.Trades[0].TotalAmount)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body gin.H
		code int
	}{
		{"missing fields", gin.H{"side": "buy"}, http.StatusBadRequest},
		{"bad side", orderBody("hold", 10, 200, "outlet-a"), http.StatusBadRequest},
		{"negative quantity", orderBody("buy", -1, 200, "outlet-a"), http.StatusBadRequest},
		{"unknown instrument", gin.H{"side": "buy", "instrument_id": "cronut", "quantity": int64(1), "price_per_unit": int64(100), "outlet_id": "outlet-a"}, http.StatusBadRequest},
		{"unknown outlet", orderBody("buy", 10, 200, "ghost"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/v1/order", tt.body)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestGetAndCancelOrder(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/order", orderBody("sell", 10, 200, "outlet-b"))
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Order domain.Order `json:"order"`
	}
	decode(t, w, &resp)
	id := resp.Order.OrderID

	w = f.do(t, http.MethodGet, "/v1/order/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, "/v1/order/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled domain.Order
	decode(t, w, &cancelled)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	// A cancelled order can no longer be cancelled but stays readable.
	w = f.do(t, http.MethodDelete, "/v1/order/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v1/order/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Order
	decode(t, w, &got)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)

	w = f.do(t, http.MethodGet, "/v1/order/never-existed", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOrderBookAndDepth(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/v1/order", orderBody("buy", 10, 190, "outlet-a"))
	f.do(t, http.MethodPost, "/v1/order", orderBody("sell", 8, 210, "outlet-b"))

	w := f.do(t, http.MethodGet, "/v1/orderbook?instrument_id=glazed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap domain.BookSnapshot
	decode(t, w, &snap)
	assert.Len(t, snap.Bids, 1)
	assert.Len(t, snap.Asks, 1)

	w = f.do(t, http.MethodGet, "/v1/orderbook/depth?instrument_id=glazed&depth=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var depth domain.MarketDepth
	decode(t, w, &depth)
	require.Len(t, depth.Bids, 1)
	assert.Equal(t, int64(190), depth.Bids[0].Price)

	w = f.do(t, http.MethodGet, "/v1/orderbook", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/v1/orderbook?instrument_id=cronut", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTicker(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/v1/order", orderBody("buy", 10, 190, "outlet-a"))

	w := f.do(t, http.MethodGet, "/v1/ticker?instrument_id=glazed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ticker domain.BestBidAsk
	decode(t, w, &ticker)
	assert.True(t, ticker.HasBid)
	assert.False(t, ticker.HasAsk)
	assert.Equal(t, int64(190), ticker.BidPrice)
}

func TestGetTrades(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/v1/order", orderBody("sell", 10, 200, "outlet-b"))
	f.do(t, http.MethodPost, "/v1/order", orderBody("buy", 10, 200, "outlet-a"))

	w := f.do(t, http.MethodGet, "/v1/trade?instrument_id=glazed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trades []domain.Trade
	decode(t, w, &trades)
	require.Len(t, trades, 1)
	assert.Equal(t, "outlet-a", trades[0].BuyerOutletID)
}

func TestOutletEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/outlet", gin.H{"outlet_id": "outlet-new", "outlet_name": "Harbor"})
	require.Equal(t, http.StatusCreated, w.Code)
	var outlet domain.Outlet
	decode(t, w, &outlet)
	assert.Equal(t, DefaultStartingBalance, outlet.Balance)

	// Duplicate ids conflict.
	w = f.do(t, http.MethodPost, "/v1/outlet", gin.H{"outlet_id": "outlet-new", "outlet_name": "Harbor"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Explicit balance, including zero, is honored.
	zero := int64(0)
	w = f.do(t, http.MethodPost, "/v1/outlet", gin.H{"outlet_id": "outlet-broke", "outlet_name": "Broke", "balance": zero})
	require.Equal(t, http.StatusCreated, w.Code)
	decode(t, w, &outlet)
	assert.Zero(t, outlet.Balance)

	w = f.do(t, http.MethodGet, "/v1/outlet/outlet-new/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance struct {
		Balance int64 `json:"balance"`
	}
	decode(t, w, &balance)
	assert.Equal(t, DefaultStartingBalance, balance.Balance)

	w = f.do(t, http.MethodGet, "/v1/outlet/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v1/outlet", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var outlets []domain.Outlet
	decode(t, w, &outlets)
	assert.Len(t, outlets, 4)
}

func TestInventoryReflectsTrades(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/v1/order", orderBody("sell", 10, 200, "outlet-b"))
	f.do(t, http.MethodPost, "/v1/order", orderBody("buy", 10, 200, "outlet-a"))

	w := f.do(t, http.MethodGet, "/v1/outlet/outlet-a/inventory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Inventory map[string]int64 `json:"inventory"`
	}
	decode(t, w, &resp)
	assert.Equal(t, int64(10), resp.Inventory["glazed"])
}

func TestInstrumentEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/instrument", gin.H{"instrument_id": "jelly", "name": "Jelly"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/v1/instrument", gin.H{"instrument_id": "jelly", "name": "Jelly"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/v1/instrument", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var instruments []domain.Instrument
	decode(t, w, &instruments)
	assert.Len(t, instruments, 2)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/v1/order", orderBody("sell", 10, 200, "outlet-b"))
	f.do(t, http.MethodPost, "/v1/order", orderBody("buy", 10, 200, "outlet-a"))

	w := f.do(t, http.MethodGet, "/v1/leaderboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []stats.Entry
	decode(t, w, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(10), entries[0].Volume)
}

func TestRestockConfigEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/agent/restock/outlet-a", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/v1/agent/restock/outlet-a", gin.H{"enabled": false})
	assert.Equal(t, http.StatusNotFound, w.Code, "toggling an outlet with no config")
}

func TestRestockToggle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.DiscardHandler)
	l := ledger.New()
	n := notify.New(logger)
	e := engine.New(l, n, logger)
	require.NoError(t, e.RegisterInstrument(domain.Instrument{InstrumentID: "glazed", Name: "Glazed"}))
	_, err := l.CreateOutlet("outlet-a", "Downtown", "", 100_000)
	require.NoError(t, err)

	restocker := agent.NewRestocker(e, l, logger, agent.DefaultRestockInterval)
	restocker.InitializeDefaults()

	router := gin.New()
	New(e, l, stats.New(nil, logger), restocker).RegisterRoutes(router)

	body, err := json.Marshal(gin.H{"enabled": false})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/agent/restock/outlet-a", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	cfg := restocker.GetConfig("outlet-a")
	require.NotNil(t, cfg)
	assert.False(t, cfg.Enabled)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/agent/restock/outlet-a", nil)
	getW := httptest.NewRecorder()
	router.ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)

	var got agent.Config
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &got))
	assert.False(t, got.Enabled)
	assert.Equal(t, "outlet-a", got.OutletID)
}
