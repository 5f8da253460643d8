package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/efreitasn/singlebook/internal/auth"
	"github.com/efreitasn/singlebook/internal/domain"
	"github.com/efreitasn/singlebook/internal/engine"
	"github.com/efreitasn/singlebook/internal/events"
	"github.com/efreitasn/singlebook/internal/metrics"
	"github.com/efreitasn/singlebook/internal/service"
	"github.com/efreitasn/singlebook/internal/store"
	"github.com/efreitasn/singlebook/internal/stream"
)

var googl = domain.Instrument{ID: 1, Ticker: "GOOGL", ReferencePrice: 130, CirculatingQuantity: 1000}

// testEnv bundles all dependencies for handler integration tests.
type testEnv struct {
	router  http.Handler
	hub     *stream.Hub
	catalog *store.MemoryCatalog
}

// newTestEnv wires an exchange with three funded accounts:
// 1 holds 10 GOOGL and 50000, 2 holds 50000, 3 holds nothing.
// Account 9 has a token but no account record.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	registry := domain.NewInstrumentRegistry()
	registry.Register(googl)

	catalog := store.NewMemoryCatalog(registry)
	require.NoError(t, catalog.AddAccount(domain.NewAccount(1, 50000, map[domain.InstrumentID]uint64{googl.ID: 10})))
	require.NoError(t, catalog.AddAccount(domain.NewAccount(2, 50000, nil)))
	require.NoError(t, catalog.AddAccount(domain.NewAccount(3, 0, nil)))

	authz := auth.NewTokenAuthorizer(bcrypt.MinCost)
	for acct, token := range map[domain.AccountID]string{1: "t1", 2: "t2", 3: "t3", 9: "t9"} {
		require.NoError(t, authz.Add(acct, token))
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := stream.NewHub(logger)
	go func() { _ = hub.Run(ctx) }()

	m := metrics.New()
	ex := service.NewExchange(service.Deps{
		Matcher:    engine.NewMatcher(engine.NewBook(googl), logger),
		Catalog:    catalog,
		Authorizer: authz,
		Trades:     store.NewTradeStore(100),
		Intents:    store.NewIntentStore(),
		Publisher:  events.NewLogPublisher(logger),
		Depth:      NewDepthStream(hub),
		Metrics:    m,
		Logger:     logger,
		Limits:     domain.Limits{MaxPrice: 1_000_000, MaxQuantity: 1_000_000},
	})
	go func() { _ = ex.Run(ctx) }()

	router := NewRouter(RouterDeps{
		Exchange: ex,
		Stream:   hub.ServeWS,
		Metrics:  m.Handler(),
		Logger:   logger,
	})

	return &testEnv{router: router, hub: hub, catalog: catalog}
}

// do sends a request with an optional JSON body and bearer token.
func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// doRaw sends a raw request with optional content-type override.
func (env *testEnv) doRaw(t *testing.T, method, path, contentType, rawBody string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(rawBody))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer t1")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rr.Body.String())
	}
}

func order(acct uint32, side string, price, qty uint64) submitOrderRequest {
	return submitOrderRequest{InstrumentID: uint32(googl.ID), AccountID: acct, Side: side, Price: price, Qty: qty}
}

// submit posts an order that must be accepted.
func (env *testEnv) submit(t *testing.T, token string, req submitOrderRequest) submitOrderResponse {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/order", token, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp submitOrderResponse
	decodeJSON(t, rr, &resp)
	return resp
}

// --- Healthz ---

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	assert.Equal(t, "ok", resp["status"])
}

// --- POST /order ---

func TestSubmitOrder_Rests(t *testing.T) {
	env := newTestEnv(t)

	resp := env.submit(t, "t1", order(1, "sell", 130, 5))

	assert.NotEmpty(t, resp.IntentID)
	assert.True(t, resp.Rested)
	assert.Equal(t, uint64(0), resp.FilledQty)
	assert.Equal(t, uint64(5), resp.RemainingQty)
	assert.NotNil(t, resp.Trades)
	assert.Empty(t, resp.Trades)
}

func TestSubmitOrder_CrossesAtRestingPrice(t *testing.T) {
	env := newTestEnv(t)

	ask := env.submit(t, "t1", order(1, "sell", 130, 5))
	resp := env.submit(t, "t2", order(2, "buy", 135, 3))

	assert.False(t, resp.Rested)
	assert.Equal(t, uint64(3), resp.FilledQty)
	assert.Equal(t, uint64(0), resp.RemainingQty)
	require.Len(t, resp.Trades, 1)

	tr := resp.Trades[0]
	assert.Equal(t, uint64(130), tr.Price)
	assert.Equal(t, uint64(3), tr.Qty)
	assert.Equal(t, uint32(2), tr.BuyerID)
	assert.Equal(t, uint32(1), tr.SellerID)
	assert.Equal(t, ask.IntentID, tr.SellIntentID)
	assert.Equal(t, resp.IntentID, tr.BuyIntentID)
	assert.Equal(t, "buy", tr.Aggressor)
	_, err := time.Parse(timeFormat, tr.ExecutedAt)
	assert.NoError(t, err)
}

func TestSubmitOrder_Errors(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		body       submitOrderRequest
		wantStatus int
		wantCode   string
	}{
		{"missing token", "", order(1, "sell", 130, 1), http.StatusUnauthorized, "unauthorized"},
		{"wrong token", "t2", order(1, "sell", 130, 1), http.StatusUnauthorized, "unauthorized"},
		{"invalid side", "t1", order(1, "hold", 130, 1), http.StatusBadRequest, "validation_error"},
		{"zero price", "t1", order(1, "sell", 0, 1), http.StatusBadRequest, "invalid_price"},
		{"price above max", "t1", order(1, "sell", 1_000_001, 1), http.StatusBadRequest, "invalid_price"},
		{"zero quantity", "t1", order(1, "sell", 130, 0), http.StatusBadRequest, "invalid_quantity"},
		{"unknown instrument", "t1", submitOrderRequest{InstrumentID: 99, AccountID: 1, Side: "sell", Price: 130, Qty: 1}, http.StatusNotFound, "unknown_instrument"},
		{"unknown account", "t9", order(9, "buy", 130, 1), http.StatusNotFound, "unknown_account"},
		{"insufficient balance", "t3", order(3, "buy", 130, 1), http.StatusConflict, "insufficient_balance"},
		{"insufficient holdings", "t2", order(2, "sell", 130, 1), http.StatusConflict, "insufficient_holdings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := env.do(t, http.MethodPost, "/order", tt.token, tt.body)

			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			var resp errorResponse
			decodeJSON(t, rr, &resp)
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestWriteSubmitError_CarriesPartialFill(t *testing.T) {
	result := &service.SubmitResult{
		IntentID:  "in-1",
		Filled:    3,
		Remaining: 2,
		Trades: []domain.Trade{{
			ID: "tr-1", Instrument: 1, Buyer: 2, Seller: 1,
			BuyIntentID: "in-1", SellIntentID: "rest-1",
			Price: 130, Quantity: 3, Aggressor: domain.SideBuy,
			ExecutedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		}},
		Anomalies: []engine.Anomaly{{
			IntentID: "rest-0", Account: 3, Side: domain.SideSell, Price: 129, Quantity: 4,
			Err: domain.ErrInsufficientHoldings,
		}},
	}
	err := &engine.SettlementError{Party: engine.PartyBuyer, Account: 2, Err: domain.ErrInsufficientBalance}

	rr := httptest.NewRecorder()
	writeSubmitError(rr, result, err)

	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	var resp partialFillErrorResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, "insufficient_balance", resp.Error)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, "in-1", resp.IntentID)
	assert.Equal(t, uint64(3), resp.FilledQty)
	assert.Equal(t, uint64(2), resp.RemainingQty)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "tr-1", resp.Trades[0].TradeID)
	assert.Equal(t, uint64(3), resp.Trades[0].Qty)
	assert.Equal(t, "buy", resp.Trades[0].Aggressor)
	require.Len(t, resp.Anomalies, 1)
	assert.Equal(t, "rest-0", resp.Anomalies[0].IntentID)
	assert.Equal(t, "insufficient_holdings", resp.Anomalies[0].Reason)
}

func TestWriteSubmitError_WithoutResult(t *testing.T) {
	rr := httptest.NewRecorder()
	writeSubmitError(rr, nil, domain.ErrInsufficientBalance)

	require.Equal(t, http.StatusConflict, rr.Code)
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	assert.Equal(t, "insufficient_balance", resp["error"])
	assert.NotContains(t, resp, "filled_qty")
}

func TestSubmitOrder_BadRequests(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"missing content type", "", `{"side":"buy"}`},
		{"wrong content type", "text/plain", `{"side":"buy"}`},
		{"malformed json", "application/json", `{invalid}`},
		{"unknown field", "application/json", `{"side":"buy","type":"market"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := env.doRaw(t, http.MethodPost, "/order", tt.contentType, tt.body)

			require.Equal(t, http.StatusBadRequest, rr.Code)
			var resp errorResponse
			decodeJSON(t, rr, &resp)
			assert.Equal(t, "invalid_request", resp.Error)
		})
	}
}

// --- GET /order/{intent_id} ---

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t)

	ask := env.submit(t, "t1", order(1, "ask", 130, 5))
	env.submit(t, "t2", order(2, "bid", 130, 2))

	rr := env.do(t, http.MethodGet, "/order/"+ask.IntentID, "t1", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp intentResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, ask.IntentID, resp.IntentID)
	assert.Equal(t, "sell", resp.Side)
	assert.Equal(t, uint64(5), resp.Qty)
	assert.Equal(t, uint64(2), resp.FilledQty)
	assert.Equal(t, uint64(3), resp.RemainingQty)
	assert.Equal(t, "partially_filled", resp.Status)
	assert.Nil(t, resp.Reason)
}

func TestGetOrder_Errors(t *testing.T) {
	env := newTestEnv(t)
	ask := env.submit(t, "t1", order(1, "sell", 130, 5))

	rr := env.do(t, http.MethodGet, "/order/"+ask.IntentID, "t2", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodGet, "/order/does-not-exist", "t1", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	var resp errorResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, "unknown_intent", resp.Error)
}

// --- GET /depth ---

func TestDepth(t *testing.T) {
	env := newTestEnv(t)

	env.submit(t, "t1", order(1, "sell", 140, 2))
	env.submit(t, "t1", order(1, "sell", 135, 3))
	env.submit(t, "t2", order(2, "buy", 120, 4))
	env.submit(t, "t2", order(2, "buy", 125, 1))

	rr := env.do(t, http.MethodGet, "/depth", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp depthResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, uint32(1), resp.Instrument.ID)
	assert.Equal(t, "GOOGL", resp.Instrument.Ticker)

	bidPrices := make([]uint64, len(resp.Bids))
	for i, b := range resp.Bids {
		bidPrices[i] = b.Price
	}
	askPrices := make([]uint64, len(resp.Asks))
	for i, a := range resp.Asks {
		askPrices[i] = a.Price
	}
	assert.Equal(t, []uint64{125, 120}, bidPrices)
	assert.Equal(t, []uint64{140, 135}, askPrices)
	assert.Equal(t, uint32(2), resp.Bids[0].AccountID)
	assert.Equal(t, uint64(3), resp.Asks[1].Qty)

	_, err := time.Parse(timeFormat, resp.SnapshotAt)
	assert.NoError(t, err)
}

func TestDepth_Limit(t *testing.T) {
	env := newTestEnv(t)

	env.submit(t, "t1", order(1, "sell", 140, 1))
	env.submit(t, "t1", order(1, "sell", 135, 1))

	rr := env.do(t, http.MethodGet, "/depth?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp depthResponse
	decodeJSON(t, rr, &resp)
	require.Len(t, resp.Asks, 1)
	assert.Equal(t, uint64(135), resp.Asks[0].Price)
	assert.NotNil(t, resp.Bids)

	rr = env.do(t, http.MethodGet, "/depth?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// --- GET /trades ---

func TestTrades(t *testing.T) {
	env := newTestEnv(t)

	env.submit(t, "t1", order(1, "sell", 130, 5))
	env.submit(t, "t2", order(2, "buy", 130, 2))
	env.submit(t, "t2", order(2, "buy", 130, 1))

	rr := env.do(t, http.MethodGet, "/trades", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp tradesResponse
	decodeJSON(t, rr, &resp)
	require.Len(t, resp.Trades, 2)
	assert.Equal(t, uint64(2), resp.Trades[0].Qty)
	assert.Equal(t, uint64(1), resp.Trades[1].Qty)

	rr = env.do(t, http.MethodGet, "/trades?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeJSON(t, rr, &resp)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, uint64(1), resp.Trades[0].Qty)

	rr = env.do(t, http.MethodGet, "/trades?limit=5000", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// --- GET /balance/{account_id} ---

func TestBalance_AfterTrade(t *testing.T) {
	env := newTestEnv(t)

	env.submit(t, "t1", order(1, "sell", 130, 5))
	env.submit(t, "t2", order(2, "buy", 130, 3))

	rr := env.do(t, http.MethodGet, "/balance/2", "t2", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var buyer balanceResponse
	decodeJSON(t, rr, &buyer)
	assert.Equal(t, uint64(50000-390), buyer.Balance)
	assert.Equal(t, []holdingResponse{{InstrumentID: 1, Ticker: "GOOGL", Quantity: 3}}, buyer.Holdings)

	rr = env.do(t, http.MethodGet, "/balance/1", "t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var seller balanceResponse
	decodeJSON(t, rr, &seller)
	assert.Equal(t, uint64(50000+390), seller.Balance)
	assert.Equal(t, []holdingResponse{{InstrumentID: 1, Ticker: "GOOGL", Quantity: 7}}, seller.Holdings)
}

func TestBalance_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
	}{
		{"no token", "/balance/1", "", http.StatusUnauthorized},
		{"other account", "/balance/1", "t2", http.StatusUnauthorized},
		{"unknown account", "/balance/9", "t9", http.StatusNotFound},
		{"non numeric", "/balance/abc", "t1", http.StatusBadRequest},
		{"out of range", "/balance/4294967296", "t1", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, tt.path, tt.token, nil)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

// --- GET /accounts/{account_id}/orders ---

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)

	first := env.submit(t, "t1", order(1, "sell", 130, 2))
	second := env.submit(t, "t1", order(1, "sell", 140, 2))
	env.submit(t, "t2", order(2, "buy", 130, 2))

	rr := env.do(t, http.MethodGet, "/accounts/1/orders", "t1", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp listOrdersResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.Limit)
	require.Len(t, resp.Orders, 2)
	assert.Equal(t, second.IntentID, resp.Orders[0].IntentID)
	assert.Equal(t, first.IntentID, resp.Orders[1].IntentID)

	rr = env.do(t, http.MethodGet, "/accounts/1/orders?status=filled", "t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeJSON(t, rr, &resp)
	require.Len(t, resp.Orders, 1)
	assert.Equal(t, first.IntentID, resp.Orders[0].IntentID)
	assert.Equal(t, "filled", resp.Orders[0].Status)

	rr = env.do(t, http.MethodGet, "/accounts/1/orders?page=2&limit=1", "t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeJSON(t, rr, &resp)
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Orders, 1)
	assert.Equal(t, first.IntentID, resp.Orders[0].IntentID)
}

func TestListOrders_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
	}{
		{"unauthorized", "/accounts/1/orders", "t2", http.StatusUnauthorized},
		{"unknown account", "/accounts/9/orders", "t9", http.StatusNotFound},
		{"bad status", "/accounts/1/orders?status=open", "t1", http.StatusBadRequest},
		{"zero page", "/accounts/1/orders?page=0", "t1", http.StatusBadRequest},
		{"non numeric page", "/accounts/1/orders?page=x", "t1", http.StatusBadRequest},
		{"limit too large", "/accounts/1/orders?limit=101", "t1", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, tt.path, tt.token, nil)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

// --- Middleware and auxiliary routes ---

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/depth", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "t1", order(1, "sell", 130, 1))

	rr := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `exchange_intents_submitted_total{side="sell"} 1`)
	assert.Contains(t, string(body), `exchange_resting_intents{side="sell"} 1`)
}

func TestWebsocket_PushesDepth(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.submit(t, "t1", order(1, "sell", 130, 4))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg depthMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "depth", msg.Type)
	require.Len(t, msg.Depth.Asks, 1)
	assert.Equal(t, uint64(4), msg.Depth.Asks[0].Qty)
	assert.Empty(t, msg.Depth.Bids)
}
