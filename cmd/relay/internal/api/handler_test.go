package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/api"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/gateway"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/hub"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/market"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/metrics"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/repository"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/testutils"
)

type env struct {
	router   *gin.Engine
	store    *testutils.MockUserStore
	registry *hub.Registry
	manager  *gateway.Manager
	sim      *market.Simulator
}

func setup(t *testing.T, users ...repository.User) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	store := testutils.NewMockUserStore(users...)
	reg := hub.NewRegistry(logger)
	m := metrics.New()
	manager := gateway.NewManager(store, reg, m, logger)

	seeds := map[market.Symbol]float64{}
	for i, sym := range market.Supported() {
		seeds[sym] = 100 + float64(i)
	}
	sim := market.NewSimulatorWithSeeds(logger, &testutils.MockRand{ValFloat: 0.5}, seeds)

	static := t.TempDir()
	if err := os.WriteFile(filepath.Join(static, "login.html"), []byte("<h1>login</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(static, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := api.NewHandler(store, manager, sim, &testutils.MockRand{ValInt: 0}, logger)
	router := api.NewRouter(h, api.RouterDeps{Metrics: m.Handler(), StaticDir: static}, logger)
	return &env{router: router, store: store, registry: reg, manager: manager, sim: sim}
}

func (e *env) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

var erin = repository.User{Email: "erin@example.com", Token: "tokenerin", SubscribedStocks: []string{"GOOG"}}

func TestRegisterAndLogin(t *testing.T) {
	e := setup(t)

	code, body := e.do(t, http.MethodPost, "/api/register", api.EmailRequest{Email: "new@example.com"})
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("register: %d %v", code, body)
	}
	token, _ := body["token"].(string)
	if !strings.HasPrefix(token, "token") {
		t.Errorf("unexpected token %q", token)
	}
	if diff := cmp.Diff([]interface{}{}, body["subscribedStocks"]); diff != "" {
		t.Errorf("subscribedStocks mismatch (-want +got):\n%s", diff)
	}

	code, body = e.do(t, http.MethodPost, "/api/register", api.EmailRequest{Email: "new@example.com"})
	if code != http.StatusConflict || body["message"] != "User already exists." {
		t.Errorf("duplicate register: %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, "/api/login", api.EmailRequest{Email: "new@example.com"})
	if code != http.StatusOK || body["token"] != token {
		t.Errorf("login: %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, "/api/login", api.EmailRequest{Email: "ghost@example.com"})
	if code != http.StatusNotFound || body["message"] != "User not found. Please register." {
		t.Errorf("unknown login: %d %v", code, body)
	}
}

func TestRegister_Validation(t *testing.T) {
	e := setup(t)

	code, _ := e.do(t, http.MethodPost, "/api/register", api.EmailRequest{Email: "  "})
	if code != http.StatusBadRequest {
		t.Errorf("empty email: got %d", code)
	}

	e.store.FailWrites = true
	code, _ = e.do(t, http.MethodPost, "/api/register", api.EmailRequest{Email: "x@example.com"})
	if code != http.StatusInternalServerError {
		t.Errorf("store failure: got %d", code)
	}
}

func TestSubscribe(t *testing.T) {
	tests := []struct {
		name       string
		req        api.TickerRequest
		wantStatus int
		wantMsg    string
	}{
		{name: "ok", req: api.TickerRequest{Token: "tokenerin", Ticker: "TSLA"}, wantStatus: http.StatusOK, wantMsg: "TSLA subscribed."},
		{name: "already subscribed", req: api.TickerRequest{Token: "tokenerin", Ticker: "GOOG"}, wantStatus: http.StatusOK, wantMsg: "GOOG subscribed."},
		{name: "unknown token", req: api.TickerRequest{Token: "tokenx", Ticker: "TSLA"}, wantStatus: http.StatusUnauthorized, wantMsg: "Unauthorized"},
		{name: "unknown token and ticker", req: api.TickerRequest{Token: "tokenx", Ticker: "AAPL"}, wantStatus: http.StatusUnauthorized, wantMsg: "Unauthorized"},
		{name: "unsupported ticker", req: api.TickerRequest{Token: "tokenerin", Ticker: "AAPL"}, wantStatus: http.StatusBadRequest, wantMsg: "Unsupported stock ticker."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t, erin)
			code, body := e.do(t, http.MethodPost, "/api/subscribe", tt.req)
			if code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", code, tt.wantStatus, body)
			}
			if body["message"] != tt.wantMsg {
				t.Errorf("message = %v, want %q", body["message"], tt.wantMsg)
			}
		})
	}
}

func TestSubscribe_ReturnsPriceAndUpdatesLiveSession(t *testing.T) {
	e := setup(t, erin)
	client := testutils.NewMockClient("tab")
	if _, err := e.manager.Open(context.Background(), "tokenerin", client); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	_, body := e.do(t, http.MethodPost, "/api/subscribe", api.TickerRequest{Token: "tokenerin", Ticker: "NVDA"})

	want, _ := e.sim.Price(market.NVDA)
	if body["currentPrice"] != want {
		t.Errorf("currentPrice = %v, want %v", body["currentPrice"], want)
	}

	syms, _ := e.registry.Symbols("tab")
	if diff := cmp.Diff([]market.Symbol{market.GOOG, market.NVDA}, syms); diff != "" {
		t.Errorf("live set mismatch (-want +got):\n%s", diff)
	}
	persisted, _ := e.store.Subscriptions(context.Background(), erin.Email)
	if diff := cmp.Diff([]string{"GOOG", "NVDA"}, persisted); diff != "" {
		t.Errorf("persisted mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribe_PriceLookupFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	store := testutils.NewMockUserStore(erin)
	manager := gateway.NewManager(store, hub.NewRegistry(logger), metrics.New(), logger)
	quotes := &testutils.MockQuotes{Prices: map[market.Symbol]float64{market.GOOG: 101.5}}

	h := api.NewHandler(store, manager, quotes, &testutils.MockRand{}, logger)
	router := api.NewRouter(h, api.RouterDeps{}, logger)

	b, _ := json.Marshal(api.TickerRequest{Token: "tokenerin", Ticker: "TSLA"})
	req := httptest.NewRequest(http.MethodPost, "/api/subscribe", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 (%s)", w.Code, w.Body.String())
	}
	// The subscription itself was saved before the price lookup.
	persisted, _ := store.Subscriptions(context.Background(), erin.Email)
	if diff := cmp.Diff([]string{"GOOG", "TSLA"}, persisted); diff != "" {
		t.Errorf("persisted mismatch (-want +got):\n%s", diff)
	}
}

func TestUnsubscribe(t *testing.T) {
	tests := []struct {
		name       string
		req        api.TickerRequest
		wantStatus int
		wantMsg    string
	}{
		{name: "ok", req: api.TickerRequest{Token: "tokenerin", Ticker: "GOOG"}, wantStatus: http.StatusOK, wantMsg: "GOOG unsubscribed."},
		{name: "not in list", req: api.TickerRequest{Token: "tokenerin", Ticker: "META"}, wantStatus: http.StatusNotFound, wantMsg: "Ticker not found in subscription list."},
		{name: "unsupported ticker", req: api.TickerRequest{Token: "tokenerin", Ticker: "AAPL"}, wantStatus: http.StatusNotFound, wantMsg: "Ticker not found in subscription list."},
		{name: "unknown token", req: api.TickerRequest{Token: "tokenx", Ticker: "GOOG"}, wantStatus: http.StatusUnauthorized, wantMsg: "Unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t, erin)
			code, body := e.do(t, http.MethodPost, "/api/unsubscribe", tt.req)
			if code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", code, tt.wantStatus, body)
			}
			if body["message"] != tt.wantMsg {
				t.Errorf("message = %v, want %q", body["message"], tt.wantMsg)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	e := setup(t)

	code, body := e.do(t, http.MethodGet, "/api/history/goog", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	hist, _ := body["history"].([]interface{})
	if len(hist) != market.HistoryLength || hist[0] != 100.0 || hist[len(hist)-1] != 100.0 {
		t.Errorf("history = %v, want %d seed prices", hist, market.HistoryLength)
	}

	code, body = e.do(t, http.MethodGet, "/api/history/AAPL", nil)
	if code != http.StatusNotFound || body["message"] != "Ticker history not found." {
		t.Errorf("unknown ticker: %d %v", code, body)
	}
}

func TestRecommendations(t *testing.T) {
	all := repository.User{Email: "all@example.com", Token: "tokenall", SubscribedStocks: []string{"GOOG", "TSLA", "AMZN", "META", "NVDA"}}
	e := setup(t, erin, all)

	_, body := e.do(t, http.MethodGet, "/api/recommendations?token=tokenerin", nil)
	recs, _ := body["recommendations"].([]interface{})
	if len(recs) != 1 {
		t.Fatalf("Expected one recommendation, got %v", body)
	}
	rec := recs[0].(map[string]interface{})
	// MockRand picks index 0 of the symbols erin does not follow.
	if rec["ticker"] != "TSLA" || rec["signalType"] != "BUY" {
		t.Errorf("unexpected recommendation %v", rec)
	}

	_, body = e.do(t, http.MethodGet, "/api/recommendations?token=tokenall", nil)
	if recs, _ := body["recommendations"].([]interface{}); len(recs) != 0 {
		t.Errorf("Expected no recommendations when subscribed to everything, got %v", recs)
	}
}

func TestHealthMetricsAndStatic(t *testing.T) {
	e := setup(t)

	code, body := e.do(t, http.MethodGet, "/api/health", nil)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health: %d %v", code, body)
	}

	for path, want := range map[string]string{
		"/":        "<h1>login</h1>",
		"/app.js":  "console.log(1)",
		"/metrics": "relay_active_connections",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), want) {
			t.Errorf("GET %s: %d %q", path, w.Code, w.Body.String())
		}
	}
}
