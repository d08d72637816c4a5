package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"surgetrader/internal/models"
)

func protectedPosition(symbol string) models.TrackedPosition {
	return models.TrackedPosition{
		Symbol:     symbol,
		Side:       "SHORT",
		EntryPrice: 100,
		FilledQty:  0.14,
		State:      models.StateProtected,
	}
}

// ============ PositionHandler Tests ============

func TestPositionHandler_GetPositions(t *testing.T) {
	t.Run("returns tracked positions", func(t *testing.T) {
		handler := NewPositionHandler(NewMockPositionService(protectedPosition("BTCUSDT")))

		req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
		w := httptest.NewRecorder()
		handler.GetPositions(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var got []models.TrackedPosition
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(got) != 1 || got[0].Symbol != "BTCUSDT" || got[0].State != models.StateProtected {
			t.Errorf("unexpected positions: %+v", got)
		}
	})

	t.Run("empty list is [] not null", func(t *testing.T) {
		handler := NewPositionHandler(NewMockPositionService())

		req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
		w := httptest.NewRecorder()
		handler.GetPositions(w, req)

		if body := strings.TrimSpace(w.Body.String()); body != "[]" {
			t.Errorf("expected [], got %s", body)
		}
	})
}

func TestPositionHandler_GetPosition(t *testing.T) {
	handler := NewPositionHandler(NewMockPositionService(protectedPosition("BTCUSDT")))
	router := mux.NewRouter()
	router.HandleFunc("/api/positions/{symbol}", handler.GetPosition)

	tests := []struct {
		path string
		want int
	}{
		{"/api/positions/btc-usdt", http.StatusOK},
		{"/api/positions/ETHUSDT", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s: expected status %d, got %d", tt.path, tt.want, w.Code)
		}
	}
}

func TestPositionHandler_ClosePosition(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		closeErr error
		want     int
	}{
		{"closes tracked position", "BTCUSDT", nil, http.StatusOK},
		{"not tracked", "ETHUSDT", nil, http.StatusNotFound},
		{"exchange failure", "BTCUSDT", errors.New("forced close failed: margin"), http.StatusBadGateway},
		{"invalid symbol", "B$", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewMockPositionService(protectedPosition("BTCUSDT"))
			svc.closeErr = tt.closeErr
			handler := NewPositionHandler(svc)

			router := mux.NewRouter()
			router.HandleFunc("/api/positions/{symbol}/close", handler.ClosePosition).Methods(http.MethodPost)

			req := httptest.NewRequest(http.MethodPost, "/api/positions/"+tt.symbol+"/close", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.want == http.StatusOK && len(svc.closed) != 1 {
				t.Errorf("ForceClose not called: %v", svc.closed)
			}
		})
	}
}

// ============ SignalHandler Tests ============

func TestSignalHandler_SubmitSignal(t *testing.T) {
	t.Run("passes signal to trader", func(t *testing.T) {
		trader := &MockTrader{decision: models.DecisionAccepted}
		handler := NewSignalHandler(trader, nil)

		body := `{"symbol":"SOLUSDT","ratio":12.5,"price":101.2}`
		req := httptest.NewRequest(http.MethodPost, "/api/signals", strings.NewReader(body))
		w := httptest.NewRecorder()
		handler.SubmitSignal(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var ev models.SignalEvent
		if err := json.NewDecoder(w.Body).Decode(&ev); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if ev.Decision != models.DecisionAccepted || ev.Symbol != "SOLUSDT" {
			t.Errorf("unexpected event: %+v", ev)
		}
		if len(trader.signals) != 1 || trader.signals[0].Source != "api" {
			t.Errorf("signal not forwarded with source api: %+v", trader.signals)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		handler := NewSignalHandler(&MockTrader{}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/signals", strings.NewReader(`{`))
		w := httptest.NewRecorder()
		handler.SubmitSignal(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("invalid signal", func(t *testing.T) {
		handler := NewSignalHandler(&MockTrader{}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/signals", strings.NewReader(`{"symbol":"SOLUSDT","price":0}`))
		w := httptest.NewRecorder()
		handler.SubmitSignal(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestSignalHandler_GetSignals(t *testing.T) {
	t.Run("no store", func(t *testing.T) {
		handler := NewSignalHandler(&MockTrader{}, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/signals", nil)
		w := httptest.NewRecorder()
		handler.GetSignals(w, req)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
		}
	})

	t.Run("limit is capped", func(t *testing.T) {
		history := &MockSignalHistory{events: []*models.SignalEvent{{Symbol: "SOLUSDT"}}}
		handler := NewSignalHandler(&MockTrader{}, history)
		req := httptest.NewRequest(http.MethodGet, "/api/signals?limit=10000", nil)
		w := httptest.NewRecorder()
		handler.GetSignals(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if history.limit != 500 {
			t.Errorf("limit = %d, want 500", history.limit)
		}
	})

	t.Run("store error", func(t *testing.T) {
		handler := NewSignalHandler(&MockTrader{}, &MockSignalHistory{err: ErrMockDatabase})
		req := httptest.NewRequest(http.MethodGet, "/api/signals", nil)
		w := httptest.NewRecorder()
		handler.GetSignals(w, req)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

// ============ StatsHandler Tests ============

func TestStatsHandler_GetSummary(t *testing.T) {
	t.Run("returns summary", func(t *testing.T) {
		trader := &MockTrader{summary: models.DailySummary{Balance: 1000, RealizedPnl: -12.5, OpenPositions: 2, EntriesToday: 3}}
		handler := NewStatsHandler(trader, nil)
		handler.now = func() time.Time { return time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC) }

		req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
		w := httptest.NewRecorder()
		handler.GetSummary(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var got models.DailySummary
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.Balance != 1000 || got.RealizedPnl != -12.5 || got.EntriesToday != 3 {
			t.Errorf("unexpected summary: %+v", got)
		}
	})

	t.Run("exchange error", func(t *testing.T) {
		handler := NewStatsHandler(&MockTrader{summaryErr: errors.New("balance: timeout")}, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
		w := httptest.NewRecorder()
		handler.GetSummary(w, req)
		if w.Code != http.StatusBadGateway {
			t.Errorf("expected status %d, got %d", http.StatusBadGateway, w.Code)
		}
	})
}

func TestStatsHandler_GetTrades(t *testing.T) {
	history := &MockTradeHistory{}
	handler := NewStatsHandler(&MockTrader{}, history)

	req := httptest.NewRequest(http.MethodGet, "/api/trades?limit=5", nil)
	w := httptest.NewRecorder()
	handler.GetTrades(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("expected [], got %s", body)
	}
	if history.limit != 5 {
		t.Errorf("limit = %d, want 5", history.limit)
	}
}

// ============ HealthHandler Tests ============

func TestHealthHandler(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthHandler(nil).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
	})

	t.Run("failing check degrades", func(t *testing.T) {
		handler := NewHealthHandler(map[string]HealthCheck{
			"exchange": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
		})
		w := httptest.NewRecorder()
		handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
		}
		var resp healthResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Status != "degraded" || resp.Checks["exchange"] != "ok" || resp.Checks["redis"] != "connection refused" {
			t.Errorf("unexpected response: %+v", resp)
		}
	})
}
