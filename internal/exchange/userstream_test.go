package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"surgetrader/pkg/utils"
)

func TestParseUserEvent(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		wantOK bool
		want   EventType
	}{
		{
			"entry filled",
			`{"e":"ORDER_TRADE_UPDATE","E":1700000000000,"o":{"s":"SOLUSDT","c":"st_entry","i":42,"x":"TRADE","X":"FILLED","ot":"LIMIT","ap":"100.5","rp":"0"}}`,
			true, EventOrderFilled,
		},
		{
			"take profit triggered",
			`{"e":"ORDER_TRADE_UPDATE","E":1700000000000,"o":{"s":"SOLUSDT","i":43,"x":"TRADE","X":"FILLED","ot":"TAKE_PROFIT_MARKET","ap":"67","rp":"4.6"}}`,
			true, EventAlgoTriggered,
		},
		{
			"stop loss triggered",
			`{"e":"ORDER_TRADE_UPDATE","o":{"s":"SOLUSDT","i":44,"X":"FILLED","ot":"STOP_MARKET"}}`,
			true, EventAlgoTriggered,
		},
		{
			"canceled",
			`{"e":"ORDER_TRADE_UPDATE","o":{"s":"SOLUSDT","i":45,"x":"CANCELED","X":"CANCELED","ot":"LIMIT"}}`,
			true, EventOrderCanceled,
		},
		{
			"new order ignored",
			`{"e":"ORDER_TRADE_UPDATE","o":{"s":"SOLUSDT","i":46,"x":"NEW","X":"NEW","ot":"LIMIT"}}`,
			false, "",
		},
		{"account update", `{"e":"ACCOUNT_UPDATE","E":1}`, true, EventAccountUpdate},
		{"listen key expired", `{"e":"listenKeyExpired","E":1}`, true, EventListenKeyExpired},
		{"unknown", `{"e":"MARGIN_CALL"}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := ParseUserEvent([]byte(tt.msg))
			if err != nil {
				t.Fatalf("ParseUserEvent: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && ev.Type != tt.want {
				t.Errorf("type = %s, want %s", ev.Type, tt.want)
			}
		})
	}

	ev, _, _ := ParseUserEvent([]byte(tests[1].msg))
	if ev.Symbol != "SOLUSDT" || ev.OrderID != 43 || ev.AvgPrice != 67 || ev.RealizedPnL != 4.6 {
		t.Errorf("fields = %+v", ev)
	}

	if _, _, err := ParseUserEvent([]byte("not json")); err == nil {
		t.Error("expected decode error")
	}
}

// fakeListenKeys счётчики вызовов listen key API
type fakeListenKeys struct {
	created   int32
	keepalive int32
	closed    int32
}

func (f *fakeListenKeys) CreateListenKey(ctx context.Context) (string, error) {
	n := atomic.AddInt32(&f.created, 1)
	return "key" + string(rune('0'+n)), nil
}

func (f *fakeListenKeys) KeepaliveListenKey(ctx context.Context) error {
	atomic.AddInt32(&f.keepalive, 1)
	return nil
}

func (f *fakeListenKeys) CloseListenKey(ctx context.Context) error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

// Каждое подключение получает одно событие и разрывается сервером
func TestUserStream_DeliversAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	paths := make([]string, 0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := `{"e":"ORDER_TRADE_UPDATE","E":1700000000000,"o":{"s":"SOLUSDT","i":42,"X":"FILLED","ot":"LIMIT"}}`
		conn.WriteMessage(websocket.TextMessage, []byte(msg))
		time.Sleep(20 * time.Millisecond)
	}))
	defer srv.Close()

	keys := &fakeListenKeys{}
	cfg := UserStreamConfig{
		WSBaseURL:         "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/",
		KeepaliveInterval: time.Hour,
		WS: WSReconnectConfig{
			ReconnectDelay: 5 * time.Second,
			MaxLifetime:    time.Hour,
			ConnectTimeout: time.Second,
			ReadTimeout:    time.Second,
		},
	}
	stream := NewUserStream(keys, cfg, utils.NewNopLogger())

	var delays []time.Duration
	var delayMu sync.Mutex
	stream.manager.sleep = func(ctx context.Context, d time.Duration) error {
		delayMu.Lock()
		delays = append(delays, d)
		delayMu.Unlock()
		return ctx.Err()
	}
	var reconnects int32
	stream.SetOnReconnect(func() { atomic.AddInt32(&reconnects, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case ev := <-stream.Events():
			if ev.Type != EventOrderFilled || ev.OrderID != 42 {
				t.Errorf("event = %+v", ev)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop")
	}

	if atomic.LoadInt32(&keys.created) < 2 {
		t.Errorf("expected a fresh listen key per connection, got %d", keys.created)
	}
	if atomic.LoadInt32(&keys.closed) != 1 {
		t.Errorf("listen key should be closed on shutdown, got %d", keys.closed)
	}
	if atomic.LoadInt32(&reconnects) < 1 {
		t.Error("disconnect callback not fired")
	}

	delayMu.Lock()
	defer delayMu.Unlock()
	for _, d := range delays {
		if d != 5*time.Second {
			t.Errorf("reconnect delay = %v, want fixed 5s", d)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) < 2 || paths[0] != "/ws/key1" || paths[1] != "/ws/key2" {
		t.Errorf("connection paths = %v", paths)
	}
}

// Ротация по MaxLifetime переподключает без паузы
func TestWSReconnectManager_LifetimeRotation(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := NewWSReconnectManager("test", func(ctx context.Context) (string, error) {
		return wsURL, nil
	}, WSReconnectConfig{
		ReconnectDelay: time.Hour,
		MaxLifetime:    50 * time.Millisecond,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	}, utils.NewNopLogger())

	var slept int32
	m.sleep = func(ctx context.Context, d time.Duration) error {
		atomic.AddInt32(&slept, 1)
		return ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if m.Rotations() < 2 {
		t.Errorf("expected several rotations, got %d", m.Rotations())
	}
	if atomic.LoadInt32(&slept) != 0 {
		t.Error("lifetime rotation must not wait for the reconnect delay")
	}
	if m.GetState() != WSStateClosed {
		t.Errorf("state = %s, want closed", m.GetState())
	}
}
