package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"surgetrader/pkg/utils"
)

// EventType тип события user data stream
type EventType string

const (
	EventOrderFilled      EventType = "order_filled"
	EventOrderCanceled    EventType = "order_canceled"
	EventAlgoTriggered    EventType = "algo_triggered"
	EventAccountUpdate    EventType = "account_update"
	EventListenKeyExpired EventType = "listen_key_expired"
)

// StreamEvent нормализованное событие аккаунта
//
// События только подсказка: получатель перепроверяет состояние на
// бирже и не меняет учёт по самому событию.
type StreamEvent struct {
	Type          EventType `json:"type"`
	Symbol        string    `json:"symbol,omitempty"`
	OrderID       int64     `json:"order_id,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	OrderType     string    `json:"order_type,omitempty"` // исходный тип (ot)
	Status        string    `json:"status,omitempty"`
	ExecType      string    `json:"exec_type,omitempty"`
	AvgPrice      float64   `json:"avg_price,omitempty"`
	RealizedPnL   float64   `json:"realized_pnl,omitempty"`
	Time          time.Time `json:"time"`
}

// ParseUserEvent разбирает сообщение потока
//
// ok=false для событий, которые не нужны движку (NEW, служебные).
func ParseUserEvent(msg []byte) (StreamEvent, bool, error) {
	var raw struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"`
		Order     struct {
			Symbol        string `json:"s"`
			ClientOrderID string `json:"c"`
			OrderID       int64  `json:"i"`
			ExecType      string `json:"x"`
			Status        string `json:"X"`
			OrigType      string `json:"ot"`
			AvgPrice      string `json:"ap"`
			RealizedPnL   string `json:"rp"`
		} `json:"o"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return StreamEvent{}, false, fmt.Errorf("decode stream event: %w", err)
	}

	ev := StreamEvent{Time: fromMillis(raw.EventTime)}

	switch raw.Event {
	case "ORDER_TRADE_UPDATE":
		o := raw.Order
		ev.Symbol = o.Symbol
		ev.OrderID = o.OrderID
		ev.ClientOrderID = o.ClientOrderID
		ev.OrderType = o.OrigType
		ev.Status = o.Status
		ev.ExecType = o.ExecType
		ev.AvgPrice = parseFloat(o.AvgPrice)
		ev.RealizedPnL = parseFloat(o.RealizedPnL)

		switch o.Status {
		case OrderStatusFilled, OrderStatusPartiallyFilled:
			if o.OrigType == AlgoTypeTakeProfit || o.OrigType == AlgoTypeStopLoss {
				ev.Type = EventAlgoTriggered
			} else {
				ev.Type = EventOrderFilled
			}
		case OrderStatusCanceled, OrderStatusExpired:
			ev.Type = EventOrderCanceled
		default:
			return ev, false, nil
		}
		return ev, true, nil

	case "ACCOUNT_UPDATE":
		ev.Type = EventAccountUpdate
		return ev, true, nil

	case "listenKeyExpired":
		ev.Type = EventListenKeyExpired
		return ev, true, nil
	}

	return ev, false, nil
}

// UserStreamConfig настройки потока
type UserStreamConfig struct {
	WSBaseURL         string
	KeepaliveInterval time.Duration // продление listen key (default 30m)
	Buffer            int           // ёмкость канала событий
	WS                WSReconnectConfig
}

// UserStream поток событий аккаунта с переподключением
type UserStream struct {
	api     ListenKeyAPI
	cfg     UserStreamConfig
	manager *WSReconnectManager
	events  chan StreamEvent
	log     *utils.Logger

	mu          sync.Mutex
	listenKey   string
	onReconnect func()
}

// NewUserStream создаёт поток
func NewUserStream(api ListenKeyAPI, cfg UserStreamConfig, logger *utils.Logger) *UserStream {
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = BinanceMainnetWS
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 30 * time.Minute
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.WS.ReconnectDelay <= 0 {
		cfg.WS = DefaultWSReconnectConfig()
	}
	if logger == nil {
		logger = utils.L()
	}

	s := &UserStream{
		api:    api,
		cfg:    cfg,
		events: make(chan StreamEvent, cfg.Buffer),
		log:    logger.WithComponent("user_stream"),
	}
	s.manager = NewWSReconnectManager("user_data", s.resolveURL, cfg.WS, logger)
	s.manager.SetOnMessage(s.handleMessage)
	s.manager.SetOnDisconnect(func(error) {
		s.mu.Lock()
		cb := s.onReconnect
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
	return s
}

// Events канал событий, закрывается после завершения Run
func (s *UserStream) Events() <-chan StreamEvent {
	return s.events
}

// SetOnReconnect callback на каждый разрыв (метрики)
func (s *UserStream) SetOnReconnect(cb func()) {
	s.mu.Lock()
	s.onReconnect = cb
	s.mu.Unlock()
}

// Connected соединение установлено
func (s *UserStream) Connected() bool {
	return s.manager.IsConnected()
}

// Run держит поток до отмены ctx
func (s *UserStream) Run(ctx context.Context) error {
	defer close(s.events)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepaliveLoop(ctx)
	}()

	err := s.manager.Run(ctx)
	wg.Wait()

	s.closeListenKey()
	return err
}

// resolveURL новый listen key на каждое подключение
func (s *UserStream) resolveURL(ctx context.Context) (string, error) {
	key, err := s.api.CreateListenKey(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.listenKey = key
	s.mu.Unlock()
	return s.cfg.WSBaseURL + key, nil
}

func (s *UserStream) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			hasKey := s.listenKey != ""
			s.mu.Unlock()
			if !hasKey {
				continue
			}
			if err := s.api.KeepaliveListenKey(ctx); err != nil {
				s.log.Warn("listen key keepalive failed", utils.Err(err))
				continue
			}
			s.log.Debug("listen key keepalive sent")
		}
	}
}

func (s *UserStream) closeListenKey() {
	s.mu.Lock()
	key := s.listenKey
	s.listenKey = ""
	s.mu.Unlock()
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.api.CloseListenKey(ctx); err != nil {
		s.log.Debug("close listen key failed", utils.Err(err))
	}
}

func (s *UserStream) handleMessage(msg []byte) {
	ev, ok, err := ParseUserEvent(msg)
	if err != nil {
		s.log.Warn("unparsable stream message", utils.Err(err))
		return
	}
	if !ok {
		return
	}

	if ev.Type == EventListenKeyExpired {
		s.log.Warn("listen key expired, reconnecting")
		s.manager.Reconnect()
	}

	s.log.Debug("stream event",
		utils.String("type", string(ev.Type)),
		utils.Symbol(ev.Symbol),
		utils.OrderID(ev.OrderID),
		utils.String("status", ev.Status))

	select {
	case s.events <- ev:
	default:
		// Получатель только запускает сверку, потеря события не меняет учёт
		s.log.Warn("stream event buffer full, dropping", utils.Symbol(ev.Symbol))
	}
}
