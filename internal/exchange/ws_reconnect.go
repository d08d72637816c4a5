package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"surgetrader/pkg/retry"
	"surgetrader/pkg/utils"
)

// WSReconnectConfig конфигурация переподключения WebSocket
type WSReconnectConfig struct {
	// Фиксированная пауза перед переподключением после разрыва
	ReconnectDelay time.Duration
	// Плановое пересоздание соединения (биржа рвёт соединения старше 24h)
	MaxLifetime time.Duration
	// Максимальное количество подряд неудачных подключений (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Тишина дольше этого времени считается разрывом
	ReadTimeout time.Duration
}

// DefaultWSReconnectConfig конфигурация по умолчанию: 5s пауза, ротация 23h
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		ReconnectDelay: 5 * time.Second,
		MaxLifetime:    23 * time.Hour,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		ReadTimeout:    10 * time.Minute,
	}
}

// WSConnectionState состояние WebSocket соединения
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrMaxReconnects превышено число неудачных подключений подряд
var ErrMaxReconnects = errors.New("websocket: max reconnect attempts reached")

// URLFunc возвращает адрес для очередного подключения
//
// Вызывается перед каждым подключением: адрес user data stream
// содержит listen key, который может смениться.
type URLFunc func(ctx context.Context) (string, error)

// WSReconnectManager держит одно WebSocket соединение с переподключением
//
// Функции:
// - Переподключение после разрыва с фиксированной паузой
// - Плановая ротация соединения по MaxLifetime
// - Ping для проверки живости, read deadline на тишину
// - Callbacks: connect, disconnect, message
//
// Использование:
// 1. NewWSReconnectManager(name, urlFunc, config)
// 2. SetOnMessage / SetOnConnect / SetOnDisconnect
// 3. Run(ctx) в отдельной горутине, блокирует до отмены ctx
type WSReconnectManager struct {
	name    string
	urlFunc URLFunc
	config  WSReconnectConfig
	log     *utils.Logger

	state      int32 // atomic WSConnectionState
	retryCount int32 // atomic
	rotations  int64 // atomic

	sessionMu     sync.Mutex
	sessionCancel context.CancelFunc

	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)
	callbackMu   sync.RWMutex

	// sleep пауза перед переподключением (подменяется в тестах)
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWSReconnectManager создаёт менеджер переподключений
func NewWSReconnectManager(name string, urlFunc URLFunc, config WSReconnectConfig, logger *utils.Logger) *WSReconnectManager {
	if logger == nil {
		logger = utils.L()
	}
	return &WSReconnectManager{
		name:    name,
		urlFunc: urlFunc,
		config:  config,
		log:     logger.WithComponent("ws").With(utils.String("stream", name)),
		sleep:   retry.ContextSleep,
	}
}

// SetOnMessage устанавливает callback для входящих сообщений
func (m *WSReconnectManager) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnConnect устанавливает callback для события подключения
func (m *WSReconnectManager) SetOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

// SetOnDisconnect устанавливает callback для события отключения
func (m *WSReconnectManager) SetOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

// GetState возвращает текущее состояние соединения
func (m *WSReconnectManager) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == WSStateConnected
}

// GetRetryCount количество неудачных подключений подряд
func (m *WSReconnectManager) GetRetryCount() int {
	return int(atomic.LoadInt32(&m.retryCount))
}

// Rotations количество плановых пересозданий соединения
func (m *WSReconnectManager) Rotations() int64 {
	return atomic.LoadInt64(&m.rotations)
}

// Reconnect разрывает текущее соединение, Run подключится заново
func (m *WSReconnectManager) Reconnect() {
	m.sessionMu.Lock()
	cancel := m.sessionCancel
	m.sessionMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run держит соединение до отмены ctx
//
// Плановая ротация переподключается сразу, остальные разрывы - после
// ReconnectDelay. Возвращает ErrMaxReconnects при исчерпании MaxRetries.
func (m *WSReconnectManager) Run(ctx context.Context) error {
	defer atomic.StoreInt32(&m.state, int32(WSStateClosed))

	for {
		if ctx.Err() != nil {
			return nil
		}

		atomic.StoreInt32(&m.state, int32(WSStateConnecting))
		connected, rotated, err := m.session(ctx)

		if ctx.Err() != nil {
			return nil
		}

		m.fireDisconnect(err)

		if connected {
			atomic.StoreInt32(&m.retryCount, 0)
		}
		if rotated {
			atomic.AddInt64(&m.rotations, 1)
			m.log.Info("websocket lifetime reached, rotating connection")
			continue
		}

		retries := atomic.AddInt32(&m.retryCount, 1)
		if m.config.MaxRetries > 0 && int(retries) > m.config.MaxRetries {
			atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
			return fmt.Errorf("%w (%d)", ErrMaxReconnects, m.config.MaxRetries)
		}

		atomic.StoreInt32(&m.state, int32(WSStateReconnecting))
		m.log.Warn("websocket disconnected, reconnecting",
			utils.Err(err),
			utils.Attempt(int(retries)),
			utils.Float64("delay_s", m.config.ReconnectDelay.Seconds()))

		if err := m.sleep(ctx, m.config.ReconnectDelay); err != nil {
			return nil
		}
	}
}

// session одно соединение: подключение, чтение до разрыва или ротации
func (m *WSReconnectManager) session(ctx context.Context) (connected, rotated bool, err error) {
	wsURL, err := m.urlFunc(ctx)
	if err != nil {
		return false, false, fmt.Errorf("resolve url: %w", err)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	dialer := websocket.Dialer{HandshakeTimeout: m.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, wsURL, nil)
	dialCancel()
	if err != nil {
		return false, false, fmt.Errorf("dial error: %w", err)
	}

	var sessCtx context.Context
	var cancel context.CancelFunc
	if m.config.MaxLifetime > 0 {
		sessCtx, cancel = context.WithTimeout(ctx, m.config.MaxLifetime)
	} else {
		sessCtx, cancel = context.WithCancel(ctx)
	}
	m.sessionMu.Lock()
	m.sessionCancel = cancel
	m.sessionMu.Unlock()

	defer func() {
		m.sessionMu.Lock()
		m.sessionCancel = nil
		m.sessionMu.Unlock()
		cancel()
	}()

	atomic.StoreInt32(&m.state, int32(WSStateConnected))
	m.log.Info("websocket connected")
	m.fireConnect()

	var writeMu sync.Mutex
	m.extendDeadline(conn)
	conn.SetPongHandler(func(string) error {
		m.extendDeadline(conn)
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		m.extendDeadline(conn)
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		select {
		case <-sessCtx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go m.pingLoop(conn, &writeMu, done)

	for {
		_, msg, readErr := conn.ReadMessage()
		if readErr != nil {
			close(done)
			conn.Close()
			if errors.Is(sessCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return true, true, nil
			}
			if sessCtx.Err() != nil && ctx.Err() == nil {
				return true, false, errors.New("reconnect requested")
			}
			return true, false, readErr
		}
		m.extendDeadline(conn)
		m.fireMessage(msg)
	}
}

func (m *WSReconnectManager) extendDeadline(conn *websocket.Conn) {
	if m.config.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
	}
}

// pingLoop отправляет ping для проверки соединения
func (m *WSReconnectManager) pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	if m.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.config.PingInterval))
			writeMu.Unlock()
			if err != nil {
				m.log.Debug("ping failed", utils.Err(err))
				return
			}
		}
	}
}

func (m *WSReconnectManager) fireMessage(msg []byte) {
	m.callbackMu.RLock()
	h := m.onMessage
	m.callbackMu.RUnlock()
	if h != nil {
		h(msg)
	}
}

func (m *WSReconnectManager) fireConnect() {
	m.callbackMu.RLock()
	h := m.onConnect
	m.callbackMu.RUnlock()
	if h != nil {
		h()
	}
}

func (m *WSReconnectManager) fireDisconnect(err error) {
	m.callbackMu.RLock()
	h := m.onDisconnect
	m.callbackMu.RUnlock()
	if h != nil {
		h(err)
	}
}
