package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"surgetrader/internal/models"
	"surgetrader/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Буферы для сериализации broadcast сообщений
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

const broadcastBuffer = 256

// Hub рассылает события операторам по WebSocket
//
// Только исходящий поток: клиенты получают уведомления и снимки
// позиций, команды принимает REST API. Медленный клиент отключается,
// при переполнении очереди рассылки сообщение отбрасывается.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	mu       sync.RWMutex
	log      *utils.Logger
	origins  *OriginChecker
	snapshot func() []models.TrackedPosition

	dropped atomic.Int64
}

// NewHub создаёт hub
func NewHub(logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		log:        logger.WithComponent("ws_hub"),
		origins:    NewOriginChecker(nil),
	}
}

// SetAllowedOrigins список разрешённых Origin (пусто или "*" - все)
func (h *Hub) SetAllowedOrigins(origins []string) {
	h.origins = NewOriginChecker(origins)
}

// SetSnapshot источник снимка позиций для новых клиентов
func (h *Hub) SetSnapshot(fn func() []models.TrackedPosition) {
	h.snapshot = fn
}

// Run главный цикл, до Stop
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("ws client connected", utils.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("ws client disconnected", utils.Int("clients", n))

		case message := <-h.broadcast:
			// Список копируется под коротким RLock, отправка без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}

			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("slow ws clients removed", utils.Int("removed", len(slow)), utils.Int("clients", n))
			}
		}
	}
}

// Stop останавливает Run и закрывает клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и ставит в очередь рассылки
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Warn("ws message not serializable", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	msg := make([]byte, len(data))
	copy(msg, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msg)
}

// BroadcastRaw ставит готовые байты в очередь без ожидания
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastNotification отправляет уведомление всем клиентам
func (h *Hub) BroadcastNotification(n *models.Notification) {
	h.Broadcast(NewNotificationMessage(n))
}

// BroadcastPositions отправляет снимок позиций
func (h *Hub) BroadcastPositions(positions []models.TrackedPosition) {
	h.Broadcast(NewPositionsMessage(positions))
}

// ClientCount количество подключённых клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages сообщения, отброшенные при переполненной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
