// Package websocket доставляет события стратегии dashboard-клиентам
// в реальном времени.
package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	jsoniter "github.com/json-iterator/go"

	"fundarb/internal/models"
	"fundarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Пул буферов сериализации: Broadcast зовётся на каждое событие
// цикла, аллокации на каждый вызов ни к чему
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет активными WebSocket соединениями.
//
// Единственный писатель в clients - цикл Run; Broadcast лишь кладёт
// сериализованное сообщение в канал. Медленный клиент, не успевающий
// вычитывать свой буфер, отключается.
//
// Использование:
//
//	hub := websocket.NewHub(log)
//	go hub.Run()
//	hub.BroadcastNotification(notif)
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	dropped    atomic.Int64

	mu  sync.RWMutex
	log *utils.Logger
}

// NewHub создает новый Hub
func NewHub(log *utils.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		log:        log.WithComponent("websocket"),
	}
}

// Run запускает главный цикл Hub.
// Должен работать в отдельной горутине: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("клиент подключился", zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("клиент отключился", zap.Int("total", total))

		case message := <-h.broadcast:
			// Список копируется под коротким RLock, отправка идёт
			// без блокировки, чтобы не тормозить register/unregister
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
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("отключены медленные клиенты",
					zap.Int("removed", len(slow)),
					zap.Int("total", total))
			}
		}
	}
}

// Broadcast сериализует сообщение и рассылает всем клиентам
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("сообщение не сериализовалось", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	// Буфер вернётся в пул, данные копируются
	msg := make([]byte, len(data))
	copy(msg, data)
	jsonBufferPool.Put(buf)

	// Переполненный канал не должен блокировать цикл стратегии
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// Stop останавливает цикл Run
func (h *Hub) Stop() {
	close(h.stop)
}

// DroppedMessages возвращает число сообщений, отброшенных из-за
// переполнения канала рассылки
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}

// BroadcastNotification отправляет событие стратегии
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(&NotificationMessage{Type: MessageTypeNotification, Data: notif})
}

// Notify реализует engine.Notifier: события движка уходят
// подключённым клиентам
func (h *Hub) Notify(notif *models.Notification) {
	h.BroadcastNotification(notif)
}

// BroadcastCycleResult отправляет итог завершённого цикла
func (h *Hub) BroadcastCycleResult(result *models.ExecutionResult) {
	h.Broadcast(&CycleResultMessage{Type: MessageTypeCycleResult, Data: result})
}

// BroadcastBalanceUpdate отправляет обновление баланса биржи
func (h *Hub) BroadcastBalanceUpdate(venueName string, balance float64) {
	h.Broadcast(&BalanceUpdateMessage{Type: MessageTypeBalanceUpdate, Venue: venueName, Balance: balance})
}

// ClientCount возвращает число подключённых клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
