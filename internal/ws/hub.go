package ws

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"grocery-pos-terminal/internal/model"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	EventToast        = "toast"
	EventToastExpired = "toast_expired"

	broadcastQueue = 256
)

// Event is what till screens receive on /ws.
type Event struct {
	Type  string              `json:"type"`
	Toast *model.Notification `json:"toast,omitempty"`
	ID    *uuid.UUID          `json:"id,omitempty"`
}

type toast struct {
	n     model.Notification
	timer *time.Timer
}

// Hub fans toasts out to every connected till screen and expires them after ttl.
type Hub struct {
	Clients    map[*websocket.Conn]bool
	Register   chan *websocket.Conn
	Unregister chan *websocket.Conn
	Broadcast  chan []byte
	mutex      sync.Mutex

	ttl     time.Duration
	toastMu sync.Mutex
	toasts  map[uuid.UUID]*toast

	quit      chan struct{}
	closeOnce sync.Once
}

func NewHub(toastTTL time.Duration) *Hub {
	if toastTTL <= 0 {
		toastTTL = 4 * time.Second
	}
	return &Hub{
		Clients:    make(map[*websocket.Conn]bool),
		Register:   make(chan *websocket.Conn),
		Unregister: make(chan *websocket.Conn),
		Broadcast:  make(chan []byte, broadcastQueue),
		ttl:        toastTTL,
		toasts:     make(map[uuid.UUID]*toast),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.Register:
			h.mutex.Lock()
			h.Clients[conn] = true
			h.mutex.Unlock()
			log.Debug().Msg("till screen connected")

		case conn := <-h.Unregister:
			h.mutex.Lock()
			if _, ok := h.Clients[conn]; ok {
				delete(h.Clients, conn)
				conn.Close()
			}
			h.mutex.Unlock()

		case message := <-h.Broadcast:
			h.mutex.Lock()
			for conn := range h.Clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					delete(h.Clients, conn)
				}
			}
			h.mutex.Unlock()

		case <-h.quit:
			return
		}
	}
}

// Notify shows a toast on every till screen. Empty messages are ignored.
func (h *Hub) Notify(level model.NotificationLevel, message string) {
	if message == "" {
		return
	}
	now := time.Now()
	n := model.Notification{
		ID:        uuid.New(),
		Level:     level,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(h.ttl),
	}

	h.toastMu.Lock()
	select {
	case <-h.quit:
		h.toastMu.Unlock()
		return
	default:
	}
	id := n.ID
	h.toasts[id] = &toast{n: n, timer: time.AfterFunc(h.ttl, func() { h.expire(id) })}
	h.publishLocked(Event{Type: EventToast, Toast: &n})
	h.toastMu.Unlock()

	log.Info().Str("level", string(level)).Msg(message)
}

func (h *Hub) expire(id uuid.UUID) {
	h.toastMu.Lock()
	defer h.toastMu.Unlock()
	if _, ok := h.toasts[id]; ok {
		delete(h.toasts, id)
		h.publishLocked(Event{Type: EventToastExpired, ID: &id})
	}
}

// Active lists unexpired toasts, oldest first.
func (h *Hub) Active() []model.Notification {
	h.toastMu.Lock()
	defer h.toastMu.Unlock()

	out := make([]model.Notification, 0, len(h.toasts))
	for _, t := range h.toasts {
		out = append(out, t.n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// publishLocked queues ev for Run. Holding toastMu keeps a toast and its
// expiry in queue order. A full queue drops the event.
func (h *Hub) publishLocked(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("marshal hub event")
		return
	}
	select {
	case h.Broadcast <- msg:
	default:
		log.Warn().Str("type", ev.Type).Msg("hub queue full, event dropped")
	}
}

// Serve is the per-connection loop behind the /ws route.
func (h *Hub) Serve(c *websocket.Conn) {
	select {
	case h.Register <- c:
	case <-h.quit:
		return
	}
	defer func() {
		select {
		case h.Unregister <- c:
		case <-h.quit:
		}
	}()

	for _, n := range h.Active() {
		n := n
		msg, _ := json.Marshal(Event{Type: EventToast, Toast: &n})
		h.mutex.Lock()
		err := c.WriteMessage(websocket.TextMessage, msg)
		h.mutex.Unlock()
		if err != nil {
			return
		}
	}

	for {
		// Keep alive loop
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

// Close stops Run, every toast timer and every connection.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.toastMu.Lock()
		close(h.quit)
		for id, t := range h.toasts {
			t.timer.Stop()
			delete(h.toasts, id)
		}
		h.toastMu.Unlock()

		h.mutex.Lock()
		for conn := range h.Clients {
			conn.Close()
			delete(h.Clients, conn)
		}
		h.mutex.Unlock()
	})
}
