package events

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"PoE-Chain/internal/claims"
	"PoE-Chain/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type subscriber struct {
	conn  *websocket.Conn
	send  chan []byte
	kinds map[claims.EventKind]struct{}
	who   claims.Identity
	once  sync.Once
}

func (s *subscriber) wants(event claims.Event) bool {
	if len(s.kinds) > 0 {
		if _, ok := s.kinds[event.Kind]; !ok {
			return false
		}
	}
	return s.who == "" || strings.EqualFold(string(s.who), string(event.Who))
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub 通过 websocket 将事件实时推送给订阅者。慢订阅者会被断开，不会阻塞账本。
type Hub struct {
	mu       sync.RWMutex
	clients  map[*subscriber]struct{}
	upgrader websocket.Upgrader
	buffer   int
	logger   *slog.Logger
}

var _ claims.Sink = (*Hub)(nil)

// NewHub 创建 Hub，buffer 为每个订阅者的发送缓冲大小。
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		buffer: buffer,
		logger: logger.Named("events.hub"),
	}
}

// Deposit 实现 claims.Sink，非阻塞地广播事件。
func (h *Hub) Deposit(_ context.Context, event claims.Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	var slow []*subscriber
	h.mu.RLock()
	for sub := range h.clients {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.send <- payload:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("订阅者处理过慢，断开连接", slog.String("remote", sub.conn.RemoteAddr().String()))
		h.remove(sub)
	}
	return nil
}

// ServeHTTP 升级为 websocket 连接。支持 kind 与 who 查询参数过滤事件。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, h.buffer),
		who:  claims.Identity(strings.TrimSpace(r.URL.Query().Get("who"))),
	}
	for _, kind := range r.URL.Query()["kind"] {
		if kind = strings.TrimSpace(kind); kind != "" {
			if sub.kinds == nil {
				sub.kinds = make(map[claims.EventKind]struct{})
			}
			sub.kinds[claims.EventKind(kind)] = struct{}{}
		}
	}

	h.mu.Lock()
	h.clients[sub] = struct{}{}
	h.mu.Unlock()

	go h.writePump(sub)
	h.readPump(sub)
}

func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)
	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.clients, sub)
	h.mu.Unlock()
	sub.close()
}

// Subscribers 返回当前订阅者数量。
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开所有订阅者。
func (h *Hub) Close() error {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*subscriber]struct{})
	h.mu.Unlock()
	for sub := range clients {
		sub.close()
	}
	return nil
}
