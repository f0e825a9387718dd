package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/apk-analysis/toolsetup/internal/installer"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// EventsHandler 通过 WebSocket 推送运行进度
// 实现 installer.EventSink。
type EventsHandler struct {
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
	clients     map[*websocket.Conn]struct{}
	clientMutex sync.RWMutex
	broadcast   chan installer.Event
}

// NewEventsHandler 创建事件处理器
func NewEventsHandler(logger *logrus.Logger) *EventsHandler {
	return &EventsHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 只监听本机
			},
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan installer.Event, 256),
	}
}

// Start 启动广播协程
func (h *EventsHandler) Start(ctx context.Context) {
	go h.runBroadcaster(ctx)
}

func (h *EventsHandler) runBroadcaster(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.broadcast:
			h.send(ev)
		}
	}
}

func (h *EventsHandler) send(ev installer.Event) {
	h.clientMutex.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clientMutex.RUnlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(ev); err != nil {
			h.logger.WithError(err).Warn("Failed to write to WebSocket client")
			h.remove(c)
		}
	}
}

func (h *EventsHandler) remove(c *websocket.Conn) {
	h.clientMutex.Lock()
	defer h.clientMutex.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.Close()
	}
}

func (h *EventsHandler) closeAll() {
	h.clientMutex.Lock()
	defer h.clientMutex.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}

// Publish 发布事件，队列满时丢弃
func (h *EventsHandler) Publish(ev installer.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.WithField("type", ev.Type).Warn("Broadcast channel is full, dropping event")
	}
}

// Clients 当前连接数
func (h *EventsHandler) Clients() int {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket 处理 WebSocket 连接
func (h *EventsHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	h.clientMutex.Lock()
	h.clients[conn] = struct{}{}
	h.clientMutex.Unlock()

	h.logger.WithField("remote", c.Request.RemoteAddr).Info("WebSocket client connected")

	// 客户端只读，读循环用于感知断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Warn("WebSocket error")
			}
			break
		}
	}

	h.remove(conn)
	h.logger.WithField("remote", c.Request.RemoteAddr).Info("WebSocket client disconnected")
}
