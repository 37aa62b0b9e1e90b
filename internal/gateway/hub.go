package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trades-exec/internal/account"
	"trades-exec/internal/instrument"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	clientSendSize = 256
)

// Hub 将账户事件广播给所有 websocket 订阅者。
// 发送缓冲已满的订阅者会被断开，不会阻塞推送方。
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	exchange instrument.ExchangeID
	once     sync.Once
}

// NewHub 创建广播中心。
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.Named("hub"),
	}
}

// Broadcast 推送事件；exchange 过滤在订阅时通过查询参数指定。
func (h *Hub) Broadcast(events ...account.Event) {
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			h.logger.Warn("序列化推送事件失败", zap.Error(err))
			continue
		}

		h.mu.RLock()
		var slow []*wsClient
		for c := range h.clients {
			if c.exchange != "" && c.exchange != event.Exchange {
				continue
			}
			select {
			case c.send <- data:
			default:
				slow = append(slow, c)
			}
		}
		h.mu.RUnlock()

		for _, c := range slow {
			h.logger.Warn("订阅者处理过慢，断开连接", zap.String("remote", c.conn.RemoteAddr().String()))
			h.remove(c)
		}
	}
}

// Len 返回当前订阅者数量。
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开全部订阅者，之后的连接请求会被拒绝。
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

// ServeWS 升级连接并注册订阅者，可选 ?exchange= 过滤。
func (h *Hub) ServeWS(c *gin.Context) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务正在关闭"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket 升级失败", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan []byte, clientSendSize),
		exchange: instrument.ExchangeID(c.Query("exchange")),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("websocket 订阅者已连接",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.String("exchange", client.exchange.String()),
	)

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.once.Do(func() { close(c.send) })
	}
}

// readLoop 只用于感知断开与处理 pong，客户端消息被丢弃。
func (h *Hub) readLoop(c *wsClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
