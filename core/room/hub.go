package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"SyncFM/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// envelope 出站消息。clientID 非空时定点投递，否则按 roomID 广播。
type envelope struct {
	roomID   string
	clientID string
	payload  []byte
}

// Hub 维护全部活跃 WebSocket 连接并负责消息投递。连接表只在 Run 循环内
// 读写；房间归属由 RoomRegistry 唯一维护，Hub 投递时按注册表查成员。
type Hub struct {
	registry *RoomRegistry

	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	outbound   chan *envelope
	done       chan struct{}

	// 连接关闭后的清理回调（退房、注销在线状态）
	onDisconnect func(clientID string)
}

// NewHub 创建消息中枢
func NewHub(registry *RoomRegistry) *Hub {
	return &Hub{
		registry:   registry,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan *envelope, sendBufferSize),
		done:       make(chan struct{}),
	}
}

// SetDisconnectHandler 注册断连回调，必须在 Run 之前调用
func (h *Hub) SetDisconnectHandler(fn func(clientID string)) {
	h.onDisconnect = fn
}

// Run 事件循环，直到 Shutdown
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for _, client := range h.clients {
				close(client.Send)
			}
			h.clients = make(map[string]*Client)
			return

		case client := <-h.register:
			h.clients[client.ID] = client
			logger.Info("client connected",
				logger.String("clientId", client.ID),
				logger.Int("totalClients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				if h.onDisconnect != nil {
					h.onDisconnect(client.ID)
				}
				logger.Info("client disconnected",
					logger.String("clientId", client.ID),
					logger.Int("totalClients", len(h.clients)))
			}

		case env := <-h.outbound:
			if env.clientID != "" {
				if client, ok := h.clients[env.clientID]; ok {
					h.deliver(client, env.payload)
				}
				continue
			}
			for _, clientID := range h.registry.ClientsIn(env.roomID) {
				if client, ok := h.clients[clientID]; ok {
					h.deliver(client, env.payload)
				}
			}
		}
	}
}

// deliver 投递到单个连接。发送缓冲写满视为连接失活，就地摘除。
func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		delete(h.clients, client.ID)
		close(client.Send)
		if h.onDisconnect != nil {
			h.onDisconnect(client.ID)
		}
		logger.Warn("client send buffer full, dropping connection",
			logger.String("clientId", client.ID))
	}
}

// Shutdown 停止事件循环并关闭全部连接的发送通道
func (h *Hub) Shutdown() {
	close(h.done)
}

// Register 接入新连接
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Broadcast 向房间内全部客户端广播事件
func (h *Hub) Broadcast(roomID string, event MessageType, payload interface{}) {
	data, err := h.encode(event, roomID, "", payload)
	if err != nil {
		logger.Error("failed to encode broadcast message",
			logger.String("type", string(event)), logger.ErrorField(err))
		return
	}
	h.enqueue(&envelope{roomID: roomID, payload: data})
}

// SendTo 向单个客户端发送事件
func (h *Hub) SendTo(clientID string, event MessageType, payload interface{}) {
	data, err := h.encode(event, "", clientID, payload)
	if err != nil {
		logger.Error("failed to encode direct message",
			logger.String("type", string(event)), logger.ErrorField(err))
		return
	}
	h.enqueue(&envelope{clientID: clientID, payload: data})
}

func (h *Hub) enqueue(env *envelope) {
	select {
	case h.outbound <- env:
	case <-h.done:
	}
}

// encode 统一封装出站消息信封
func (h *Hub) encode(event MessageType, roomID, clientID string, payload interface{}) ([]byte, error) {
	msg := WSMessage{
		Type:      event,
		RoomID:    roomID,
		ClientID:  clientID,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return json.Marshal(&msg)
}

// Client 一条 WebSocket 连接
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
}

// NewClient 包装一条已升级的连接
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, sendBufferSize),
	}
}

// MessageHandler 入站消息处理函数
type MessageHandler func(ctx context.Context, client *Client, msg *WSMessage)

// ReadPump 读取循环。连接断开或读错误时注销自身并关闭连接。
func (c *Client) ReadPump(ctx context.Context, handler MessageHandler) {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error",
					logger.String("clientId", c.ID), logger.ErrorField(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("invalid message from client",
				logger.String("clientId", c.ID), logger.ErrorField(err))
			continue
		}

		// 应用层心跳也会顺带刷新读超时
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		handler(ctx, c, &msg)
	}
}

// WritePump 写入循环。Send 通道关闭意味着 Hub 已摘除该连接。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 排空积压，减少系统调用
			for i := 0; i < len(c.Send); i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
