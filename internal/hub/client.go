package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 代表一个订阅服务器活动推送的 WebSocket 客户端。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	guildID string
	userID  string
	send    chan []byte // 待发送消息的缓冲通道，由 Hub 关闭
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, guildID, userID string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		guildID: guildID,
		userID:  userID,
		send:    make(chan []byte, 64),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"guild_id": c.guildID, "user_id": c.userID})
}

// readPump 只负责处理控制帧和检测断开，推送是单向的，收到的数据消息直接丢弃。
func (c *Client) readPump() {
	defer func() {
		c.hub.QueueMessage(HubMessage{Type: "unregister", GuildID: c.guildID, Client: c})
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logCtx().WithError(err).Warn("WebSocket read error (unexpected close)")
			}
			return
		}
	}
}

// writePump 把 send 通道中的事件写入连接，并定期发送 Ping。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx().WithError(err).Debug("Failed to send ping message")
				return
			}
		}
	}
}

func (c *Client) GuildID() string { return c.guildID }
func (c *Client) UserID() string  { return c.userID }
func (c *Client) CloseConn()      { c.conn.Close() }
