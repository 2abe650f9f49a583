package websocket

import (
	"net/http"
	"strings"

	"voicemaster/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler 负责把活动推送请求升级为 WebSocket 并注册到 Hub
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。allowedOrigins 为空时允许所有来源。
func NewWebSocketHandler(hub *hub.Hub, allowedOrigins []string) *WebSocketHandler {
	if hub == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}

	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  512,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}

	return &WebSocketHandler{upgrader: upgrader, hub: hub}
}

// HandleFeed 处理 /ws/feed 请求，推送令牌所属服务器的生命周期事件
func (h *WebSocketHandler) HandleFeed(c *gin.Context) {
	userID := c.GetString("user_id")
	guildID := c.GetString("guild_id")
	if userID == "" || guildID == "" {
		logrus.Warn("WS Handler: actor not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "guild_id": guildID})

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		logCtx.WithError(err).Warn("WS Handler: Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn, guildID, userID)
	if !h.hub.QueueMessage(hub.HubMessage{Type: "register", GuildID: guildID, Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}
	client.Run()
	logCtx.Info("WS Handler: Feed client connected")
}
