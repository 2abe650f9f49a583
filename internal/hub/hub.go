package hub

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"voicemaster/internal/metrics"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 活动推送是只读的，客户端只会发送控制帧
	maxMessageSize = 512
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type    string  // "register", "unregister", "event"
	GuildID string  // 服务器 ID
	Client  *Client // 仅用于 register/unregister
	RawData []byte  // 仅用于 event (已序列化的 domain.Event)
}

// EventSource 是活动事件的来源，通常是 Redis pub/sub
type EventSource interface {
	SubscribeEvents(ctx context.Context) *redis.PubSub
	GuildFromEventsChannel(channel string) (string, bool)
}

// Hub 维护按服务器分组的推送客户端，并把事件转发给对应服务器的客户端
type Hub struct {
	messageChan chan HubMessage

	// map[guildID]map[*Client]bool
	guilds   map[string]map[*Client]bool
	guildsMu sync.RWMutex

	source EventSource
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(source EventSource) *Hub {
	if source == nil {
		panic("EventSource cannot be nil for Hub")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		guilds:      make(map[string]map[*Client]bool),
		source:      source,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Run 启动 Hub 的事件循环和 Redis 订阅，阻塞直到 Stop 被调用。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	go h.subscribe(h.ctx)

	for {
		select {
		case msg := <-h.messageChan:
			h.handle(msg)
		case <-h.ctx.Done():
			h.closeAll()
			close(h.done)
			log.Info("Hub stopped")
			return
		}
	}
}

// Stop 停止订阅并断开所有客户端
func (h *Hub) Stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(writeWait):
		logrus.WithField("component", "hub").Warn("Hub did not stop in time")
	}
}

func (h *Hub) handle(msg HubMessage) {
	switch msg.Type {
	case "register":
		h.registerClient(msg.Client)
	case "unregister":
		h.unregisterClient(msg.Client)
	case "event":
		h.broadcast(msg.GuildID, msg.RawData)
	default:
		logrus.WithField("component", "hub").Warnf("Hub: Received unknown message type: %s", msg.Type)
	}
}

// subscribe 把 Redis 事件频道的消息转入 Hub 的消息队列
func (h *Hub) subscribe(ctx context.Context) {
	logCtx := logrus.WithField("component", "hub_subscriber")
	pubsub := h.source.SubscribeEvents(ctx)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			logCtx.Info("Event subscription stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				logCtx.Warn("Event subscription channel closed")
				return
			}
			guildID, ok := h.source.GuildFromEventsChannel(msg.Channel)
			if !ok {
				logCtx.WithField("channel", msg.Channel).Debug("Ignoring message from unknown channel")
				continue
			}
			h.QueueMessage(HubMessage{Type: "event", GuildID: guildID, RawData: []byte(msg.Payload)})
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	h.guildsMu.Lock()
	if _, ok := h.guilds[client.guildID]; !ok {
		h.guilds[client.guildID] = make(map[*Client]bool)
	}
	h.guilds[client.guildID][client] = true
	h.guildsMu.Unlock()

	metrics.FeedClients.Inc()
	logrus.WithFields(logrus.Fields{"guild_id": client.guildID, "user_id": client.userID}).Info("Feed client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		return
	}
	h.guildsMu.Lock()
	defer h.guildsMu.Unlock()
	clients, ok := h.guilds[client.guildID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.guilds, client.guildID)
	}
	metrics.FeedClients.Dec()
	logrus.WithFields(logrus.Fields{"guild_id": client.guildID, "user_id": client.userID}).Info("Feed client unregistered")
}

// broadcast 把消息发送给指定服务器的所有客户端，慢客户端的消息被丢弃
func (h *Hub) broadcast(guildID string, message []byte) {
	h.guildsMu.RLock()
	defer h.guildsMu.RUnlock()
	for client := range h.guilds[guildID] {
		select {
		case client.send <- message:
		default:
			logrus.WithFields(logrus.Fields{
				"guild_id": guildID,
				"user_id":  client.userID,
			}).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

func (h *Hub) closeAll() {
	h.guildsMu.Lock()
	defer h.guildsMu.Unlock()
	for guildID, clients := range h.guilds {
		for client := range clients {
			close(client.send)
			metrics.FeedClients.Dec()
		}
		delete(h.guilds, guildID)
	}
}

// ClientCount 返回指定服务器当前的推送客户端数量
func (h *Hub) ClientCount(guildID string) int {
	h.guildsMu.RLock()
	defer h.guildsMu.RUnlock()
	return len(h.guilds[guildID])
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。队列已满时返回 false。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"message_type": msg.Type,
			"guild_id":     msg.GuildID,
		}).Warn("Hub message channel full, dropping message")
		return false
	}
}
