package domain

import "time"

// EventType 是 VoiceMaster 生命周期事件的类型，用于活动推送。
type EventType string

const (
	EventChannelCreated  EventType = "channel.created"
	EventChannelDeleted  EventType = "channel.deleted"
	EventOwnerChanged    EventType = "channel.owner_changed"
	EventChannelSwept    EventType = "channel.swept"
	EventCreateThrottled EventType = "create.throttled"
)

// Event 是发布到服务器活动频道的一条生命周期事件。
type Event struct {
	Type      EventType `json:"type"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
