package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeSweep = "voicemaster:sweep" // 对账清理任务
)

const (
	// DefaultSweepSchedule 周期清理的默认间隔
	DefaultSweepSchedule = "@every 10m"
	sweepTimeout         = 5 * time.Minute
)

// SweepPayload 定义了清理任务的数据结构。GuildID 为空表示清理所有服务器。
type SweepPayload struct {
	GuildID string `json:"guild_id,omitempty"`
}

// NewSweepTask 创建一个清理任务。同一时间同一范围只保留一个待执行的任务。
func NewSweepTask(guildID string) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(SweepPayload{GuildID: guildID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSweep, payloadBytes,
		asynq.MaxRetry(1),
		asynq.Timeout(sweepTimeout),
		asynq.Unique(sweepTimeout),
	), nil
}

// ParseSweepPayload 解析清理任务的 payload；空 payload 视为全局清理。
func ParseSweepPayload(t *asynq.Task) (SweepPayload, error) {
	var payload SweepPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	err := json.Unmarshal(t.Payload(), &payload)
	return payload, err
}
