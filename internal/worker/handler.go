package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"voicemaster/internal/service"
	"voicemaster/internal/tasks"
)

// Sweeper 是清理任务依赖的对账服务
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
	SweepGuild(ctx context.Context, guildID string) (service.SweepResult, error)
}

// SweepHandler 处理对账清理任务
type SweepHandler struct {
	sweeper Sweeper
}

// NewSweepHandler 创建 Handler 实例
func NewSweepHandler(sweeper Sweeper) *SweepHandler {
	if sweeper == nil {
		panic("Sweeper cannot be nil for SweepHandler")
	}
	return &SweepHandler{sweeper: sweeper}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *SweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
	})

	payload, err := tasks.ParseSweepPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	var result service.SweepResult
	if payload.GuildID == "" {
		logCtx.Info("Processing global sweep task...")
		result, err = h.sweeper.Sweep(ctx)
	} else {
		logCtx = logCtx.WithField("guild_id", payload.GuildID)
		logCtx.Info("Processing guild sweep task...")
		result, err = h.sweeper.SweepGuild(ctx, payload.GuildID)
	}
	if err != nil {
		// 只有列出 Ledger 失败才会返回错误，单行失败已经计入 Failed
		return fmt.Errorf("sweep failed: %w", err)
	}

	logCtx.WithFields(logrus.Fields{
		"checked": result.Checked,
		"removed": result.Removed,
		"failed":  result.Failed,
	}).Info("Sweep task processed successfully")
	return nil
}
