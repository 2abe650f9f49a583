package http

import (
	"context"
	"errors"
	"net/http"

	"voicemaster/internal/service"
	"voicemaster/internal/tasks"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// TaskEnqueuer 是 asynq.Client 的子集
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// GuildSweeper 同步执行单个服务器的对账
type GuildSweeper interface {
	SweepGuild(ctx context.Context, guildID string) (service.SweepResult, error)
}

// AdminHandler 封装了服务器管理员的 lobby 设置和对账操作
type AdminHandler struct {
	lobby    *service.LobbyService
	enqueuer TaskEnqueuer
	sweeper  GuildSweeper
}

// NewAdminHandler 创建 AdminHandler 实例
func NewAdminHandler(lobby *service.LobbyService, enqueuer TaskEnqueuer, sweeper GuildSweeper) *AdminHandler {
	if lobby == nil || enqueuer == nil || sweeper == nil {
		panic("LobbyService, TaskEnqueuer and GuildSweeper cannot be nil for AdminHandler")
	}
	return &AdminHandler{lobby: lobby, enqueuer: enqueuer, sweeper: sweeper}
}

// Register 注册 /admin 路由
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/setup", h.Setup)
	rg.DELETE("/setup", h.Reset)
	rg.PUT("/category", h.SetCategory)
	rg.POST("/sweep", h.Sweep)
}

// Setup 创建 lobby 布局
func (h *AdminHandler) Setup(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	cfg, err := h.lobby.Setup(c.Request.Context(), actor.GuildID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{
		"guild_id":         cfg.GuildID,
		"lobby_channel_id": cfg.LobbyChannelID,
		"category_id":      cfg.CategoryID,
		"panel_channel_id": cfg.PanelChannelID,
	})
}

// Reset 删除 lobby 布局和配置
func (h *AdminHandler) Reset(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.lobby.Reset(c.Request.Context(), actor.GuildID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CategoryRequest 设置新频道所在分类
type CategoryRequest struct {
	CategoryID string `json:"category_id" binding:"required"`
}

// SetCategory 设置新频道所在分类
func (h *AdminHandler) SetCategory(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req CategoryRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.lobby.SetCategory(c.Request.Context(), actor.GuildID, req.CategoryID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"category_id": req.CategoryID})
}

// Sweep 对操作者的服务器执行对账。默认加入任务队列，sync=true 时同步执行并返回结果。
func (h *AdminHandler) Sweep(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("guild_id", actor.GuildID)

	if c.Query("sync") == "true" {
		result, err := h.sweeper.SweepGuild(c.Request.Context(), actor.GuildID)
		if err != nil {
			HandleServiceError(c, err)
			return
		}
		SuccessResponse(c, http.StatusOK, result)
		return
	}

	task, err := tasks.NewSweepTask(actor.GuildID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	info, err := h.enqueuer.EnqueueContext(c.Request.Context(), task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		SuccessResponse(c, http.StatusAccepted, gin.H{"message": "A sweep is already queued for this guild"})
		return
	}
	if err != nil {
		logCtx.WithError(err).Error("Failed to enqueue sweep task")
		HandleServiceError(c, err)
		return
	}
	logCtx.WithField("task_id", info.ID).Info("Sweep task enqueued")
	SuccessResponse(c, http.StatusAccepted, gin.H{"task_id": info.ID})
}
