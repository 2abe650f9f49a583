package http

import (
	"context"
	"net/http"

	"voicemaster/internal/domain"
	"voicemaster/internal/service"

	"github.com/gin-gonic/gin"
)

// VoiceHandler 封装了频道所有者控制操作的 HTTP 处理逻辑，操作者来自 JWT。
type VoiceHandler struct {
	ownership *service.OwnershipService
	control   *service.ControlService
}

// NewVoiceHandler 创建 VoiceHandler 实例
func NewVoiceHandler(ownership *service.OwnershipService, control *service.ControlService) *VoiceHandler {
	if ownership == nil || control == nil {
		panic("OwnershipService and ControlService cannot be nil for VoiceHandler")
	}
	return &VoiceHandler{ownership: ownership, control: control}
}

// Register 注册 /voice 路由
func (h *VoiceHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/lock", h.simple(h.control.Lock))
	rg.POST("/unlock", h.simple(h.control.Unlock))
	rg.POST("/hide", h.simple(h.control.Hide))
	rg.POST("/reveal", h.simple(h.control.Reveal))
	rg.POST("/claim", h.simple(h.ownership.Claim))
	rg.POST("/music", h.simple(h.control.Music))
	rg.POST("/invite", h.Invite)
	rg.POST("/nsfw", h.NSFW)
	rg.POST("/permit", h.Permit)
	rg.POST("/reject", h.Reject)
	rg.POST("/transfer", h.Transfer)
	rg.PUT("/name", h.Rename)
	rg.PUT("/limit", h.Limit)
	rg.PUT("/status", h.Status)
	rg.PUT("/region", h.Region)
	rg.POST("/disconnect", h.Disconnect)
	rg.GET("/info", h.Info)
	rg.DELETE("", h.simple(h.control.Delete))
}

// simple 适配只需要操作者的控制操作
func (h *VoiceHandler) simple(op func(context.Context, domain.Actor) (*service.Reply, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			return
		}
		reply, err := op(c.Request.Context(), actor)
		replyResponse(c, reply, err)
	}
}

// Invite 创建频道邀请链接，链接同时放在 url 字段中
func (h *VoiceHandler) Invite(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	reply, err := h.control.Invite(c.Request.Context(), actor)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{"message": reply.Message, "warning": reply.Warning, "url": reply.Message})
}

// TargetRequest 权限目标
type TargetRequest struct {
	Kind string `json:"kind" binding:"required,oneof=member role"`
	ID   string `json:"id" binding:"required"`
}

func (r TargetRequest) target() domain.PermissionTarget {
	if r.Kind == string(domain.TargetRole) {
		return domain.RoleTarget(r.ID)
	}
	return domain.MemberTarget(r.ID)
}

// Permit 允许成员或角色加入频道
func (h *VoiceHandler) Permit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req TargetRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.control.Permit(c.Request.Context(), actor, req.target())
	replyResponse(c, reply, err)
}

// Reject 禁止成员或角色加入频道
func (h *VoiceHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req TargetRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.control.Reject(c.Request.Context(), actor, req.target())
	replyResponse(c, reply, err)
}

// TransferRequest 所有权转移请求
type TransferRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Transfer 把所有权转移给频道中的另一位成员
func (h *VoiceHandler) Transfer(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.ownership.Transfer(c.Request.Context(), actor, req.UserID)
	replyResponse(c, reply, err)
}

// RenameRequest 改名请求
type RenameRequest struct {
	Name string `json:"name" binding:"required"`
}

// Rename 修改频道名称
func (h *VoiceHandler) Rename(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req RenameRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.control.Rename(c.Request.Context(), actor, req.Name)
	replyResponse(c, reply, err)
}

// LimitRequest 人数上限请求，0 表示不限
type LimitRequest struct {
	Limit *int `json:"limit" binding:"required,min=0,max=99"`
}

// Limit 设置频道人数上限
func (h *VoiceHandler) Limit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req LimitRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.control.SetLimit(c.Request.Context(), actor, *req.Limit)
	replyResponse(c, reply, err)
}

// StatusRequest 状态文本请求，空字符串清除状态
type StatusRequest struct {
	Status *string `json:"status" binding:"required"`
}

// Status 设置频道状态
func (h *VoiceHandler) Status(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req StatusRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.control.SetStatus(c.Request.Context(), actor, *req.Status)
	replyResponse(c, reply, err)
}

// RegionRequest 区域请求
type RegionRequest struct {
	Region string `json:"region" binding:"required"`
}

// Region 设置语音区域
func (h *VoiceHandler) Region(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req RegionRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.control.SetRegion(c.Request.Context(), actor, req.Region)
	replyResponse(c, reply, err)
}

// NSFWRequest NSFW 请求；省略 value 时切换当前状态
type NSFWRequest struct {
	Value *bool `json:"value"`
}

// NSFW 设置或切换 NSFW 标记
func (h *VoiceHandler) NSFW(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req NSFWRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	reply, err := h.control.SetNSFW(c.Request.Context(), actor, req.Value)
	replyResponse(c, reply, err)
}

// DisconnectRequest 断开成员请求
type DisconnectRequest struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1,dive,required"`
}

// Disconnect 断开频道中的成员
func (h *VoiceHandler) Disconnect(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req DisconnectRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.control.Disconnect(c.Request.Context(), actor, req.UserIDs)
	replyResponse(c, reply, err)
}

// Info 返回操作者所在频道的摘要
func (h *VoiceHandler) Info(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	info, err := h.control.Info(c.Request.Context(), actor)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, info)
}
