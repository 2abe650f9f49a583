package http

import (
	"net/http"

	"voicemaster/internal/domain"
	"voicemaster/internal/middleware"
	"voicemaster/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}

// replyResponse 写回控制操作的结果；Warning 表示操作没有产生变化，仍然是 200。
func replyResponse(c *gin.Context, reply *service.Reply, err error) {
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, reply)
}

// actorFromContext 读取 Auth 中间件设置的操作者身份
func actorFromContext(c *gin.Context) (domain.Actor, bool) {
	actor := domain.Actor{
		GuildID: c.GetString(middleware.ContextGuildID),
		UserID:  c.GetString(middleware.ContextUserID),
	}
	if actor.GuildID == "" || actor.UserID == "" {
		logrus.WithField("path", c.FullPath()).Warn("Handler: actor not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return domain.Actor{}, false
	}
	return actor, true
}

// bindJSON 绑定并验证请求体，失败时直接写回 400
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logrus.WithError(err).WithField("path", c.FullPath()).Warn("Handler: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return false
	}
	return true
}
