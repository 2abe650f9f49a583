package http

import (
	"net/http"

	"voicemaster/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HandleServiceError 把服务层错误映射为 HTTP 响应。UserError 的消息原样返回，其他错误返回 500。
func HandleServiceError(c *gin.Context, err error) {
	ue, ok := service.AsUserError(err)
	if !ok {
		logrus.WithError(err).WithField("request_id", c.GetString("request_id")).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}
	ErrorResponse(c, statusForKind(ue.Kind), ue.Message)
}

func statusForKind(kind service.UserErrorKind) int {
	switch kind {
	case service.KindInvalid:
		return http.StatusBadRequest
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusBadRequest
}
