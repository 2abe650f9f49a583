package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound 频道、成员或服务器不存在 (可能已被删除)
	ErrNotFound = errors.New("platform: not found")
	// ErrForbidden 机器人缺少执行操作所需的权限
	ErrForbidden = errors.New("platform: missing permissions")
	// ErrTimeout 平台调用超时
	ErrTimeout = errors.New("platform: request timed out")
	// ErrRejected 平台拒绝了请求内容 (例如名称不合法)
	ErrRejected = errors.New("platform: request rejected")
	// ErrUnavailable 服务器状态尚未同步 (例如网关连接后 GUILD_CREATE 之前)，无法判断频道内成员
	ErrUnavailable = errors.New("platform: guild state unavailable")
)

// RateLimitError 表示平台对该操作限流
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("platform: rate limited, retry after %s", e.RetryAfter)
}

// IsNotFound 判断是否为资源不存在
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden 判断是否缺少权限 (包括机器人已不在该服务器中)
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsTimeout 判断是否为超时 (包括 context 超时)
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// AsRateLimit 提取限流错误
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
