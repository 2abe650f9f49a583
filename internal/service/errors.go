package service

import (
	"errors"
	"fmt"
)

// UserErrorKind 对用户可见错误进行分类，HTTP 层据此选择状态码。
type UserErrorKind int

const (
	KindInvalid     UserErrorKind = iota // 请求参数不合法
	KindForbidden                        // 没有权限
	KindNotFound                         // 目标不存在
	KindConflict                         // 当前状态不允许该操作
	KindRateLimited                      // 冷却中或被平台限流
)

// UserError 是需要原样展示给用户的错误。
type UserError struct {
	Kind    UserErrorKind
	Message string
}

func (e *UserError) Error() string { return e.Message }

func newUserError(kind UserErrorKind, format string, args ...interface{}) *UserError {
	return &UserError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsUserError 提取 UserError
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

var (
	ErrNotConnected  = &UserError{Kind: KindInvalid, Message: "You aren't connected to a voice channel"}
	ErrNotManaged    = &UserError{Kind: KindNotFound, Message: "You aren't in a VoiceMaster channel"}
	ErrNotOwner      = &UserError{Kind: KindForbidden, Message: "You aren't the owner of this voice channel"}
	ErrAlreadyOwner  = &UserError{Kind: KindConflict, Message: "You are already the owner of this voice channel"}
	ErrOwnerPresent  = &UserError{Kind: KindConflict, Message: "The owner is still connected to this voice channel"}
	ErrAlreadySetup  = &UserError{Kind: KindConflict, Message: "The VoiceMaster channel is already set up"}
	ErrNotSetup      = &UserError{Kind: KindNotFound, Message: "The VoiceMaster channel has not been set up yet"}
	ErrInvalidTarget = &UserError{Kind: KindInvalid, Message: "The target must be a member or a role"}

	ErrOwnershipChanged = &UserError{Kind: KindConflict, Message: "Ownership of this voice channel just changed, please try again"}
)

// ErrInternalServer 非用户可见的内部错误，HTTP 层返回 500。
var ErrInternalServer = errors.New("internal server error")
