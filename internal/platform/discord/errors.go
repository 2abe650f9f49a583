package discordplatform

import (
	"context"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"voicemaster/internal/platform"
)

// mapError 把 discordgo 的错误转换为 platform 包中的类型化错误，并附带操作名。
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Wrap(platform.ErrTimeout, op)
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return errors.Wrap(platform.ErrNotFound, op)
	}

	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) && rl.RateLimit != nil && rl.TooManyRequests != nil {
		return errors.WithMessage(&platform.RateLimitError{RetryAfter: rl.RetryAfter}, op)
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil {
			switch rest.Message.Code {
			case discordgo.ErrCodeUnknownChannel,
				discordgo.ErrCodeUnknownGuild,
				discordgo.ErrCodeUnknownMember,
				discordgo.ErrCodeUnknownUser:
				return errors.Wrap(platform.ErrNotFound, op)
			case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
				return errors.Wrap(platform.ErrForbidden, op)
			}
		}
		if rest.Response != nil {
			switch rest.Response.StatusCode {
			case http.StatusNotFound:
				return errors.Wrap(platform.ErrNotFound, op)
			case http.StatusForbidden:
				return errors.Wrap(platform.ErrForbidden, op)
			case http.StatusBadRequest:
				return errors.Wrapf(platform.ErrRejected, "%s: %s", op, string(rest.ResponseBody))
			}
		}
	}
	return errors.Wrap(err, op)
}
