package service

import (
	"fmt"
	"time"
)

// BurstPolicy 决定服务器级别突发上限被触发时如何处理用户。
type BurstPolicy string

const (
	// BurstSilent 只记录日志，用户留在 lobby 中
	BurstSilent BurstPolicy = "silent"
	// BurstNotify 把用户移出 lobby 并私信提醒
	BurstNotify BurstPolicy = "notify"
)

// ParseBurstPolicy 解析配置值，空字符串使用默认值。
func ParseBurstPolicy(s string) (BurstPolicy, error) {
	switch BurstPolicy(s) {
	case "", BurstSilent:
		return BurstSilent, nil
	case BurstNotify:
		return BurstNotify, nil
	}
	return "", fmt.Errorf("unknown burst policy %q", s)
}

// Policy 汇总了 VoiceMaster 的节流和超时参数。
type Policy struct {
	UserWindow      time.Duration // 同一用户两次创建之间的最小间隔
	GuildWindow     time.Duration // 服务器级别突发窗口
	GuildCap        int64         // 每个窗口允许的最大创建数
	RenameCooldown  time.Duration
	MusicCooldown   time.Duration
	InviteCooldown  time.Duration
	PlatformTimeout time.Duration // 单次平台调用的超时
	SweepRowTimeout time.Duration // 对账时单行的超时
	Burst           BurstPolicy
	DefaultBitrate  int // 无法获取服务器信息时使用的码率
}

// DefaultPolicy 返回默认参数
func DefaultPolicy() Policy {
	return Policy{
		UserWindow:      10 * time.Second,
		GuildWindow:     30 * time.Second,
		GuildCap:        10,
		RenameCooldown:  15 * time.Second,
		MusicCooldown:   30 * time.Second,
		InviteCooldown:  20 * time.Second,
		PlatformTimeout: 10 * time.Second,
		SweepRowTimeout: 15 * time.Second,
		Burst:           BurstSilent,
		DefaultBitrate:  64000,
	}
}

func userDebounceKey(userID string) string   { return "debounce:user:" + userID }
func guildDebounceKey(guildID string) string { return "debounce:guild:" + guildID }
func renameCooldownKey(userID string) string { return "cooldown:rename:" + userID }
func musicCooldownKey(userID string) string  { return "cooldown:music:" + userID }
func inviteCooldownKey(userID string) string { return "cooldown:invite:" + userID }
