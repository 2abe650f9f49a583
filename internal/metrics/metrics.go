// Package metrics 定义 VoiceMaster 的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChannelsCreated 成功创建并登记的临时频道数
	ChannelsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicemaster_channels_created_total",
		Help: "Total voice channels created and recorded in the ledger",
	})

	// ChannelsReclaimed 因变空而被删除的频道数
	ChannelsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicemaster_channels_reclaimed_total",
		Help: "Total voice channels deleted after becoming empty",
	})

	// CreateFailures 按阶段统计创建失败 (create, move, insert)
	CreateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicemaster_create_failures_total",
		Help: "Channel creation failures by stage",
	}, []string{"stage"})

	// Throttled 按范围统计被节流的创建请求 (user, guild)
	Throttled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicemaster_create_throttled_total",
		Help: "Channel creations suppressed by debounce, by scope",
	}, []string{"scope"})

	// SweepRows 对账处理的行，按结果分类 (kept, removed, failed)
	SweepRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicemaster_sweep_rows_total",
		Help: "Ledger rows processed by the reconciliation sweep, by result",
	}, []string{"result"})

	// SweepDuration 单次对账耗时
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicemaster_sweep_duration_seconds",
		Help:    "Reconciliation sweep duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	// ControlActions 控制面板/API 操作，按操作名和结果分类
	ControlActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicemaster_control_actions_total",
		Help: "Access control operations by action and result",
	}, []string{"action", "result"})

	// HTTPRateLimited 被 API 限流拒绝的请求
	HTTPRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicemaster_http_rate_limited_total",
		Help: "HTTP API requests rejected by the rate limiter",
	})

	// FeedClients 当前连接的活动推送客户端
	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicemaster_feed_clients",
		Help: "Connected activity feed websocket clients",
	})
)
