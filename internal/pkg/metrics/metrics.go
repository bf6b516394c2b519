package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payd"

var (
	// BuildTotal 交易构建次数，按结果区分
	BuildTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "build_total",
		Help:      "Payable transaction builds by result.",
	}, []string{"result"})

	QuoteAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quote_attempts_total",
		Help:      "HTTP attempts made against the swap aggregator.",
	})

	// Rebroadcasts 确认窗口超时后的重新广播次数
	Rebroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rebroadcast_total",
		Help:      "Identical-bytes rebroadcasts issued by the confirm loop.",
	})

	ConfirmSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "confirm_seconds",
		Help:      "Time from first broadcast to confirmation.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
	})

	// VerifyTotal 链上校验结果，result 为 ok 或失败原因
	VerifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verify_total",
		Help:      "Finalized transaction verifications by result.",
	}, []string{"result"})

	FulfillTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fulfill_total",
		Help:      "Fulfillment callbacks by result.",
	}, []string{"result"})
)
