// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 预占核心相关的监控指标。status 标签取值与接口返回的 status 一致。
var (
	ReserveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wms",
		Subsystem: "reservation",
		Name:      "reserve_total",
		Help:      "Reserve calls by outcome.",
	}, []string{"channel", "status"})

	ConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wms",
		Subsystem: "reservation",
		Name:      "consume_total",
		Help:      "Consume calls by outcome (CONSUMED / NOOP / ERROR).",
	}, []string{"channel", "status"})

	ReleaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wms",
		Subsystem: "reservation",
		Name:      "release_total",
		Help:      "Release and cancel calls by reason and outcome.",
	}, []string{"reason", "status"})

	ExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wms",
		Subsystem: "reservation",
		Name:      "expired_total",
		Help:      "Reservations moved from open to expired by the sweep.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wms",
		Subsystem: "reservation",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one expiry sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wms",
		Subsystem: "reservation",
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting for the business-key named mutex.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5},
	}, []string{"dialect"})

	FulfillmentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wms",
		Subsystem: "reservation",
		Name:      "fulfillment_events_total",
		Help:      "Fulfillment events consumed from kafka by type and result.",
	}, []string{"type", "result"})
)
