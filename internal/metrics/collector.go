// internal/metrics/collector.go
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricType identifies one of the collector's registered metrics.
type MetricType string

const (
	SwapCounterType        MetricType = "swap_counter"
	SwapDurationType        MetricType = "swap_duration"
	RPCLatencyType          MetricType = "rpc_latency"
	RecoveryCounterType     MetricType = "recovery_counter"
	ActiveWalletsType       MetricType = "active_wallets"
)

// Collector owns the process's Prometheus registrations and exposes
// typed recording helpers so callers never touch label names directly.
type Collector struct {
	metrics sync.Map
}

// NewCollector registers and returns a Collector. Only one should exist
// per process since metric registration panics on duplicates.
func NewCollector() *Collector {
	c := &Collector{}
	c.initializeMetrics()
	return c
}

func (c *Collector) initializeMetrics() {
	metricsMap := map[MetricType]prometheus.Collector{
		SwapCounterType:    swapCounter,
		SwapDurationType:   swapDuration,
		RPCLatencyType:     rpcLatency,
		RecoveryCounterType: recoveryCounter,
		ActiveWalletsType:  activeWallets,
	}

	for metricType, metric := range metricsMap {
		c.metrics.Store(metricType, metric)
		prometheus.MustRegister(metric)
	}
}

// Reset clears all registered metrics; useful in tests.
func (c *Collector) Reset() {
	c.metrics.Range(func(_, value interface{}) bool {
		switch m := value.(type) {
		case *prometheus.CounterVec:
			m.Reset()
		case *prometheus.GaugeVec:
			m.Reset()
		case *prometheus.HistogramVec:
			m.Reset()
		}
		return true
	})
}

// RecordSwap records the terminal outcome and total wall-clock duration
// of one swap's lifecycle.
func (c *Collector) RecordSwap(status string, duration time.Duration) {
	swapCounter.WithLabelValues(status).Inc()
	if duration > 0 {
		swapDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// RecordRPCLatency records one outbound RPC call's latency.
func (c *Collector) RecordRPCLatency(method string, duration time.Duration) {
	rpcLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRecovery records one recovery consume attempt.
func (c *Collector) RecordRecovery(outcome string) {
	recoveryCounter.WithLabelValues(outcome).Inc()
}

// SetActiveWallets reports the current size of the unused intermediate
// wallet pool.
func (c *Collector) SetActiveWallets(count int) {
	activeWallets.WithLabelValues("unused").Set(float64(count))
}

var (
	swapCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mixer",
			Name:      "swaps_total",
			Help:      "Total number of swaps by terminal status.",
		},
		[]string{"status"},
	)

	swapDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mixer",
			Name:      "swap_duration_seconds",
			Help:      "Swap lifecycle duration in seconds, deposit to finalize.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"status"},
	)

	rpcLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mixer",
			Name:      "rpc_latency_seconds",
			Help:      "Solana RPC call latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"method"},
	)

	recoveryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mixer",
			Name:      "recovery_attempts_total",
			Help:      "Recovery consume attempts by outcome.",
		},
		[]string{"outcome"},
	)

	activeWallets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mixer",
			Name:      "intermediate_wallets",
			Help:      "Intermediate wallets by pool state.",
		},
		[]string{"state"},
	)
)
