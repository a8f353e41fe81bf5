// Package metrics exposes service metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus metrics for the service.
type PrometheusMetrics struct {
	// Counters
	OperationsTotal *prometheus.CounterVec
	ReceiptsTotal   *prometheus.CounterVec

	// Gauges
	Busy             prometheus.Gauge
	SessionConnected prometheus.Gauge
	WSClients        prometheus.Gauge

	// Histograms
	OperationDuration *prometheus.HistogramVec
	ConfirmLatency    prometheus.Histogram
	RPCLatency        *prometheus.HistogramVec
	GasUsed           prometheus.Histogram
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stringstore_operations_total",
				Help: "Controller operations by operation and result",
			},
			[]string{"operation", "result"},
		),

		ReceiptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stringstore_receipts_total",
				Help: "Mined write transactions by receipt status",
			},
			[]string{"status"},
		),

		Busy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stringstore_busy",
				Help: "1 while a read or write is in flight",
			},
		),

		SessionConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stringstore_session_connected",
				Help: "1 while a wallet address is connected",
			},
		),

		WSClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stringstore_ws_clients",
				Help: "Connected WebSocket state subscribers",
			},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stringstore_operation_duration_seconds",
				Help:    "Controller operation duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60, 180},
			},
			[]string{"operation"},
		),

		ConfirmLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stringstore_confirmation_latency_seconds",
				Help:    "Time from broadcast to receipt in seconds",
				Buckets: []float64{1, 5, 12, 24, 36, 60, 120, 180},
			},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stringstore_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "status"},
		),

		GasUsed: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stringstore_gas_used",
				Help:    "Gas used by mined setMessage transactions",
				Buckets: prometheus.ExponentialBuckets(25000, 1.5, 8),
			},
		),
	}
}

// ObserveOperation records the outcome and duration of a controller operation.
func (m *PrometheusMetrics) ObserveOperation(operation, result string, elapsed time.Duration) {
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordReceipt records a mined write transaction.
func (m *PrometheusMetrics) RecordReceipt(success bool, gasUsed uint64, confirmLatency time.Duration) {
	status := "success"
	if !success {
		status = "reverted"
	}
	m.ReceiptsTotal.WithLabelValues(status).Inc()
	m.GasUsed.Observe(float64(gasUsed))
	m.ConfirmLatency.Observe(confirmLatency.Seconds())
}

// SetBusy updates the busy gauge.
func (m *PrometheusMetrics) SetBusy(busy bool) {
	m.Busy.Set(boolToFloat(busy))
}

// SetConnected updates the session gauge.
func (m *PrometheusMetrics) SetConnected(connected bool) {
	m.SessionConnected.Set(boolToFloat(connected))
}

// SetWSClients updates the subscriber gauge.
func (m *PrometheusMetrics) SetWSClients(n int) {
	m.WSClients.Set(float64(n))
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_chainId":               true,
	"eth_blockNumber":           true,
	"eth_call":                  true,
	"eth_estimateGas":           true,
	"eth_sendRawTransaction":    true,
	"eth_getTransactionCount":   true,
	"eth_getTransactionReceipt": true,
	"eth_getBlockByNumber":      true,
	"eth_getCode":               true,
	"eth_gasPrice":              true,
}

// RecordRPCLatency records RPC call latency.
func (m *PrometheusMetrics) RecordRPCLatency(method string, success bool, latencySeconds float64) {
	// Bucket unknown methods into 'other' to prevent cardinality explosion
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}

	status := "success"
	if !success {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketedMethod, status).Observe(latencySeconds)
}

// RPCObserver adapts RecordRPCLatency to the rpc client's observer hook.
func (m *PrometheusMetrics) RPCObserver() func(method string, err error, elapsed time.Duration) {
	return func(method string, err error, elapsed time.Duration) {
		m.RecordRPCLatency(method, err == nil, elapsed.Seconds())
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
