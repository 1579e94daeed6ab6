package metrics

import (
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// Round store operation statuses.
const (
	StoreStatusSuccess = "success"
	StoreStatusFailure = "failure"
)

// StoreMetrics instruments a round store backend.
type StoreMetrics struct {
	backend string

	operations *prometheus.CounterVec
	latencies  *prometheus.HistogramVec

	// Last block the recorder committed, per lottery.
	processedBlock *prometheus.GaugeVec
}

// NewStoreMetrics creates the instrumentation of the named backend.
func NewStoreMetrics(backend string) StoreMetrics {
	m := StoreMetrics{
		backend: backend,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_store_operations", pkgName),
				Help: "How many round store operations ran, partitioned by backend, operation, and status.",
			},
			[]string{"backend", "operation", "status"},
		),
		latencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_store_latencies", pkgName),
				Help: "How long round store operations take, partitioned by backend and operation.",
			},
			[]string{"backend", "operation"},
		),
		processedBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_store_processed_block", pkgName),
				Help: "Last block whose finished rounds are stored, partitioned by backend and lottery.",
			},
			[]string{"backend", "lottery"},
		),
	}
	m.operations = registerOnce(m.operations).(*prometheus.CounterVec)
	m.latencies = registerOnce(m.latencies).(*prometheus.HistogramVec)
	m.processedBlock = registerOnce(m.processedBlock).(*prometheus.GaugeVec)
	return m
}

// Observe counts one operation, failed if err is not nil.
func (m *StoreMetrics) Observe(operation string, err error) {
	status := StoreStatusSuccess
	if err != nil {
		status = StoreStatusFailure
	}
	m.operations.WithLabelValues(m.backend, operation, status).Inc()
}

// Timer returns a new latency timer for the operation.
func (m *StoreMetrics) Timer(operation string) *prometheus.Timer {
	return prometheus.NewTimer(m.latencies.WithLabelValues(m.backend, operation))
}

// Processed records that lottery's rounds are stored up to block.
func (m *StoreMetrics) Processed(lottery ethCommon.Address, block uint64) {
	m.processedBlock.WithLabelValues(m.backend, lottery.Hex()).Set(float64(block))
}
