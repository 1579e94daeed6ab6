package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Transaction statuses.
const (
	TxStatusSuccess  = "success"
	TxStatusReverted = "reverted"
	TxStatusError    = "error"
)

// ChainMetrics instruments transactions sent to a network.
type ChainMetrics struct {
	// Name of the network transactions are sent to.
	network string

	// Counts of transactions, partitioned by contract, method and status.
	transactions *prometheus.CounterVec

	// Latencies of transactions from submission to receipt.
	transactionLatencies *prometheus.HistogramVec
}

// NewDefaultChainMetrics creates Prometheus metric instrumentation for
// transactions on the named network.
func NewDefaultChainMetrics(network string) ChainMetrics {
	metrics := ChainMetrics{
		network: network,
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_transactions", pkgName),
				Help: "How many transactions were sent, partitioned by network, contract, method, and status.",
			},
			[]string{"network", "contract", "method", "status"}, // Labels.
		),
		transactionLatencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_transaction_latencies", pkgName),
				Help: "How long transactions take to be mined, partitioned by network, contract, and method.",
			},
			[]string{"network", "contract", "method"}, // Labels.
		),
	}
	metrics.transactions = registerOnce(metrics.transactions).(*prometheus.CounterVec)
	metrics.transactionLatencies = registerOnce(metrics.transactionLatencies).(*prometheus.HistogramVec)
	return metrics
}

// Transactions returns the counter for the transaction.
func (m *ChainMetrics) Transactions(contract, method, status string) prometheus.Counter {
	return m.transactions.WithLabelValues(m.network, contract, method, status)
}

// TransactionLatencies returns a new latency timer for the transaction.
func (m *ChainMetrics) TransactionLatencies(contract, method string) *prometheus.Timer {
	return prometheus.NewTimer(m.transactionLatencies.WithLabelValues(m.network, contract, method))
}
