package metrics

import (
	"errors"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterOnce(t *testing.T) {
	first := NewDefaultChainMetrics("metrics-test")
	second := NewDefaultChainMetrics("metrics-test")
	require.Same(t, first.transactions, second.transactions)

	first.Transactions("Lottery", "startLottery", TxStatusSuccess).Inc()
	second.Transactions("Lottery", "startLottery", TxStatusSuccess).Inc()
	require.Equal(t, 2.0, testutil.ToFloat64(first.Transactions("Lottery", "startLottery", TxStatusSuccess)))
}

func TestRegisterOncePanicsOnConflict(t *testing.T) {
	_ = NewAPIMetrics("metrics-test")
	conflicting := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lottery_api_requests",
		Help: "Same name, different type.",
	})
	require.Panics(t, func() { registerOnce(conflicting) })
}

func TestAPIMetricsArePerNetwork(t *testing.T) {
	sepolia := NewAPIMetrics("metrics-test-sepolia")
	mainnet := NewAPIMetrics("metrics-test-mainnet")
	require.Same(t, sepolia.requests, mainnet.requests)

	sepolia.Request("/v1/lottery/", OutcomeSuccess).Inc()
	sepolia.Reply("/v1/lottery/", OutcomeFailure, "chain_error").Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(sepolia.requests.WithLabelValues("metrics-test-sepolia", "/v1/lottery/", OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(sepolia.replies.WithLabelValues("metrics-test-sepolia", "/v1/lottery/", OutcomeFailure, "chain_error")))
	require.Equal(t, 0.0, testutil.ToFloat64(mainnet.Request("/v1/lottery/", OutcomeSuccess)))
}

func TestStoreMetrics(t *testing.T) {
	m := NewStoreMetrics("metrics-test-store")
	m.Observe("list_rounds", nil)
	m.Observe("list_rounds", nil)
	m.Observe("list_rounds", errors.New("connection reset"))
	require.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("metrics-test-store", "list_rounds", StoreStatusSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("metrics-test-store", "list_rounds", StoreStatusFailure)))

	lottery := ethCommon.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	m.Processed(lottery, 41)
	m.Processed(lottery, 42)
	require.Equal(t, 42.0, testutil.ToFloat64(m.processedBlock.WithLabelValues("metrics-test-store", lottery.Hex())))
}
