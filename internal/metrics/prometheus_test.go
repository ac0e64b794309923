package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPromCollector_HealthStatus_NoCallsIsOK(t *testing.T) {
	c := NewPromCollector()
	status := c.HealthStatus("eth", "mainnet")
	require.Equal(t, "OK", status.State)
}

func TestPromCollector_HealthStatus_AllFailuresIsDown(t *testing.T) {
	c := NewPromCollector()
	c.RecordRPCCall("eth", "eth_blockNumber", 10*time.Millisecond, false)
	status := c.HealthStatus("eth", "mainnet")
	require.Equal(t, "Down", status.State)
}

func TestPromCollector_HealthStatus_LowSuccessRateIsDegraded(t *testing.T) {
	c := NewPromCollector()
	c.RecordRPCCall("eth", "eth_blockNumber", 10*time.Millisecond, true)
	for i := 0; i < 9; i++ {
		c.RecordRPCCall("eth", "eth_blockNumber", 10*time.Millisecond, false)
	}
	status := c.HealthStatus("eth", "mainnet")
	require.Equal(t, "Degraded", status.State)
}

func TestPromCollector_HealthStatus_HighLatencyIsDegraded(t *testing.T) {
	c := NewPromCollector()
	c.RecordRPCCall("eth", "eth_blockNumber", 6*time.Second, true)
	status := c.HealthStatus("eth", "mainnet")
	require.Equal(t, "Degraded", status.State)
}

func TestPromCollector_HealthStatus_HealthyIsOK(t *testing.T) {
	c := NewPromCollector()
	c.RecordRPCCall("eth", "eth_blockNumber", 10*time.Millisecond, true)
	status := c.HealthStatus("eth", "mainnet")
	require.Equal(t, "OK", status.State)
}

func TestPromCollector_SetCheckpoint_UpdatesGauge(t *testing.T) {
	c := NewPromCollector()
	c.SetCheckpoint("btc", "mainnet", 820123)
	value := testutil.ToFloat64(c.checkpointHeight.WithLabelValues("btc", "mainnet"))
	require.Equal(t, float64(820123), value)
}

func TestPromCollector_RecordDepositInsertedAndConfirmed_IncrementCounters(t *testing.T) {
	c := NewPromCollector()
	c.RecordDepositInserted("btc", "mainnet")
	c.RecordDepositConfirmed("btc", "mainnet")
	require.Equal(t, float64(1), testutil.ToFloat64(c.depositsInserted.WithLabelValues("btc", "mainnet")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.depositsConfirmed.WithLabelValues("btc", "mainnet")))
}
