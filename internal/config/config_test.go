package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "DEPOSITTRACKER_HTTP_ADDR", "DEPOSITTRACKER_STORAGE_DSN", "DEPOSITTRACKER_RPC_TIMEOUT")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Contains(t, cfg.StorageDSN, "deposittracker.db")
	require.Equal(t, "10s", cfg.RPCTimeout.String())
}

func TestLoad_ChainEndpointsSplitOnComma(t *testing.T) {
	require.NoError(t, os.Setenv("DEPOSITTRACKER_ETH_MAINNET_ENDPOINTS", "https://a.example,https://b.example"))
	require.NoError(t, os.Setenv("DEPOSITTRACKER_ETH_MAINNET_WS", "wss://ws.example"))
	t.Cleanup(func() {
		os.Unsetenv("DEPOSITTRACKER_ETH_MAINNET_ENDPOINTS")
		os.Unsetenv("DEPOSITTRACKER_ETH_MAINNET_WS")
	})

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.ETH.MainnetEndpoints)
	require.Equal(t, "wss://ws.example", cfg.ETH.MainnetWS)
}

func TestLoad_TimingOverridesDefaultToZero(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Zero(t, cfg.BTC.MainnetBlockDelayOverride)
	require.Zero(t, cfg.BTC.MainnetPollIntervalOverride)
}

func TestLoad_TimingOverrideParsedAsDuration(t *testing.T) {
	require.NoError(t, os.Setenv("DEPOSITTRACKER_BTC_MAINNET_POLL_INTERVAL_OVERRIDE", "45s"))
	require.NoError(t, os.Setenv("DEPOSITTRACKER_BTC_MAINNET_BLOCK_DELAY_OVERRIDE", "3s"))
	t.Cleanup(func() {
		os.Unsetenv("DEPOSITTRACKER_BTC_MAINNET_POLL_INTERVAL_OVERRIDE")
		os.Unsetenv("DEPOSITTRACKER_BTC_MAINNET_BLOCK_DELAY_OVERRIDE")
	})

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "45s", cfg.BTC.MainnetPollIntervalOverride.String())
	require.Equal(t, "3s", cfg.BTC.MainnetBlockDelayOverride.String())
}

func TestLoad_BTCCredentials(t *testing.T) {
	require.NoError(t, os.Setenv("DEPOSITTRACKER_BTC_RPC_USER", "node-user"))
	require.NoError(t, os.Setenv("DEPOSITTRACKER_BTC_RPC_PASS", "node-pass"))
	t.Cleanup(func() {
		os.Unsetenv("DEPOSITTRACKER_BTC_RPC_USER")
		os.Unsetenv("DEPOSITTRACKER_BTC_RPC_PASS")
	})

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "node-user", cfg.BTCRPCUser)
	require.Equal(t, "node-pass", cfg.BTCRPCPass)
}
