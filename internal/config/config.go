// Package config loads daemon configuration from the environment using
// envconfig, the same approach the hdpay reference payment service uses
// for its own RPC endpoint and credential wiring.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of environment-driven settings for trackerd. All
// fields are read from DEPOSITTRACKER_* environment variables by Load.
type Config struct {
	// HTTPAddr is where the daemon serves /healthz/{chain}/{network} and
	// /metrics.
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// StorageDSN is the SQLite data source name for the Storage Gateway.
	StorageDSN string `envconfig:"STORAGE_DSN" default:"file:deposittracker.db?_pragma=busy_timeout(5000)"`

	ETH ChainEndpoints `envconfig:"ETH"`
	BSC ChainEndpoints `envconfig:"BSC"`
	BTC ChainEndpoints `envconfig:"BTC"`
	TRX ChainEndpoints `envconfig:"TRX"`
	XRP ChainEndpoints `envconfig:"XRP"`

	// BTCRPCUser/BTCRPCPass are HTTP basic auth credentials for the
	// Bitcoin Core RPC endpoints (spec §6: Bitcoin nodes are typically
	// behind basic auth, unlike the other chains' bearer/API-key schemes).
	BTCRPCUser string `envconfig:"BTC_RPC_USER"`
	BTCRPCPass string `envconfig:"BTC_RPC_PASS"`

	// TronAPIKey is sent as the TRON-PRO-API-KEY header on every TronGrid
	// request.
	TronAPIKey string `envconfig:"TRON_API_KEY"`

	// RPCTimeout bounds each HTTP JSON-RPC call made through
	// rpcclient.HTTPClient (eth, bsc, btc). The Tron client uses its own
	// fixed 30s timeout, and WebSocket calls are bounded only by their
	// context.
	RPCTimeout time.Duration `envconfig:"RPC_TIMEOUT" default:"10s"`
}

// ChainEndpoints holds one chain's mainnet and testnet RPC endpoint lists.
// The *Endpoints fields are comma-separated lists (envconfig splits them
// automatically) feeding the HTTP failover pool in rpcclient.HTTPClient;
// the *WS fields carry the WebSocket URL used by eth/bsc for newHeads
// subscriptions and by xrp for all of its calls.
//
// PollIntervalOverride/BlockDelayOverride let a deployment tune a single
// chain/network pair's pull-mode tick interval and inter-block sleep
// without touching internal/chain's built-in tables; zero means "use the
// chain's default" (see chain.CheckInterval/BlockDelay).
type ChainEndpoints struct {
	MainnetEndpoints []string `envconfig:"MAINNET_ENDPOINTS"`
	TestnetEndpoints []string `envconfig:"TESTNET_ENDPOINTS"`
	MainnetWS        string   `envconfig:"MAINNET_WS"`
	TestnetWS        string   `envconfig:"TESTNET_WS"`

	MainnetPollIntervalOverride time.Duration `envconfig:"MAINNET_POLL_INTERVAL_OVERRIDE"`
	TestnetPollIntervalOverride time.Duration `envconfig:"TESTNET_POLL_INTERVAL_OVERRIDE"`
	MainnetBlockDelayOverride   time.Duration `envconfig:"MAINNET_BLOCK_DELAY_OVERRIDE"`
	TestnetBlockDelayOverride   time.Duration `envconfig:"TESTNET_BLOCK_DELAY_OVERRIDE"`
}

// Load populates a Config from the environment under the DEPOSITTRACKER
// prefix, e.g. DEPOSITTRACKER_ETH_MAINNET_ENDPOINTS, DEPOSITTRACKER_BTC_RPC_USER.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("deposittracker", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
