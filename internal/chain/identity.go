// Package chain defines the chain/network identity used as the key for
// queues, checkpoints, and log lines throughout the tracker.
package chain

import (
	"fmt"
	"time"
)

// Key is a normalized short chain code. The external name "bitcoin" is
// always mapped to "btc" before it reaches any storage boundary.
type Key string

const (
	ETH Key = "eth"
	BSC Key = "bsc"
	BTC Key = "btc"
	TRX Key = "trx"
	XRP Key = "xrp"
)

// Network is the deployment target for a chain.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// NormalizeKey maps external chain names onto the stored key, per spec:
// "bitcoin" normalizes to "btc". Unknown names pass through unchanged so
// callers can still detect a bad config instead of silently coercing it.
func NormalizeKey(name string) Key {
	if name == "bitcoin" {
		return BTC
	}
	return Key(name)
}

// Pair is the unique identity of a monitored target: (chain, network).
type Pair struct {
	Chain   Key
	Network Network
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Chain, p.Network)
}

// CheckpointKey renders the storage key for this pair's checkpoint, per
// spec §6: "last_processed_block_{chainKey}_{network}".
func (p Pair) CheckpointKey() string {
	return fmt.Sprintf("last_processed_block_%s_%s", p.Chain, p.Network)
}

// requiredConfirmations is the confirmation table from spec §6.
var requiredConfirmations = map[Key]map[Network]int{
	ETH: {Mainnet: 12, Testnet: 5},
	BSC: {Mainnet: 15, Testnet: 6},
	BTC: {Mainnet: 3, Testnet: 2},
	TRX: {Mainnet: 20, Testnet: 10},
	XRP: {Mainnet: 4, Testnet: 2},
}

// RequiredConfirmations returns the confirmation threshold at which a
// deposit on this pair is credited. Panics on an unknown chain key since
// that indicates a wiring bug, not a runtime condition.
func RequiredConfirmations(p Pair) int {
	byNetwork, ok := requiredConfirmations[p.Chain]
	if !ok {
		panic(fmt.Sprintf("chain: no confirmation table entry for chain %q", p.Chain))
	}
	n, ok := byNetwork[p.Network]
	if !ok {
		panic(fmt.Sprintf("chain: no confirmation table entry for %s", p))
	}
	return n
}

// blockDelays is the per-chain inter-block sleep from spec §6 (milliseconds,
// expressed here as time.Duration).
var blockDelays = map[Key]time.Duration{
	ETH: 1000 * time.Millisecond,
	BSC: 500 * time.Millisecond,
	BTC: 2000 * time.Millisecond,
	TRX: 5000 * time.Millisecond,
	XRP: 2000 * time.Millisecond,
}

// BlockDelay returns the configured sleep between processed blocks for key.
func BlockDelay(key Key) time.Duration {
	if d, ok := blockDelays[key]; ok {
		return d
	}
	return time.Second
}

// checkIntervals is the per-chain pull-mode tick interval from spec §6.
var checkIntervals = map[Key]time.Duration{
	ETH: 30 * time.Second,
	BSC: 30 * time.Second,
	BTC: 120 * time.Second,
	TRX: 10 * time.Second,
	XRP: 30 * time.Second,
}

// CheckInterval returns the configured pull-mode tick interval for key.
func CheckInterval(key Key) time.Duration {
	if d, ok := checkIntervals[key]; ok {
		return d
	}
	return 30 * time.Second
}

// PullBatchSize bounds how many blocks a single pull-mode tick processes,
// per spec §4.3: BTC windows of 50, TRX at most 5 per tick (rate-limit
// compliance), XRP the full gap.
func PullBatchSize(key Key) int {
	switch key {
	case BTC:
		return 50
	case TRX:
		return 5
	default:
		return 1 << 30 // effectively unbounded (XRP: full gap)
	}
}

// IsPushMode reports whether key drives its pipeline via a push
// subscription (EVM chains) rather than a pull-mode poll timer.
func IsPushMode(key Key) bool {
	return key == ETH || key == BSC
}
