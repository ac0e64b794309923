// Package btcchain implements the Chain Adapter capability set for
// Bitcoin: pull-mode only, driven by getblockhash/getblock against a
// bitcoind-compatible JSON-RPC endpoint.
package btcchain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/shopspring/decimal"

	"github.com/yourusername/deposittracker/internal/adapter"
	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/chainerr"
	"github.com/yourusername/deposittracker/internal/rpcclient"
)

const (
	maxAttempts  = 3
	retryBaseDur = time.Second
)

// Adapter implements adapter.Adapter for Bitcoin. There is no push mode:
// Subscribe always returns adapter.ErrSubscribeUnsupported.
type Adapter struct {
	pair      chain.Pair
	client    rpcclient.Client
	netParams *chaincfg.Params
}

func New(pair chain.Pair, client rpcclient.Client) *Adapter {
	return &Adapter{pair: pair, client: client, netParams: netParamsFor(pair.Network)}
}

func netParamsFor(network chain.Network) *chaincfg.Params {
	if network == chain.Testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

func (a *Adapter) Pair() chain.Pair { return a.pair }

func (a *Adapter) Close() error { return a.client.Close() }

func (a *Adapter) Subscribe(ctx context.Context) (<-chan uint64, error) {
	return nil, adapter.ErrSubscribeUnsupported
}

func (a *Adapter) TipHeight(ctx context.Context) (uint64, error) {
	result, err := a.callWithRetry(ctx, "getblockcount", []interface{}{})
	if err != nil {
		return 0, err
	}
	var height uint64
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, chainerr.NewNonRetryable(chainerr.CodeRPCParse, "parse getblockcount result", err)
	}
	return height, nil
}

type rawBlockVerbose2 struct {
	Hash string  `json:"hash"`
	Time int64   `json:"time"`
	Tx   []rawTx `json:"tx"`
}

type rawTx struct {
	TxID string    `json:"txid"`
	Vout []rawVout `json:"vout"`
}

type rawVout struct {
	// Value is decoded as json.Number, not float64: bitcoind reports BTC
	// amounts as a decimal literal and this must reach decimal.Decimal via
	// its original text, never folded through IEEE-754 binary float64.
	Value        json.Number `json:"value"`
	N            uint32      `json:"n"`
	ScriptPubKey struct {
		Addresses []string `json:"addresses"`
		Address   string   `json:"address"`
		Hex       string   `json:"hex"`
	} `json:"scriptPubKey"`
}

// resolveAddress extracts the destination address of a vout. Older and
// pruned nodes omit the resolved "address"/"addresses" fields from
// scriptPubKey verbosity-2 JSON, so the pkScript hex is decoded directly
// with txscript rather than trusting the node to have done it; this also
// lets a single code path handle P2PKH, P2SH, P2WPKH, and P2WSH alike.
func resolveAddress(scriptPubKey struct {
	Addresses []string `json:"addresses"`
	Address   string   `json:"address"`
	Hex       string   `json:"hex"`
}, netParams *chaincfg.Params) string {
	if script, err := hex.DecodeString(scriptPubKey.Hex); err == nil && len(script) > 0 {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, netParams)
		if err == nil && len(addrs) > 0 {
			return addrs[0].EncodeAddress()
		}
	}
	if scriptPubKey.Address != "" {
		return scriptPubKey.Address
	}
	if len(scriptPubKey.Addresses) > 0 {
		return scriptPubKey.Addresses[0]
	}
	return ""
}

func (a *Adapter) FetchBlock(ctx context.Context, height uint64) (*adapter.NormalizedBlock, error) {
	hashResult, err := a.client.Call(ctx, "getblockhash", []interface{}{height})
	if err != nil {
		// bitcoind returns RPC error -8 ("Block height out of range") for
		// a height beyond the current tip; treat any getblockhash failure
		// here as not-found rather than retrying, since TipHeight already
		// bounds the caller's range.
		return nil, fmt.Errorf("btcchain: %w: height %d: %v", adapter.ErrBlockNotFound, height, err)
	}
	var hash string
	if err := json.Unmarshal(hashResult, &hash); err != nil {
		return nil, chainerr.NewNonRetryable(chainerr.CodeRPCParse, "parse getblockhash result", err)
	}
	if hash == "" {
		return nil, fmt.Errorf("btcchain: %w: height %d", adapter.ErrBlockNotFound, height)
	}

	blockResult, err := a.callWithRetry(ctx, "getblock", []interface{}{hash, 2})
	if err != nil {
		return nil, err
	}
	var block rawBlockVerbose2
	if err := json.Unmarshal(blockResult, &block); err != nil {
		return nil, chainerr.NewNonRetryable(chainerr.CodeRPCParse, "parse getblock result", err)
	}

	normalized := &adapter.NormalizedBlock{
		Height:    height,
		Hash:      block.Hash,
		Timestamp: time.Unix(block.Time, 0).UTC(),
	}

	for _, tx := range block.Tx {
		outputs := make([]adapter.UTXOOutput, 0, len(tx.Vout))
		for _, vout := range tx.Vout {
			addr := resolveAddress(vout.ScriptPubKey, a.netParams)
			if addr == "" {
				continue
			}
			amount, err := decimal.NewFromString(vout.Value.String())
			if err != nil {
				return nil, chainerr.NewNonRetryable(chainerr.CodeRPCParse, fmt.Sprintf("parse vout value %q", vout.Value.String()), err)
			}
			outputs = append(outputs, adapter.UTXOOutput{
				Address: addr,
				Amount:  amount,
				Index:   vout.N,
			})
		}
		if len(outputs) == 0 {
			continue
		}
		normalized.Txs = append(normalized.Txs, adapter.NormalizedTx{
			Kind: adapter.KindMultiOutput,
			Hash: tx.TxID,
			UTXO: &adapter.MultiOutput{Outputs: outputs},
		})
	}

	return normalized, nil
}

func (a *Adapter) callWithRetry(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := a.client.Call(ctx, method, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-time.After(retryBaseDur * time.Duration(attempt+1)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, chainerr.NewRetryable(chainerr.CodeRPCUnavailable, fmt.Sprintf("%s failed after %d attempts", method, maxAttempts), nil, lastErr)
}
