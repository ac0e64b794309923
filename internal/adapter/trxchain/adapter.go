// Package trxchain implements the Chain Adapter capability set for Tron:
// pull-mode only, against the TRON HTTP full-node API.
package trxchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/yourusername/deposittracker/internal/adapter"
	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/chainerr"
	"github.com/yourusername/deposittracker/internal/metrics"
)

const (
	maxAttempts          = 3
	maxAttemptsRateLimit = 5
	retryBaseDur         = time.Second
	retryFloorRateLimit  = 2 * time.Second

	contractTypeTransfer      = "TransferContract"
	contractTypeTransferAsset = "TransferAssetContract"

	// tronAddressPrefix is prepended to a hex Tron address (21 bytes,
	// 0x41 + 20-byte EVM-style body) before base58check encoding.
	tronAddressPrefix byte = 0x41
)

// Adapter implements adapter.Adapter for Tron.
type Adapter struct {
	pair   chain.Pair
	client *apiClient
}

func New(pair chain.Pair, baseURL, apiKey string, collector metrics.Collector) *Adapter {
	return &Adapter{pair: pair, client: newAPIClient(baseURL, apiKey, collector, string(pair.Chain))}
}

func (a *Adapter) Pair() chain.Pair { return a.pair }

func (a *Adapter) Close() error { return a.client.Close() }

func (a *Adapter) Subscribe(ctx context.Context) (<-chan uint64, error) {
	return nil, adapter.ErrSubscribeUnsupported
}

type blockHeader struct {
	RawData struct {
		Number int64 `json:"number"`
	} `json:"raw_data"`
}

func (a *Adapter) TipHeight(ctx context.Context) (uint64, error) {
	result, err := a.postWithRetry(ctx, "/wallet/getnowblock", map[string]interface{}{})
	if err != nil {
		return 0, err
	}
	var header blockHeader
	if err := json.Unmarshal(result, &header); err != nil {
		return 0, chainerr.NewNonRetryable(chainerr.CodeRPCParse, "parse getnowblock result", err)
	}
	return uint64(header.RawData.Number), nil
}

type rawBlock struct {
	BlockID     string `json:"blockID"`
	Transactions []struct {
		TxID    string `json:"txID"`
		RawData struct {
			Timestamp int64 `json:"timestamp"`
			Contract  []struct {
				Type      string          `json:"type"`
				Parameter json.RawMessage `json:"parameter"`
			} `json:"contract"`
		} `json:"raw_data"`
	} `json:"transaction"`
}

type transferContractValue struct {
	Value struct {
		OwnerAddress string `json:"owner_address"`
		ToAddress    string `json:"to_address"`
		Amount       int64  `json:"amount"`
	} `json:"value"`
}

type transferAssetContractValue struct {
	Value struct {
		AssetName    string `json:"asset_name"`
		OwnerAddress string `json:"owner_address"`
		ToAddress    string `json:"to_address"`
		Amount       int64  `json:"amount"`
	} `json:"value"`
}

func (a *Adapter) FetchBlock(ctx context.Context, height uint64) (*adapter.NormalizedBlock, error) {
	result, err := a.postWithRetry(ctx, "/wallet/getblockbynum", map[string]interface{}{"num": height})
	if err != nil {
		return nil, err
	}
	if string(result) == "{}" || string(result) == "null" {
		return nil, fmt.Errorf("trxchain: %w: height %d", adapter.ErrBlockNotFound, height)
	}

	var block rawBlock
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, chainerr.NewNonRetryable(chainerr.CodeRPCParse, "parse getblockbynum result", err)
	}
	if block.BlockID == "" {
		return nil, fmt.Errorf("trxchain: %w: height %d", adapter.ErrBlockNotFound, height)
	}

	normalized := &adapter.NormalizedBlock{
		Height: height,
		Hash:   block.BlockID,
	}

	for _, tx := range block.Transactions {
		if len(tx.RawData.Contract) == 0 {
			continue
		}
		if normalized.Timestamp.IsZero() && tx.RawData.Timestamp > 0 {
			normalized.Timestamp = time.UnixMilli(tx.RawData.Timestamp).UTC()
		}

		contract := tx.RawData.Contract[0]
		normalizedTx, err := normalizeContract(tx.TxID, contract.Type, contract.Parameter)
		if err != nil {
			continue
		}
		if normalizedTx != nil {
			normalized.Txs = append(normalized.Txs, *normalizedTx)
		}
	}

	return normalized, nil
}

func normalizeContract(txID, contractType string, parameter json.RawMessage) (*adapter.NormalizedTx, error) {
	switch contractType {
	case contractTypeTransfer:
		var v transferContractValue
		if err := json.Unmarshal(parameter, &v); err != nil {
			return nil, err
		}
		from, err := hexToBase58(v.Value.OwnerAddress)
		if err != nil {
			return nil, err
		}
		to, err := hexToBase58(v.Value.ToAddress)
		if err != nil {
			return nil, err
		}
		return &adapter.NormalizedTx{
			Kind: adapter.KindNativeTransfer,
			Hash: txID,
			Native: &adapter.NativeTransfer{
				From:   from,
				To:     to,
				Amount: decimal.New(v.Value.Amount, -6), // TRX has 6 decimals
			},
		}, nil

	case contractTypeTransferAsset:
		var v transferAssetContractValue
		if err := json.Unmarshal(parameter, &v); err != nil {
			return nil, err
		}
		from, err := hexToBase58(v.Value.OwnerAddress)
		if err != nil {
			return nil, err
		}
		to, err := hexToBase58(v.Value.ToAddress)
		if err != nil {
			return nil, err
		}
		return &adapter.NormalizedTx{
			Kind: adapter.KindTokenTransfer,
			Hash: txID,
			Token: &adapter.TokenTransfer{
				From:            from,
				To:              to,
				Amount:          decimal.NewFromInt(v.Value.Amount), // rescaled by the wallet filter using the token's decimals and asset_name as symbol
				ContractAddress: v.Value.AssetName,
			},
		}, nil

	default:
		return nil, nil
	}
}

// hexToBase58 converts a Tron hex address (41-prefixed, 21 bytes) to its
// base58check representation.
func hexToBase58(hexAddr string) (string, error) {
	if hexAddr == "" {
		return "", errors.New("trxchain: empty address")
	}
	raw, err := hexDecode(hexAddr)
	if err != nil {
		return "", fmt.Errorf("trxchain: decode hex address: %w", err)
	}
	if len(raw) == 0 || raw[0] != tronAddressPrefix {
		return "", fmt.Errorf("trxchain: unexpected address prefix in %q", hexAddr)
	}
	checksum := doubleSHA256(raw)
	withChecksum := append(append([]byte{}, raw...), checksum[:4]...)
	return base58.Encode(withChecksum), nil
}

func doubleSHA256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

func hexDecode(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func (a *Adapter) postWithRetry(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	var lastErr error
	limit := maxAttempts

	for attempt := 0; attempt < limit; attempt++ {
		result, err := a.client.post(ctx, path, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var rateLimited errRateLimited
		if errors.As(err, &rateLimited) && limit != maxAttemptsRateLimit {
			// widen the retry budget once we know this is rate-limiting,
			// per SPEC_FULL §4.2 (5 attempts, 2s floor, for Tron 403).
			limit = maxAttemptsRateLimit
		}

		if attempt == limit-1 {
			break
		}

		wait := retryBaseDur * time.Duration(attempt+1)
		if errors.As(err, &rateLimited) && wait < retryFloorRateLimit {
			wait = retryFloorRateLimit
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, chainerr.NewRetryable(chainerr.CodeRPCUnavailable, fmt.Sprintf("%s failed after retries", path), nil, lastErr)
}
