// Package xrpchain implements the Chain Adapter capability set for the
// XRP Ledger: pull-mode only, over a WebSocket connection using the
// server_info and ledger commands.
package xrpchain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourusername/deposittracker/internal/adapter"
	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/chainerr"
	"github.com/yourusername/deposittracker/internal/rpcclient"
)

const (
	maxAttempts  = 3
	retryBaseDur = time.Second

	// dropsDecimals is the fixed scale of native XRP: 1 XRP = 10^6 drops.
	dropsDecimals = 6
)

// Adapter implements adapter.Adapter for the XRP Ledger.
type Adapter struct {
	pair chain.Pair
	ws   *rpcclient.WSClient
}

func New(pair chain.Pair, ws *rpcclient.WSClient) *Adapter {
	return &Adapter{pair: pair, ws: ws}
}

func (a *Adapter) Pair() chain.Pair { return a.pair }

func (a *Adapter) Close() error { return a.ws.Close() }

func (a *Adapter) Subscribe(ctx context.Context) (<-chan uint64, error) {
	return nil, adapter.ErrSubscribeUnsupported
}

type serverInfoResult struct {
	Info struct {
		ValidatedLedger struct {
			Seq uint64 `json:"seq"`
		} `json:"validated_ledger"`
	} `json:"info"`
}

func (a *Adapter) TipHeight(ctx context.Context) (uint64, error) {
	result, err := a.callWithRetry(ctx, "server_info", map[string]interface{}{})
	if err != nil {
		return 0, err
	}
	var info serverInfoResult
	if err := json.Unmarshal(result, &info); err != nil {
		return 0, chainerr.NewNonRetryable(chainerr.CodeRPCParse, "parse server_info result", err)
	}
	return info.Info.ValidatedLedger.Seq, nil
}

// issuedAmount is the shape of Amount when it is an issued currency rather
// than a plain drops string.
type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

type rawTransaction struct {
	Hash            string          `json:"hash"`
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	DestinationTag  *uint32         `json:"DestinationTag"`
	Amount          json.RawMessage `json:"Amount"`
}

type ledgerResult struct {
	Ledger struct {
		LedgerIndex  string           `json:"ledger_index"`
		CloseTime    int64            `json:"close_time"`
		Transactions []rawTransaction `json:"transactions"`
	} `json:"ledger"`
}

func (a *Adapter) FetchBlock(ctx context.Context, height uint64) (*adapter.NormalizedBlock, error) {
	result, err := a.callWithRetry(ctx, "ledger", map[string]interface{}{
		"ledger_index": height,
		"transactions": true,
		"expand":       true,
	})
	if err != nil {
		return nil, fmt.Errorf("xrpchain: %w: ledger %d: %v", adapter.ErrBlockNotFound, height, err)
	}

	var ledger ledgerResult
	if err := json.Unmarshal(result, &ledger); err != nil {
		return nil, chainerr.NewNonRetryable(chainerr.CodeRPCParse, "parse ledger result", err)
	}

	// ripple epoch starts 2000-01-01T00:00:00Z, 946684800s after unix epoch.
	const rippleEpochOffset = 946684800
	normalized := &adapter.NormalizedBlock{
		Height:    height,
		Hash:      ledger.Ledger.LedgerIndex,
		Timestamp: time.Unix(ledger.Ledger.CloseTime+rippleEpochOffset, 0).UTC(),
	}

	for _, tx := range ledger.Ledger.Transactions {
		if tx.TransactionType != "Payment" {
			continue
		}
		payment, err := normalizePayment(tx)
		if err != nil {
			continue
		}
		normalized.Txs = append(normalized.Txs, adapter.NormalizedTx{
			Kind: adapter.KindPayment,
			Hash: tx.Hash,
			XRP:  payment,
		})
	}

	return normalized, nil
}

func normalizePayment(tx rawTransaction) (*adapter.Payment, error) {
	var asString string
	if err := json.Unmarshal(tx.Amount, &asString); err == nil {
		drops, parseErr := decimal.NewFromString(asString)
		if parseErr != nil {
			return nil, fmt.Errorf("xrpchain: parse drops amount: %w", parseErr)
		}
		return &adapter.Payment{
			From:           tx.Account,
			To:             tx.Destination,
			Amount:         drops.Shift(-dropsDecimals),
			DestinationTag: tx.DestinationTag,
		}, nil
	}

	var issued issuedAmount
	if err := json.Unmarshal(tx.Amount, &issued); err != nil {
		return nil, fmt.Errorf("xrpchain: parse issued currency amount: %w", err)
	}
	value, err := decimal.NewFromString(issued.Value)
	if err != nil {
		return nil, fmt.Errorf("xrpchain: parse issued currency value: %w", err)
	}
	return &adapter.Payment{
		From:           tx.Account,
		To:             tx.Destination,
		Amount:         value,
		CurrencyCode:   issued.Currency,
		IssuerAddress:  issued.Issuer,
		DestinationTag: tx.DestinationTag,
	}, nil
}

func (a *Adapter) callWithRetry(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := a.ws.Call(ctx, method, params)
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
