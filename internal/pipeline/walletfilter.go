package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yourusername/deposittracker/internal/adapter"
	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/model"
	"github.com/yourusername/deposittracker/internal/storage"
)

// walletFilter matches normalized transactions against the owned wallet
// directory and writes matching deposits. One instance is built fresh per
// block per spec §4.4 ("the reference behavior queries per block").
type walletFilter struct {
	storage  storage.Gateway
	pair     chain.Pair
	byAddress map[string]model.Wallet
}

func newWalletFilter(ctx context.Context, store storage.Gateway, pair chain.Pair) (*walletFilter, error) {
	wallets, err := store.FindWallets(ctx, pair.Chain, pair.Network)
	if err != nil {
		return nil, fmt.Errorf("pipeline: find wallets: %w", err)
	}

	byAddress := make(map[string]model.Wallet, len(wallets))
	for _, w := range wallets {
		byAddress[canonicalAddress(pair.Chain, w.Address)] = w
	}

	return &walletFilter{storage: store, pair: pair, byAddress: byAddress}, nil
}

// canonicalAddress normalizes address to the chain's canonical form (spec
// §9): EVM lowercase hex, Tron base58 as-is, Bitcoin as returned by
// scriptPubKey, XRP classic address as-is.
func canonicalAddress(chainKey chain.Key, address string) string {
	switch chainKey {
	case chain.ETH, chain.BSC:
		return strings.ToLower(address)
	default:
		return address
	}
}

// process matches tx against the wallet directory and writes one Deposit
// row per matching destination. It returns the number of deposits
// written, which feeds the pipeline's deposit-inserted metric.
func (f *walletFilter) process(ctx context.Context, blockHash string, blockNumber uint64, tx adapter.NormalizedTx) (int, error) {
	switch tx.Kind {
	case adapter.KindNativeTransfer:
		return f.processSingle(ctx, blockHash, blockNumber, tx.Hash, tx.Native.To, tx.Native.From, "", tx.Native.Amount)

	case adapter.KindTokenTransfer:
		return f.processTokenTransfer(ctx, blockHash, blockNumber, tx)

	case adapter.KindMultiOutput:
		return f.processMultiOutput(ctx, blockHash, blockNumber, tx)

	case adapter.KindPayment:
		return f.processPayment(ctx, blockHash, blockNumber, tx)
	}
	return 0, nil
}

func (f *walletFilter) processTokenTransfer(ctx context.Context, blockHash string, blockNumber uint64, tx adapter.NormalizedTx) (int, error) {
	wallet, ok := f.byAddress[canonicalAddress(f.pair.Chain, tx.Token.To)]
	if !ok {
		return 0, nil
	}

	filter := storage.TokenFilter{
		Blockchain:      f.pair.Chain,
		ContractAddress: canonicalAddress(f.pair.Chain, tx.Token.ContractAddress),
	}
	if f.pair.Chain == chain.TRX {
		// trxchain carries a TransferAssetContract's asset_name in
		// ContractAddress; Tron assets are resolved by TRC20 symbol.
		filter = storage.TokenFilter{Blockchain: f.pair.Chain, NetworkVersion: model.VersionTRC20, Symbol: tx.Token.ContractAddress}
	}
	token, err := f.storage.FindTokenBy(ctx, filter)
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, nil // spec §7.4: token not found is silently ignored
		}
		return 0, err
	}

	amount := rescale(tx.Token.Amount, token.Decimals)
	return f.insert(ctx, blockHash, blockNumber, tx.Hash, wallet, token, tx.Token.From, tx.Token.ContractAddress, amount)
}

func (f *walletFilter) processSingle(ctx context.Context, blockHash string, blockNumber uint64, txHash, to, from, contractAddress string, amount decimal.Decimal) (int, error) {
	wallet, ok := f.byAddress[canonicalAddress(f.pair.Chain, to)]
	if !ok {
		return 0, nil
	}

	token, err := f.storage.FindTokenBy(ctx, storage.TokenFilter{
		Blockchain:     f.pair.Chain,
		NetworkVersion: model.VersionNative,
	})
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}

	return f.insert(ctx, blockHash, blockNumber, txHash, wallet, token, from, contractAddress, amount)
}

func (f *walletFilter) processMultiOutput(ctx context.Context, blockHash string, blockNumber uint64, tx adapter.NormalizedTx) (int, error) {
	token, err := f.storage.FindTokenBy(ctx, storage.TokenFilter{
		Blockchain:     f.pair.Chain,
		NetworkVersion: model.VersionNative,
		Symbol:         "BTC",
	})
	if err != nil {
		if err == storage.ErrNotFound {
			// spec §4.4: absence of the single active BTC token is fatal
			// configuration, not a per-tx skip.
			return 0, fmt.Errorf("pipeline: no active BTC native token configured")
		}
		return 0, err
	}

	written := 0
	for _, out := range tx.UTXO.Outputs {
		wallet, ok := f.byAddress[canonicalAddress(f.pair.Chain, out.Address)]
		if !ok {
			continue
		}
		n, err := f.insert(ctx, blockHash, blockNumber, tx.Hash, wallet, token, "", "", out.Amount)
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (f *walletFilter) processPayment(ctx context.Context, blockHash string, blockNumber uint64, tx adapter.NormalizedTx) (int, error) {
	wallet, ok := f.byAddress[canonicalAddress(f.pair.Chain, tx.XRP.To)]
	if !ok {
		return 0, nil
	}

	token, err := f.storage.FindTokenBy(ctx, storage.TokenFilter{
		Blockchain:     f.pair.Chain,
		NetworkVersion: model.VersionNative,
		Symbol:         "XRP",
	})
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}

	return f.insert(ctx, blockHash, blockNumber, tx.Hash, wallet, token, tx.XRP.From, "", tx.XRP.Amount)
}
