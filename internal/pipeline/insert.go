package pipeline

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/yourusername/deposittracker/internal/model"
	"github.com/yourusername/deposittracker/internal/storage"
)

// insert writes a pending deposit row for wallet/token. Duplicate inserts
// (invariant I1) are swallowed, not propagated, since a replayed block
// tick must not be treated as an error.
func (f *walletFilter) insert(ctx context.Context, blockHash string, blockNumber uint64, txHash string, wallet model.Wallet, token *model.Token, from, contractAddress string, amount decimal.Decimal) (int, error) {
	height := blockNumber
	deposit := &model.Deposit{
		UserID:         wallet.UserID,
		WalletID:       wallet.ID,
		TokenID:        token.ID,
		TxHash:         txHash,
		Amount:         amount,
		Blockchain:     f.pair.Chain,
		Network:        f.pair.Network,
		NetworkVersion: token.NetworkVersion,
		BlockNumber:    &height,
		Status:         model.StatusPending,
		Confirmations:  0,
		Metadata: model.DepositMetadata{
			From:            from,
			ContractAddress: contractAddress,
			BlockHash:       blockHash,
		},
	}

	if err := f.storage.InsertDeposit(ctx, deposit); err != nil {
		if err == storage.ErrDuplicateDeposit {
			return 0, nil
		}
		return 0, err
	}
	return 1, nil
}

// rescale converts a raw integer token amount (as reported by an adapter
// that does not know the token's decimals at decode time) into its human
// decimal form.
func rescale(raw decimal.Decimal, decimals int32) decimal.Decimal {
	return raw.Shift(-decimals)
}
