package pipeline

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/deposittracker/internal/adapter"
	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/model"
	"github.com/yourusername/deposittracker/internal/storage"
)

func TestWalletFilter_NativeTransfer_MatchesCaseInsensitiveAddress(t *testing.T) {
	ctx := context.Background()
	gw := storage.NewMemoryGateway()
	pair := chain.Pair{Chain: chain.ETH, Network: chain.Mainnet}

	gw.SeedWallet(model.Wallet{ID: "w1", UserID: "u1", Address: "0xAbC123", Chain: chain.ETH, Network: chain.Mainnet})
	gw.SeedToken(model.Token{ID: "tok-eth", Blockchain: chain.ETH, NetworkVersion: model.VersionNative, Symbol: "ETH", Decimals: 18, IsActive: true})

	filter, err := newWalletFilter(ctx, gw, pair)
	require.NoError(t, err)

	tx := adapter.NormalizedTx{
		Kind: adapter.KindNativeTransfer,
		Hash: "0xtx1",
		Native: &adapter.NativeTransfer{
			From:   "0xsender",
			To:     "0xabc123", // lowercase on the wire
			Amount: decimal.NewFromFloat(1.25),
		},
	}

	written, err := filter.process(ctx, "0xblockhash", 100, tx)
	require.NoError(t, err)
	require.Equal(t, 1, written)
}

func TestWalletFilter_NativeTransfer_UnknownAddressIsIgnored(t *testing.T) {
	ctx := context.Background()
	gw := storage.NewMemoryGateway()
	pair := chain.Pair{Chain: chain.ETH, Network: chain.Mainnet}
	gw.SeedToken(model.Token{ID: "tok-eth", Blockchain: chain.ETH, NetworkVersion: model.VersionNative, Symbol: "ETH", Decimals: 18, IsActive: true})

	filter, err := newWalletFilter(ctx, gw, pair)
	require.NoError(t, err)

	tx := adapter.NormalizedTx{
		Kind:   adapter.KindNativeTransfer,
		Hash:   "0xtx1",
		Native: &adapter.NativeTransfer{From: "0xsender", To: "0xnotowned", Amount: decimal.NewFromInt(1)},
	}

	written, err := filter.process(ctx, "0xblockhash", 100, tx)
	require.NoError(t, err)
	require.Equal(t, 0, written)
}

func TestWalletFilter_TokenTransfer_RescalesByDecimals(t *testing.T) {
	ctx := context.Background()
	gw := storage.NewMemoryGateway()
	pair := chain.Pair{Chain: chain.ETH, Network: chain.Mainnet}

	gw.SeedWallet(model.Wallet{ID: "w1", UserID: "u1", Address: "0xabc", Chain: chain.ETH, Network: chain.Mainnet})
	gw.SeedToken(model.Token{
		ID: "tok-usdt", Blockchain: chain.ETH, NetworkVersion: model.VersionERC20,
		ContractAddress: "0xcontract", Decimals: 6, Symbol: "USDT", IsActive: true,
	})

	filter, err := newWalletFilter(ctx, gw, pair)
	require.NoError(t, err)

	tx := adapter.NormalizedTx{
		Kind: adapter.KindTokenTransfer,
		Hash: "0xtx2",
		Token: &adapter.TokenTransfer{
			From: "0xsender", To: "0xabc",
			Amount:          decimal.NewFromInt(5_000_000), // raw units
			ContractAddress: "0xcontract",
		},
	}

	written, err := filter.process(ctx, "0xblockhash", 100, tx)
	require.NoError(t, err)
	require.Equal(t, 1, written)

	deposits, err := gw.FindPendingDeposits(ctx, chain.ETH, chain.Mainnet)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	require.True(t, deposits[0].Amount.Equal(decimal.NewFromInt(5)))
}

func TestWalletFilter_TokenTransfer_UnknownContractIsSilentlyIgnored(t *testing.T) {
	ctx := context.Background()
	gw := storage.NewMemoryGateway()
	pair := chain.Pair{Chain: chain.ETH, Network: chain.Mainnet}
	gw.SeedWallet(model.Wallet{ID: "w1", UserID: "u1", Address: "0xabc", Chain: chain.ETH, Network: chain.Mainnet})

	filter, err := newWalletFilter(ctx, gw, pair)
	require.NoError(t, err)

	tx := adapter.NormalizedTx{
		Kind: adapter.KindTokenTransfer,
		Hash: "0xtx3",
		Token: &adapter.TokenTransfer{From: "0xsender", To: "0xabc", Amount: decimal.NewFromInt(1), ContractAddress: "0xunregistered"},
	}

	written, err := filter.process(ctx, "0xblockhash", 100, tx)
	require.NoError(t, err)
	require.Equal(t, 0, written)
}

func TestWalletFilter_MultiOutput_MissingNativeBTCTokenIsFatal(t *testing.T) {
	ctx := context.Background()
	gw := storage.NewMemoryGateway()
	pair := chain.Pair{Chain: chain.BTC, Network: chain.Mainnet}
	gw.SeedWallet(model.Wallet{ID: "w1", UserID: "u1", Address: "bc1qowned", Chain: chain.BTC, Network: chain.Mainnet})
	// deliberately: no BTC native token seeded.

	filter, err := newWalletFilter(ctx, gw, pair)
	require.NoError(t, err)

	tx := adapter.NormalizedTx{
		Kind: adapter.KindMultiOutput,
		Hash: "0xutxo",
		UTXO: &adapter.MultiOutput{Outputs: []adapter.UTXOOutput{{Address: "bc1qowned", Amount: decimal.NewFromFloat(0.5), Index: 0}}},
	}

	_, err = filter.process(ctx, "0xblockhash", 100, tx)
	require.Error(t, err)
}

func TestWalletFilter_MultiOutput_MultipleMatchingOutputs(t *testing.T) {
	ctx := context.Background()
	gw := storage.NewMemoryGateway()
	pair := chain.Pair{Chain: chain.BTC, Network: chain.Mainnet}
	gw.SeedWallet(model.Wallet{ID: "w1", UserID: "u1", Address: "bc1qowned1", Chain: chain.BTC, Network: chain.Mainnet})
	gw.SeedWallet(model.Wallet{ID: "w2", UserID: "u2", Address: "bc1qowned2", Chain: chain.BTC, Network: chain.Mainnet})
	gw.SeedToken(model.Token{ID: "tok-btc", Blockchain: chain.BTC, NetworkVersion: model.VersionNative, Symbol: "BTC", Decimals: 8, IsActive: true})

	filter, err := newWalletFilter(ctx, gw, pair)
	require.NoError(t, err)

	tx := adapter.NormalizedTx{
		Kind: adapter.KindMultiOutput,
		Hash: "0xutxo2",
		UTXO: &adapter.MultiOutput{Outputs: []adapter.UTXOOutput{
			{Address: "bc1qowned1", Amount: decimal.NewFromFloat(0.1), Index: 0},
			{Address: "bc1qunowned", Amount: decimal.NewFromFloat(0.2), Index: 1},
			{Address: "bc1qowned2", Amount: decimal.NewFromFloat(0.3), Index: 2},
		}},
	}

	written, err := filter.process(ctx, "0xblockhash", 100, tx)
	require.NoError(t, err)
	require.Equal(t, 2, written)
}

func TestWalletFilter_Payment_MatchesXRPDestination(t *testing.T) {
	ctx := context.Background()
	gw := storage.NewMemoryGateway()
	pair := chain.Pair{Chain: chain.XRP, Network: chain.Mainnet}
	gw.SeedWallet(model.Wallet{ID: "w1", UserID: "u1", Address: "rOwnedAddress", Chain: chain.XRP, Network: chain.Mainnet})
	gw.SeedToken(model.Token{ID: "tok-xrp", Blockchain: chain.XRP, NetworkVersion: model.VersionNative, Symbol: "XRP", Decimals: 6, IsActive: true})

	filter, err := newWalletFilter(ctx, gw, pair)
	require.NoError(t, err)

	tx := adapter.NormalizedTx{
		Kind: adapter.KindPayment,
		Hash: "0xpay1",
		XRP:  &adapter.Payment{From: "rSender", To: "rOwnedAddress", Amount: decimal.NewFromFloat(10)},
	}

	written, err := filter.process(ctx, "0xblockhash", 100, tx)
	require.NoError(t, err)
	require.Equal(t, 1, written)
}

func TestInsert_DuplicateIsSwallowedNotErrored(t *testing.T) {
	ctx := context.Background()
	gw := storage.NewMemoryGateway()
	pair := chain.Pair{Chain: chain.ETH, Network: chain.Mainnet}
	wallet := model.Wallet{ID: "w1", UserID: "u1", Address: "0xabc"}
	token := &model.Token{ID: "tok-1", Decimals: 18}

	f := &walletFilter{storage: gw, pair: pair, byAddress: map[string]model.Wallet{}}

	n1, err := f.insert(ctx, "0xblock", 1, "0xtx", wallet, token, "", "", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	n2, err := f.insert(ctx, "0xblock", 1, "0xtx", wallet, token, "", "", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Equal(t, 0, n2)
}
