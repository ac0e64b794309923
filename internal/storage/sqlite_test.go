package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/model"
)

func openTestGateway(t *testing.T) *SQLiteGateway {
	t.Helper()
	g, err := OpenSQLiteGateway(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func seedToken(t *testing.T, g *SQLiteGateway, token model.Token) {
	t.Helper()
	_, err := g.db.Exec(`INSERT INTO tokens (id, symbol, base_symbol, blockchain, contract_address, network_version, decimals, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID, token.Symbol, token.BaseSymbol, string(token.Blockchain), token.ContractAddress,
		string(token.NetworkVersion), token.Decimals, 1)
	require.NoError(t, err)
}

func seedBalance(t *testing.T, g *SQLiteGateway, userID, baseSymbol string, initial decimal.Decimal) {
	t.Helper()
	_, err := g.db.Exec(`INSERT INTO wallet_balances (user_id, base_symbol, balance) VALUES (?, ?, ?)`,
		userID, baseSymbol, initial.String())
	require.NoError(t, err)
}

func TestSQLiteGateway_CheckpointWriteThenRead(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	height, err := g.GetCheckpoint(ctx, chain.ETH, chain.Mainnet)
	require.NoError(t, err)
	require.Equal(t, uint64(0), height)

	require.NoError(t, g.SetCheckpoint(ctx, chain.ETH, chain.Mainnet, 12345))
	height, err = g.GetCheckpoint(ctx, chain.ETH, chain.Mainnet)
	require.NoError(t, err)
	require.Equal(t, uint64(12345), height)

	require.NoError(t, g.SetCheckpoint(ctx, chain.ETH, chain.Mainnet, 12346))
	height, err = g.GetCheckpoint(ctx, chain.ETH, chain.Mainnet)
	require.NoError(t, err)
	require.Equal(t, uint64(12346), height)
}

func TestSQLiteGateway_InsertDeposit_DuplicateTripleRejected(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	d := &model.Deposit{
		UserID: "user-1", WalletID: "wallet-1", TokenID: "token-1", TxHash: "0xabc",
		Amount: decimal.NewFromInt(5), Blockchain: chain.ETH, Network: chain.Mainnet,
		NetworkVersion: model.VersionNative, Status: model.StatusPending,
	}
	require.NoError(t, g.InsertDeposit(ctx, d))

	dupe := &model.Deposit{
		UserID: "user-1", WalletID: "wallet-1", TokenID: "token-1", TxHash: "0xabc",
		Amount: decimal.NewFromInt(5), Blockchain: chain.ETH, Network: chain.Mainnet,
		NetworkVersion: model.VersionNative, Status: model.StatusPending,
	}
	err := g.InsertDeposit(ctx, dupe)
	require.True(t, errors.Is(err, ErrDuplicateDeposit))
}

func TestSQLiteGateway_ConfirmDeposit_IsCompareAndSetOnce(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	d := &model.Deposit{
		UserID: "user-1", WalletID: "wallet-1", TokenID: "token-1", TxHash: "0xdef",
		Amount: decimal.NewFromInt(5), Blockchain: chain.ETH, Network: chain.Mainnet,
		NetworkVersion: model.VersionNative, Status: model.StatusConfirming,
	}
	require.NoError(t, g.InsertDeposit(ctx, d))

	wasNew, confirmed, err := g.ConfirmDeposit(ctx, d.ID, 12)
	require.NoError(t, err)
	require.True(t, wasNew)
	require.Equal(t, model.StatusConfirmed, confirmed.Status)
	require.Equal(t, int64(12), confirmed.Confirmations)

	wasNew, _, err = g.ConfirmDeposit(ctx, d.ID, 13)
	require.NoError(t, err)
	require.False(t, wasNew)
}

func TestSQLiteGateway_UpdateDeposit_ConfirmedIsTerminal(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	d := &model.Deposit{
		UserID: "user-1", WalletID: "wallet-1", TokenID: "token-1", TxHash: "0x111",
		Amount: decimal.NewFromInt(1), Blockchain: chain.ETH, Network: chain.Mainnet,
		NetworkVersion: model.VersionNative, Status: model.StatusConfirming,
	}
	require.NoError(t, g.InsertDeposit(ctx, d))

	_, _, err := g.ConfirmDeposit(ctx, d.ID, 12)
	require.NoError(t, err)

	require.NoError(t, g.UpdateDeposit(ctx, d.ID, DepositUpdate{Confirmations: 1, Status: model.StatusPending}))

	pending, err := g.conn.findDepositByID(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, pending.Status)
}

func TestSQLiteGateway_CreditBalance_MissingRowIsNotFound(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	err := g.CreditBalance(ctx, "user-1", "ETH", decimal.NewFromInt(1))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteGateway_CreditBalance_Accumulates(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()
	seedBalance(t, g, "user-1", "ETH", decimal.NewFromInt(10))

	require.NoError(t, g.CreditBalance(ctx, "user-1", "ETH", decimal.NewFromFloat(0.5)))
	row := g.db.QueryRow(`SELECT balance FROM wallet_balances WHERE user_id = ? AND base_symbol = ?`, "user-1", "ETH")
	var balance string
	require.NoError(t, row.Scan(&balance))
	require.Equal(t, "10.5", balance)
}

func TestSQLiteGateway_WithTransaction_RollsBackOnError(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()
	seedBalance(t, g, "user-1", "ETH", decimal.NewFromInt(10))

	boom := errors.New("boom")
	err := g.WithTransaction(ctx, func(ctx context.Context, tx Gateway) error {
		if err := tx.CreditBalance(ctx, "user-1", "ETH", decimal.NewFromInt(100)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	row := g.db.QueryRow(`SELECT balance FROM wallet_balances WHERE user_id = ? AND base_symbol = ?`, "user-1", "ETH")
	var balance string
	require.NoError(t, row.Scan(&balance))
	require.Equal(t, "10", balance)
}

func TestSQLiteGateway_FindTokenBy_FiltersByBlockchain(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()
	seedToken(t, g, model.Token{
		ID: "token-usdt", Symbol: "USDT", BaseSymbol: "USDT", Blockchain: chain.ETH,
		ContractAddress: "0xdac17f958d2ee523a2206206994597c13d831ec7", NetworkVersion: model.VersionERC20, Decimals: 6,
	})

	found, err := g.FindTokenBy(ctx, TokenFilter{Blockchain: chain.ETH, ContractAddress: "0xdac17f958d2ee523a2206206994597c13d831ec7"})
	require.NoError(t, err)
	require.Equal(t, "USDT", found.Symbol)

	_, err = g.FindTokenBy(ctx, TokenFilter{Blockchain: chain.BSC, ContractAddress: "0xdac17f958d2ee523a2206206994597c13d831ec7"})
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteGateway_FindPendingDeposits_ExcludesConfirmedAndBlockless(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	height := uint64(100)
	pending := &model.Deposit{
		UserID: "user-1", WalletID: "wallet-1", TokenID: "token-1", TxHash: "0xpending",
		Amount: decimal.NewFromInt(1), Blockchain: chain.BTC, Network: chain.Mainnet,
		NetworkVersion: model.VersionNative, Status: model.StatusPending, BlockNumber: &height,
	}
	require.NoError(t, g.InsertDeposit(ctx, pending))

	confirmed := &model.Deposit{
		UserID: "user-1", WalletID: "wallet-1", TokenID: "token-1", TxHash: "0xconfirmed",
		Amount: decimal.NewFromInt(1), Blockchain: chain.BTC, Network: chain.Mainnet,
		NetworkVersion: model.VersionNative, Status: model.StatusConfirmed, BlockNumber: &height,
	}
	require.NoError(t, g.InsertDeposit(ctx, confirmed))

	rows, err := g.FindPendingDeposits(ctx, chain.BTC, chain.Mainnet)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "0xpending", rows[0].TxHash)
}
