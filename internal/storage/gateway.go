// Package storage abstracts persistence for deposits, the wallet
// directory, the token registry, and checkpoints behind one contract so
// the rest of the tracker never depends on a specific database.
package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/model"
)

// ErrNotFound is returned by lookups that find nothing, distinguishing
// "absent" from a storage failure.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateDeposit is returned by InsertDeposit when a row already
// exists for (txHash, walletId, tokenId) — invariant I1.
var ErrDuplicateDeposit = errors.New("storage: duplicate deposit")

// TokenFilter selects the Token a normalized transfer should be credited
// against. Exactly the fields relevant to the lookup are set; zero values
// are not matched against.
type TokenFilter struct {
	Blockchain      chain.Key
	ContractAddress string // empty for native assets
	NetworkVersion  model.NetworkVersion
	Symbol          string // used for Tron TRC20 lookups keyed by asset_name, and BTC/XRP native lookups
}

// DepositUpdate is the set of mutable fields updateDeposit may change.
// Per invariant I3, once a deposit is confirmed neither status nor amount
// may change again; implementations must enforce this themselves (a
// compare-and-set on the prior status), not merely trust the caller.
type DepositUpdate struct {
	Confirmations int64
	Status        model.Status
}

// Gateway is the Storage Gateway contract every component above it
// depends on. Implementations must be safe for concurrent use across
// chain/network partitions.
type Gateway interface {
	FindWallets(ctx context.Context, chainKey chain.Key, network chain.Network) ([]model.Wallet, error)

	// FindTokenBy returns ErrNotFound if no active token matches filter.
	FindTokenBy(ctx context.Context, filter TokenFilter) (*model.Token, error)

	// InsertDeposit is idempotent on (txHash, walletId, tokenId): a second
	// insert for the same triple returns ErrDuplicateDeposit rather than
	// creating a second row.
	InsertDeposit(ctx context.Context, deposit *model.Deposit) error

	UpdateDeposit(ctx context.Context, depositID string, update DepositUpdate) error

	// ConfirmDeposit compare-and-sets a deposit's status to confirmed.
	// wasNewlyConfirmed is false if the deposit was already confirmed, in
	// which case the caller must not credit the ledger again. This and
	// CreditBalance are called together inside one WithTransaction scope
	// by the Ledger Applier, closing the double-credit window between a
	// status update and a separate balance credit.
	ConfirmDeposit(ctx context.Context, depositID string, confirmations int64) (wasNewlyConfirmed bool, deposit model.Deposit, err error)

	FindPendingDeposits(ctx context.Context, chainKey chain.Key, network chain.Network) ([]model.Deposit, error)

	// FindToken returns the Token row by ID, used by the Ledger Applier to
	// resolve a confirmed deposit's credit symbol.
	FindToken(ctx context.Context, tokenID string) (*model.Token, error)

	GetCheckpoint(ctx context.Context, chainKey chain.Key, network chain.Network) (uint64, error)

	SetCheckpoint(ctx context.Context, chainKey chain.Key, network chain.Network, height uint64) error

	// CreditBalance adds amount to the (userID, baseSymbol, spot) balance
	// row. Returns ErrNotFound if the row does not exist — the Ledger
	// Applier treats that as fatal, per spec §4.6.
	CreditBalance(ctx context.Context, userID, baseSymbol string, amount decimal.Decimal) error

	// WithTransaction runs fn inside a single storage transaction,
	// committing on a nil return and rolling back otherwise. Used by the
	// Ledger Applier to make the confirmed-status compare-and-set and the
	// balance credit jointly atomic.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Gateway) error) error

	Close() error
}
