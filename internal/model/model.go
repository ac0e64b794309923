// Package model holds the core records the tracker reads and writes:
// wallets and tokens owned by external collaborators, and the deposit rows
// this service itself produces and advances.
package model

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/deposittracker/internal/chain"
)

// Wallet is an immutable record owned by the exchange's wallet directory.
// The tracker only reads it.
type Wallet struct {
	ID      string
	UserID  string
	Address string
	Chain   chain.Key
	Network chain.Network
}

// NetworkVersion identifies the token standard a Token record uses.
type NetworkVersion string

const (
	VersionNative NetworkVersion = "NATIVE"
	VersionERC20  NetworkVersion = "ERC20"
	VersionBEP20  NetworkVersion = "BEP20"
	VersionTRC20  NetworkVersion = "TRC20"
)

// Token is an immutable record from the token registry. Only active tokens
// may produce deposits.
type Token struct {
	ID              string
	Symbol          string
	BaseSymbol      string // empty means "use Symbol" for ledger lookups
	Blockchain      chain.Key
	ContractAddress string // empty for native assets
	NetworkVersion  NetworkVersion
	Decimals        int32
	IsActive        bool
}

// CreditSymbol is the baseSymbol used to look up a wallet balance row for
// this token, per spec §4.6: "baseSymbol = token.baseSymbol ?? token.symbol".
func (t Token) CreditSymbol() string {
	if t.BaseSymbol != "" {
		return t.BaseSymbol
	}
	return t.Symbol
}

// Status is the deposit state machine's current state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusConfirmed  Status = "confirmed"
	// StatusOrphaned marks a deposit whose block was reorganized away.
	// Not produced by this implementation (spec §9 Open Question (b)); kept
	// so storage schemas and invariant I4 have somewhere to point.
	StatusOrphaned Status = "orphaned"
)

// DepositMetadata is the free-form bag attached to a deposit row.
type DepositMetadata struct {
	From            string `json:"from"`
	ContractAddress string `json:"contractAddress,omitempty"`
	BlockHash       string `json:"blockHash"`
}

// Deposit is the mutable record tracking one detected transfer from
// insertion through crediting. See spec §3 for the full invariant set
// (I1-I4) enforced jointly by this type and the storage gateway's unique
// index.
type Deposit struct {
	ID             string
	UserID         string
	WalletID       string
	TokenID        string
	TxHash         string
	Amount         decimal.Decimal
	Blockchain     chain.Key
	Network        chain.Network
	NetworkVersion NetworkVersion
	BlockNumber    *uint64
	Status         Status
	Confirmations  int64
	Metadata       DepositMetadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ClampConfirmations floors a (possibly negative, re-org induced)
// confirmation count at zero per spec §4.5 edge cases.
func ClampConfirmations(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
