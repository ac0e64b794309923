// Package adapter defines the chain-facing contract every per-chain
// implementation satisfies: read the current tip, fetch a block in
// normalized form, and optionally push new blocks as they arrive.
package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourusername/deposittracker/internal/chain"
)

// Adapter is the read-only capability set a Chain Monitor drives. Every
// per-chain implementation (evmchain, btcchain, trxchain, xrpchain) wraps
// its node's native RPC shape behind this interface so the pipeline never
// branches on chain type.
type Adapter interface {
	// Pair identifies which chain/network this adapter instance serves.
	Pair() chain.Pair

	// TipHeight returns the current chain height as seen by the node.
	TipHeight(ctx context.Context) (uint64, error)

	// FetchBlock returns the normalized block at height, including every
	// transaction the node reports for it. FetchBlock must return
	// ErrBlockNotFound (wrapped) if height is beyond the node's tip.
	FetchBlock(ctx context.Context, height uint64) (*NormalizedBlock, error)

	// Subscribe is implemented only by push-mode adapters (evmchain). Pull
	// mode adapters return ErrSubscribeUnsupported.
	Subscribe(ctx context.Context) (<-chan uint64, error)

	// Close releases transport resources.
	Close() error
}

// NormalizedBlock is a chain's block translated into the shape the wallet
// filter and deposit writer consume, independent of source chain.
type NormalizedBlock struct {
	Height    uint64
	Hash      string
	Timestamp time.Time
	Txs       []NormalizedTx
}

// TxKind discriminates the NormalizedTx union. Exactly one of the
// corresponding fields on NormalizedTx is populated for a given Kind.
type TxKind int

const (
	KindNativeTransfer TxKind = iota
	KindTokenTransfer
	KindMultiOutput
	KindPayment
)

func (k TxKind) String() string {
	switch k {
	case KindNativeTransfer:
		return "native_transfer"
	case KindTokenTransfer:
		return "token_transfer"
	case KindMultiOutput:
		return "multi_output"
	case KindPayment:
		return "payment"
	default:
		return "unknown"
	}
}

// NormalizedTx is the discriminated union of every transaction shape the
// adapters produce. Kind selects which of the *Detail fields is set.
//
//   - KindNativeTransfer: a single native-coin transfer (EVM value transfer).
//   - KindTokenTransfer: a single contract-token transfer (ERC-20/TRC20).
//   - KindMultiOutput: a UTXO transaction with one or more outputs (Bitcoin).
//   - KindPayment: an XRP Payment transaction, native drops or issued
//     currency.
type NormalizedTx struct {
	Kind   TxKind
	Hash   string
	Native *NativeTransfer
	Token  *TokenTransfer
	UTXO   *MultiOutput
	XRP    *Payment
}

// NativeTransfer is a single from/to transfer of a chain's native coin.
type NativeTransfer struct {
	From   string
	To     string
	Amount decimal.Decimal
}

// TokenTransfer is a single from/to transfer of a contract-issued token.
type TokenTransfer struct {
	From            string
	To              string
	Amount          decimal.Decimal
	ContractAddress string
}

// MultiOutput is a UTXO transaction. Outputs is every output in the
// transaction; the wallet filter matches each output's Address
// independently since a single transaction can credit several owned
// wallets at once.
type MultiOutput struct {
	Outputs []UTXOOutput
}

// UTXOOutput is one output of a MultiOutput transaction.
type UTXOOutput struct {
	Address string
	Amount  decimal.Decimal
	Index   uint32
}

// Payment is an XRP Ledger Payment transaction. Amount is always
// normalized to decimal form regardless of whether the ledger expressed it
// in drops (native XRP) or as an issued-currency object (SPEC_FULL §12).
type Payment struct {
	From            string
	To              string
	Amount          decimal.Decimal
	CurrencyCode    string // empty for native XRP
	IssuerAddress   string // empty for native XRP
	DestinationTag  *uint32
}
