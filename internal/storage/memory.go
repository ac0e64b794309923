package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/model"
)

// balanceKey identifies a wallet balance row.
type balanceKey struct {
	userID     string
	baseSymbol string
}

// depositKey enforces invariant I1 in memory.
type depositKey struct {
	txHash   string
	walletID string
	tokenID  string
}

// MemoryGateway implements Gateway entirely in memory. It is used for
// tests and for the in-process scenarios in SPEC_FULL's testable
// properties; it is not suitable for production persistence since nothing
// survives a restart.
type MemoryGateway struct {
	mu sync.RWMutex

	wallets     []model.Wallet
	tokens      []model.Token
	deposits    map[string]*model.Deposit // by ID
	depositKeys map[depositKey]string     // triple -> ID, for I1
	checkpoints map[chain.Pair]uint64
	balances    map[balanceKey]decimal.Decimal
}

// NewMemoryGateway builds an empty in-memory gateway. Seed wallets and
// tokens with SeedWallet/SeedToken/SeedBalance before use.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		deposits:    make(map[string]*model.Deposit),
		depositKeys: make(map[depositKey]string),
		checkpoints: make(map[chain.Pair]uint64),
		balances:    make(map[balanceKey]decimal.Decimal),
	}
}

// SeedWallet registers a wallet as if it came from the external wallet
// directory.
func (g *MemoryGateway) SeedWallet(w model.Wallet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.wallets = append(g.wallets, w)
}

// SeedToken registers a token as if it came from the external token
// registry.
func (g *MemoryGateway) SeedToken(t model.Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = append(g.tokens, t)
}

// SeedBalance initializes a wallet balance row so CreditBalance has
// somewhere to add to; a missing row is otherwise treated as fatal.
func (g *MemoryGateway) SeedBalance(userID, baseSymbol string, initial decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[balanceKey{userID, baseSymbol}] = initial
}

// Balance returns the current balance for (userID, baseSymbol), for use
// in tests asserting P5 (credit-once).
func (g *MemoryGateway) Balance(userID, baseSymbol string) (decimal.Decimal, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	bal, ok := g.balances[balanceKey{userID, baseSymbol}]
	return bal, ok
}

func (g *MemoryGateway) FindWallets(ctx context.Context, chainKey chain.Key, network chain.Network) ([]model.Wallet, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]model.Wallet, 0)
	for _, w := range g.wallets {
		if w.Chain == chainKey && w.Network == network {
			result = append(result, w)
		}
	}
	return result, nil
}

func (g *MemoryGateway) FindTokenBy(ctx context.Context, filter TokenFilter) (*model.Token, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, t := range g.tokens {
		if !t.IsActive {
			continue
		}
		if t.Blockchain != filter.Blockchain {
			continue
		}
		if filter.NetworkVersion != "" && t.NetworkVersion != filter.NetworkVersion {
			continue
		}
		if filter.ContractAddress != "" && t.ContractAddress != filter.ContractAddress {
			continue
		}
		if filter.Symbol != "" && t.Symbol != filter.Symbol {
			continue
		}
		tCopy := t
		return &tCopy, nil
	}
	return nil, ErrNotFound
}

func (g *MemoryGateway) InsertDeposit(ctx context.Context, deposit *model.Deposit) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := depositKey{deposit.TxHash, deposit.WalletID, deposit.TokenID}
	if _, exists := g.depositKeys[key]; exists {
		return ErrDuplicateDeposit
	}

	if deposit.ID == "" {
		deposit.ID = uuid.NewString()
	}
	now := time.Now()
	deposit.CreatedAt = now
	deposit.UpdatedAt = now

	stored := *deposit
	g.deposits[deposit.ID] = &stored
	g.depositKeys[key] = deposit.ID
	return nil
}

func (g *MemoryGateway) UpdateDeposit(ctx context.Context, depositID string, update DepositUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, exists := g.deposits[depositID]
	if !exists {
		return ErrNotFound
	}
	if d.Status == model.StatusConfirmed {
		// invariant I3: confirmed is terminal.
		return nil
	}
	d.Confirmations = update.Confirmations
	d.Status = update.Status
	d.UpdatedAt = time.Now()
	return nil
}

func (g *MemoryGateway) ConfirmDeposit(ctx context.Context, depositID string, confirmations int64) (bool, model.Deposit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, exists := g.deposits[depositID]
	if !exists {
		return false, model.Deposit{}, ErrNotFound
	}
	if d.Status == model.StatusConfirmed {
		return false, *d, nil
	}
	d.Status = model.StatusConfirmed
	d.Confirmations = confirmations
	d.UpdatedAt = time.Now()
	return true, *d, nil
}

func (g *MemoryGateway) FindToken(ctx context.Context, tokenID string) (*model.Token, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, t := range g.tokens {
		if t.ID == tokenID {
			tCopy := t
			return &tCopy, nil
		}
	}
	return nil, ErrNotFound
}

func (g *MemoryGateway) FindPendingDeposits(ctx context.Context, chainKey chain.Key, network chain.Network) ([]model.Deposit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]model.Deposit, 0)
	for _, d := range g.deposits {
		if d.Blockchain != chainKey || d.Network != network {
			continue
		}
		if d.Status != model.StatusPending && d.Status != model.StatusConfirming {
			continue
		}
		if d.BlockNumber == nil {
			continue
		}
		result = append(result, *d)
	}
	return result, nil
}

func (g *MemoryGateway) GetCheckpoint(ctx context.Context, chainKey chain.Key, network chain.Network) (uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.checkpoints[chain.Pair{Chain: chainKey, Network: network}], nil
}

func (g *MemoryGateway) SetCheckpoint(ctx context.Context, chainKey chain.Key, network chain.Network, height uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkpoints[chain.Pair{Chain: chainKey, Network: network}] = height
	return nil
}

func (g *MemoryGateway) CreditBalance(ctx context.Context, userID, baseSymbol string, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := balanceKey{userID, baseSymbol}
	current, exists := g.balances[key]
	if !exists {
		return ErrNotFound
	}
	g.balances[key] = current.Add(amount)
	return nil
}

// WithTransaction runs fn against the same gateway; MemoryGateway has no
// real transaction isolation, but every mutating method already holds its
// own lock so a single fn invocation observes a consistent view. Writes
// are immediately durable: there is no rollback, so writes made before fn
// returns an error are kept.
func (g *MemoryGateway) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Gateway) error) error {
	return fn(ctx, g)
}

func (g *MemoryGateway) Close() error { return nil }

var _ Gateway = (*MemoryGateway)(nil)

// FindDepositByID is a test helper exposing the internal map lookup that
// the Gateway interface intentionally does not surface.
func (g *MemoryGateway) FindDepositByID(id string) (model.Deposit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, exists := g.deposits[id]
	if !exists {
		return model.Deposit{}, fmt.Errorf("storage: %w: deposit %s", ErrNotFound, id)
	}
	return *d, nil
}
