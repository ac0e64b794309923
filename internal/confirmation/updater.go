// Package confirmation implements the Confirmation Updater: after each
// processed block, it recomputes every pending/confirming deposit's
// confirmation count for that chain and advances its status, invoking the
// Ledger Applier exactly once on the first transition into confirmed.
package confirmation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/ledger"
	"github.com/yourusername/deposittracker/internal/metrics"
	"github.com/yourusername/deposittracker/internal/model"
	"github.com/yourusername/deposittracker/internal/storage"
)

// Updater advances deposit confirmation counts and status for one
// (chain, network) pair.
type Updater struct {
	storage storage.Gateway
	ledger  *ledger.Applier
	metrics metrics.Collector
	pair    chain.Pair
	logger  *slog.Logger
}

func New(gateway storage.Gateway, applier *ledger.Applier, collector metrics.Collector, pair chain.Pair, logger *slog.Logger) *Updater {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	return &Updater{storage: gateway, ledger: applier, metrics: collector, pair: pair, logger: logger}
}

// Run recomputes confirmations for every pending/confirming deposit on
// this chain/network given the chain's currentHeight.
func (u *Updater) Run(ctx context.Context, currentHeight uint64) error {
	deposits, err := u.storage.FindPendingDeposits(ctx, u.pair.Chain, u.pair.Network)
	if err != nil {
		return fmt.Errorf("confirmation: find pending deposits: %w", err)
	}

	required := chain.RequiredConfirmations(u.pair)

	for _, deposit := range deposits {
		if err := u.advance(ctx, deposit, currentHeight, required); err != nil {
			// per-deposit failure is logged and does not block the rest
			// of the batch (mirrors the per-transaction error policy in
			// spec §7.3).
			u.logger.Error("confirmation update failed", "chain", u.pair.Chain, "network", u.pair.Network,
				"deposit_id", deposit.ID, "error", err)
		}
	}
	return nil
}

func (u *Updater) advance(ctx context.Context, deposit model.Deposit, currentHeight uint64, required int) error {
	if deposit.BlockNumber == nil {
		return nil
	}

	rawConfirmations := int64(currentHeight) - int64(*deposit.BlockNumber)
	confirmations := model.ClampConfirmations(rawConfirmations)

	newStatus := nextStatus(deposit.Status, confirmations, required)

	if newStatus == model.StatusConfirmed && deposit.Status != model.StatusConfirmed {
		if err := u.ledger.Credit(ctx, deposit.ID, deposit.UserID, confirmations); err != nil {
			return fmt.Errorf("credit deposit %s: %w", deposit.ID, err)
		}
		u.metrics.RecordDepositConfirmed(string(u.pair.Chain), string(u.pair.Network))
		return nil
	}

	if err := u.storage.UpdateDeposit(ctx, deposit.ID, storage.DepositUpdate{Confirmations: confirmations, Status: newStatus}); err != nil {
		return fmt.Errorf("update deposit %s: %w", deposit.ID, err)
	}
	return nil
}

// nextStatus computes the new status for a deposit given its prior status
// and freshly computed confirmation count. The rule is not a pure function
// of confirmations alone: a re-org clamp to zero on a deposit that was
// already confirming must not regress it to pending (spec §4.5 edge
// cases), so prior status participates in the decision. Confirmed is
// terminal: a confirmed prior status is always returned unchanged.
func nextStatus(prior model.Status, confirmations int64, required int) model.Status {
	if prior == model.StatusConfirmed {
		return model.StatusConfirmed
	}
	if confirmations >= int64(required) {
		return model.StatusConfirmed
	}
	if confirmations > 0 {
		return model.StatusConfirming
	}
	if prior == model.StatusConfirming {
		return model.StatusConfirming
	}
	return model.StatusPending
}
