// Package ledger implements the Ledger Applier: the single place that
// credits a wallet's spot balance, exactly once, when a deposit first
// reaches the confirmed state.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yourusername/deposittracker/internal/chainerr"
	"github.com/yourusername/deposittracker/internal/storage"
)

// Applier credits wallet balances against the Storage Gateway.
type Applier struct {
	storage storage.Gateway
	logger  *slog.Logger
}

func New(gateway storage.Gateway, logger *slog.Logger) *Applier {
	return &Applier{storage: gateway, logger: logger}
}

// Credit runs the compare-and-set confirm + balance increment inside one
// storage transaction (spec §4.6, §9): ConfirmDeposit only flips status on
// its first call for a given deposit, so a concurrent or repeated Credit
// call for an already-confirmed deposit is a safe no-op. confirmations is
// the count the Confirmation Updater computed when it decided this
// deposit had reached the confirmed threshold. A missing balance row does
// not roll the transaction back: the confirmed status is committed and the
// Fatal error is returned after the commit.
func (a *Applier) Credit(ctx context.Context, depositID, userID string, confirmations int64) error {
	var creditErr error
	err := a.storage.WithTransaction(ctx, func(ctx context.Context, tx storage.Gateway) error {
		creditErr = a.creditTx(ctx, tx, depositID, userID, confirmations)
		if chainerr.IsFatal(creditErr) {
			return nil
		}
		return creditErr
	})
	if err != nil {
		return err
	}
	return creditErr
}

func (a *Applier) creditTx(ctx context.Context, tx storage.Gateway, depositID, userID string, confirmations int64) error {
	wasNewlyConfirmed, deposit, err := tx.ConfirmDeposit(ctx, depositID, confirmations)
	if err != nil {
		return fmt.Errorf("ledger: confirm deposit %s: %w", depositID, err)
	}
	if !wasNewlyConfirmed {
		return nil
	}

	token, err := tx.FindToken(ctx, deposit.TokenID)
	if err != nil {
		return fmt.Errorf("ledger: find token %s: %w", deposit.TokenID, err)
	}

	creditSymbol := token.CreditSymbol()
	if err := tx.CreditBalance(ctx, userID, creditSymbol, deposit.Amount); err != nil {
		// spec §4.6/§7.5: a missing balance row is fatal. The deposit
		// remains confirmed but uncredited; this is surfaced to the
		// operator rather than retried automatically.
		fatal := chainerr.NewFatal(chainerr.CodeBalanceMissing,
			fmt.Sprintf("deposit %s confirmed but not credited: balance row missing for user %s symbol %s", depositID, userID, creditSymbol), err)
		a.logger.Error("ledger credit failed, operator intervention required",
			"deposit_id", depositID, "user_id", userID, "symbol", creditSymbol, "error", fatal)
		return fatal
	}

	a.logger.Info("deposit credited", "deposit_id", depositID, "user_id", userID, "symbol", creditSymbol, "amount", deposit.Amount.String())
	return nil
}
