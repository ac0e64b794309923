package confirmation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yourusername/deposittracker/internal/model"
)

func TestNextStatus_ReachesConfirmedAtThreshold(t *testing.T) {
	assert.Equal(t, model.StatusConfirmed, nextStatus(model.StatusConfirming, 12, 12))
	assert.Equal(t, model.StatusConfirmed, nextStatus(model.StatusConfirming, 20, 12))
}

func TestNextStatus_ConfirmedIsTerminal(t *testing.T) {
	// Once confirmed, advance() never calls nextStatus again (it is
	// filtered out of FindPendingDeposits), but nextStatus itself must
	// still never regress a confirmed-equivalent count below threshold.
	assert.Equal(t, model.StatusConfirmed, nextStatus(model.StatusConfirmed, 12, 12))
}

func TestNextStatus_PendingToConfirming(t *testing.T) {
	assert.Equal(t, model.StatusConfirming, nextStatus(model.StatusPending, 1, 12))
}

func TestNextStatus_ReorgToZero_DoesNotRegressConfirming(t *testing.T) {
	// A deposit already in confirming must not fall back to pending just
	// because a re-org momentarily clamps its confirmation count to zero.
	assert.Equal(t, model.StatusConfirming, nextStatus(model.StatusConfirming, 0, 12))
}

func TestNextStatus_ReorgToZero_PendingStaysPending(t *testing.T) {
	assert.Equal(t, model.StatusPending, nextStatus(model.StatusPending, 0, 12))
}

func TestClampConfirmations_FloorsAtZero(t *testing.T) {
	assert.Equal(t, int64(0), model.ClampConfirmations(-5))
	assert.Equal(t, int64(0), model.ClampConfirmations(0))
	assert.Equal(t, int64(3), model.ClampConfirmations(3))
}
