// Package monitor binds one chain adapter, its ingestion pipeline, and its
// confirmation updater into a single supervised unit for one (chain,
// network) pair: a Chain Monitor in spec terms.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourusername/deposittracker/internal/adapter"
	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/confirmation"
	"github.com/yourusername/deposittracker/internal/ledger"
	"github.com/yourusername/deposittracker/internal/metrics"
	"github.com/yourusername/deposittracker/internal/pipeline"
	"github.com/yourusername/deposittracker/internal/storage"
)

// Monitor supervises one (chain, network) target: it owns the adapter for
// that target's whole lifetime and runs its pipeline loop once. Run returns
// when the pipeline returns (ctx cancelled, or a push-mode subscription
// that fails to start); the pipeline is not restarted.
type Monitor struct {
	pair     chain.Pair
	adapter  adapter.Adapter
	pipeline *pipeline.Pipeline
	updater  *confirmation.Updater
	metrics  metrics.Collector
	logger   *slog.Logger
}

// New builds a Monitor for pair. It probes the adapter with TipHeight
// before returning, so a misconfigured endpoint is caught at startup
// rather than silently failing the first pipeline tick. blockDelay/
// checkInterval of zero fall back to chain.BlockDelay/chain.CheckInterval
// (config.ChainEndpoints's per-pair override fields, when set).
func New(ctx context.Context, pair chain.Pair, chainAdapter adapter.Adapter, gateway storage.Gateway, applier *ledger.Applier, collector metrics.Collector, logger *slog.Logger, blockDelay, checkInterval time.Duration) (*Monitor, error) {
	if collector == nil {
		collector = metrics.NoOp{}
	}

	if _, err := chainAdapter.TipHeight(ctx); err != nil {
		return nil, fmt.Errorf("monitor %s: adapter probe failed: %w", pair, err)
	}

	if _, err := gateway.GetCheckpoint(ctx, pair.Chain, pair.Network); err != nil {
		return nil, fmt.Errorf("monitor %s: load checkpoint failed: %w", pair, err)
	}

	m := &Monitor{
		pair:    pair,
		adapter: chainAdapter,
		metrics: collector,
		logger:  logger,
	}
	m.updater = confirmation.New(gateway, applier, collector, pair, logger)
	// TODO: re-orgs deeper than the chain's required confirmation count are
	// not rolled back here; confirmations only clamp to zero (see
	// confirmation.Updater), they never un-credit a deposit already marked
	// Confirmed.
	m.pipeline = pipeline.New(pair, chainAdapter, gateway, collector, logger, blockDelay, checkInterval, func(blockCtx context.Context, height uint64) {
		if err := m.updater.Run(blockCtx, height); err != nil {
			logger.Error("confirmation update failed", "chain", pair.Chain, "network", pair.Network, "error", err)
		}
	})

	logger.Info("monitor ready", "chain", pair.Chain, "network", pair.Network)
	return m, nil
}

// Run drives the pipeline until it returns, then closes the adapter.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.adapter.Close()
	return m.pipeline.Run(ctx)
}

// Pair returns the (chain, network) this monitor supervises.
func (m *Monitor) Pair() chain.Pair {
	return m.pair
}

// HealthStatus reports this monitor's current health via the shared
// metrics collector, for the /healthz/{chain}/{network} HTTP surface.
func (m *Monitor) HealthStatus() metrics.Status {
	return m.metrics.HealthStatus(string(m.pair.Chain), string(m.pair.Network))
}

// TestConnection re-probes the adapter's node directly, independent of the
// cached health-tracker state HealthStatus reports. It returns the tip
// height observed so a caller can sanity-check liveness as well as
// reachability.
func (m *Monitor) TestConnection(ctx context.Context) (uint64, error) {
	height, err := m.adapter.TipHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("monitor %s: test connection: %w", m.pair, err)
	}
	return height, nil
}
