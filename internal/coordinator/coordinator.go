// Package coordinator implements the Coordinator: it starts one Chain
// Monitor per configured (chain, network) pair, isolates failures so one
// bad adapter does not take down the others, and drains every monitor on
// shutdown.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/monitor"
)

// Target is one (chain, network) pair the Coordinator should monitor,
// paired with the Build function that constructs its Monitor. Run calls
// Build for each target (adapter dial, storage wiring), so a construction
// failure is logged and excludes only that target.
type Target struct {
	Pair  chain.Pair
	Build func(ctx context.Context) (*monitor.Monitor, error)
}

// Coordinator owns the top-level lifecycle: it brings up every configured
// monitor, runs them concurrently, and waits for all of them to exit
// before Run returns.
type Coordinator struct {
	targets []Target
	logger  *slog.Logger

	mu       sync.RWMutex
	monitors map[chain.Pair]*monitor.Monitor
}

func New(targets []Target, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		targets:  targets,
		logger:   logger,
		monitors: make(map[chain.Pair]*monitor.Monitor),
	}
}

// Run builds and starts every target's monitor. A target whose adapter
// fails to initialize is logged and excluded rather than aborting the
// whole coordinator (spec §4.1: exclude-and-continue), so one bad RPC
// endpoint does not take every other chain down with it. Run blocks until
// ctx is cancelled, then waits for every running monitor to return before
// returning itself.
func (c *Coordinator) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, target := range c.targets {
		m, err := target.Build(ctx)
		if err != nil {
			c.logger.Error("excluding target: adapter init failed", "chain", target.Pair.Chain, "network", target.Pair.Network, "error", err)
			continue
		}

		c.mu.Lock()
		c.monitors[target.Pair] = m
		c.mu.Unlock()

		wg.Add(1)
		go func(pair chain.Pair, m *monitor.Monitor) {
			defer wg.Done()
			if err := m.Run(ctx); err != nil {
				c.logger.Error("monitor exited with error", "chain", pair.Chain, "network", pair.Network, "error", err)
			}
		}(target.Pair, m)
	}

	if len(c.monitors) == 0 {
		c.logger.Warn("coordinator started with zero live monitors")
	}

	<-ctx.Done()
	c.logger.Info("shutdown signal received, draining monitors")
	wg.Wait()
	c.logger.Info("all monitors drained")
	return nil
}

// Monitor returns the running monitor for pair, or nil if it was excluded
// at startup or never configured. Used by the HTTP health surface.
func (c *Coordinator) Monitor(pair chain.Pair) *monitor.Monitor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.monitors[pair]
}

// TestConnection re-probes pair's live node. It returns an error if pair
// was excluded at startup (no adapter ever came up for it) or if the
// adapter's node is currently unreachable.
func (c *Coordinator) TestConnection(ctx context.Context, pair chain.Pair) (uint64, error) {
	m := c.Monitor(pair)
	if m == nil {
		return 0, fmt.Errorf("coordinator: %s is not configured or was excluded at startup", pair)
	}
	return m.TestConnection(ctx)
}
