// Package pipeline implements the Block Ingestion Pipeline: for one
// (chain, network) pair, it consumes block heights in strictly increasing
// order, applies the wallet filter to each, and advances the checkpoint
// only after a block is fully processed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/yourusername/deposittracker/internal/adapter"
	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/metrics"
	"github.com/yourusername/deposittracker/internal/storage"
)

// Pipeline drives one chain adapter for one (chain, network) pair,
// choosing push or pull mode based on chain.IsPushMode.
type Pipeline struct {
	pair    chain.Pair
	adapter adapter.Adapter
	storage storage.Gateway
	metrics metrics.Collector
	logger  *slog.Logger

	// onBlockProcessed is invoked after a block's deposits are committed
	// and its checkpoint is written and verified; the Chain Monitor wires
	// this to the Confirmation Updater.
	onBlockProcessed func(ctx context.Context, height uint64)

	// isProcessing guards the push-mode consumer against re-entrancy; see
	// the kickConsumer comment below for the no-lost-wakeup contract.
	isProcessing atomic.Bool
	pending      chan uint64

	// blockDelay/checkInterval override chain.BlockDelay/chain.CheckInterval
	// for this pair when non-zero (config.ChainEndpoints's per-pair override
	// fields); zero keeps the chain's built-in default.
	blockDelay    time.Duration
	checkInterval time.Duration
}

// New builds a Pipeline. onBlockProcessed may be nil if the caller does
// not need a per-block callback (e.g. in tests). blockDelay/checkInterval
// of zero fall back to chain.BlockDelay/chain.CheckInterval.
func New(pair chain.Pair, chainAdapter adapter.Adapter, gateway storage.Gateway, collector metrics.Collector, logger *slog.Logger, blockDelay, checkInterval time.Duration, onBlockProcessed func(ctx context.Context, height uint64)) *Pipeline {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	if blockDelay == 0 {
		blockDelay = chain.BlockDelay(pair.Chain)
	}
	if checkInterval == 0 {
		checkInterval = chain.CheckInterval(pair.Chain)
	}
	return &Pipeline{
		pair:             pair,
		adapter:          chainAdapter,
		storage:          gateway,
		metrics:          collector,
		logger:           logger,
		onBlockProcessed: onBlockProcessed,
		pending:          make(chan uint64, 4096),
		blockDelay:       blockDelay,
		checkInterval:    checkInterval,
	}
}

// Run blocks until ctx is cancelled, driving either push or pull mode.
func (p *Pipeline) Run(ctx context.Context) error {
	if chain.IsPushMode(p.pair.Chain) {
		return p.runPush(ctx)
	}
	return p.runPull(ctx)
}

// runPush subscribes to new heads and drains them with a single
// re-entrancy-guarded consumer: the "isProcessing flag + post-exit
// recheck" pattern from spec §4.3/§9, expressed here with an atomic flag
// and a buffered notification channel instead of a callback-driven queue.
// An adapter that does not support subscriptions is driven in pull mode.
func (p *Pipeline) runPush(ctx context.Context) error {
	heights, err := p.adapter.Subscribe(ctx)
	if errors.Is(err, adapter.ErrSubscribeUnsupported) {
		return p.runPull(ctx)
	}
	if err != nil {
		return fmt.Errorf("pipeline: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case height, ok := <-heights:
			if !ok {
				return nil
			}
			p.enqueue(height)
			p.kickConsumer(ctx)
		}
	}
}

// enqueue is non-blocking: the queue is sized generously and is drained by
// the single consumer kicked off below; a full queue would indicate the
// consumer has stalled far behind chain production; the height is then
// dropped with a Warn log rather than blocking the subscription callback.
func (p *Pipeline) enqueue(height uint64) {
	select {
	case p.pending <- height:
	default:
		p.logger.Warn("pipeline queue full, dropping height", "chain", p.pair.Chain, "network", p.pair.Network, "height", height)
	}
}

// kickConsumer starts the consumer loop unless one is already running. On
// exit, the consumer clears the flag and then re-checks the queue,
// restarting itself if new items arrived while it was winding down, so no
// wakeup is lost.
func (p *Pipeline) kickConsumer(ctx context.Context) {
	if !p.isProcessing.CompareAndSwap(false, true) {
		return
	}
	go p.drainQueue(ctx)
}

func (p *Pipeline) drainQueue(ctx context.Context) {
	for {
		select {
		case height := <-p.pending:
			if err := p.processNextHeight(ctx, height); err != nil {
				p.logger.Error("block processing failed", "chain", p.pair.Chain, "network", p.pair.Network, "height", height, "error", err)
			}
		default:
			p.isProcessing.Store(false)
			if len(p.pending) > 0 && ctx.Err() == nil {
				p.kickConsumer(ctx)
			}
			return
		}

		if ctx.Err() != nil {
			p.isProcessing.Store(false)
			return
		}
	}
}

// processNextHeight processes every height from checkpoint+1 up to the
// notified height, catching up on any gap (a missed newHeads notification
// should not stall the chain forever).
func (p *Pipeline) processNextHeight(ctx context.Context, notifiedHeight uint64) error {
	checkpoint, err := p.storage.GetCheckpoint(ctx, p.pair.Chain, p.pair.Network)
	if err != nil {
		return fmt.Errorf("pipeline: get checkpoint: %w", err)
	}

	for h := checkpoint + 1; h <= notifiedHeight; h++ {
		if err := p.processBlock(ctx, h); err != nil {
			return err
		}
		time.Sleep(p.blockDelay)
	}
	return nil
}

// runPull processes the gap between the checkpoint and tip on every
// checkInterval tick, in batches sized per chain.PullBatchSize.
func (p *Pipeline) runPull(ctx context.Context) error {
	ticker := time.NewTicker(p.checkInterval)
	defer ticker.Stop()

	// process one batch immediately on start rather than waiting a full
	// interval, so a restart resumes promptly.
	if err := p.tick(ctx); err != nil {
		p.logger.Error("pull tick failed", "chain", p.pair.Chain, "network", p.pair.Network, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.logger.Error("pull tick failed", "chain", p.pair.Chain, "network", p.pair.Network, "error", err)
			}
		}
	}
}

func (p *Pipeline) tick(ctx context.Context) error {
	checkpoint, err := p.storage.GetCheckpoint(ctx, p.pair.Chain, p.pair.Network)
	if err != nil {
		return fmt.Errorf("pipeline: get checkpoint: %w", err)
	}

	tip, err := p.adapter.TipHeight(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: tip height: %w", err)
	}
	if tip <= checkpoint {
		return nil
	}

	batchSize := chain.PullBatchSize(p.pair.Chain)
	end := tip
	if batchSize > 0 && end-checkpoint > uint64(batchSize) {
		end = checkpoint + uint64(batchSize)
	}

	for h := checkpoint + 1; h <= end; h++ {
		if err := p.processBlock(ctx, h); err != nil {
			// block-level error aborts the rest of this tick; the next
			// tick retries from the same starting point (spec §4.3).
			return err
		}
		time.Sleep(p.blockDelay)
	}
	return nil
}

// processBlock implements the per-block processing sequence of spec §4.3:
// fetch, filter+insert, checkpoint write-then-verify, and it is the unit
// that either fully commits or is retried wholesale next tick.
func (p *Pipeline) processBlock(ctx context.Context, height uint64) error {
	block, err := p.adapter.FetchBlock(ctx, height)
	if err != nil {
		if errors.Is(err, adapter.ErrBlockNotFound) {
			p.logger.Warn("block not found, will retry next tick", "chain", p.pair.Chain, "network", p.pair.Network, "height", height)
			return fmt.Errorf("pipeline: %w", err)
		}
		return fmt.Errorf("pipeline: fetch block %d: %w", height, err)
	}

	filter, err := newWalletFilter(ctx, p.storage, p.pair)
	if err != nil {
		return fmt.Errorf("pipeline: build wallet filter: %w", err)
	}

	for _, tx := range block.Txs {
		written, err := filter.process(ctx, block.Hash, height, tx)
		if err != nil {
			// per-transaction error: log and continue (spec §7.3).
			p.logger.Error("transaction processing failed", "chain", p.pair.Chain, "network", p.pair.Network,
				"height", height, "tx_hash", tx.Hash, "error", err)
			continue
		}
		for i := 0; i < written; i++ {
			p.metrics.RecordDepositInserted(string(p.pair.Chain), string(p.pair.Network))
		}
	}
	p.metrics.RecordBlockProcessed(string(p.pair.Chain), string(p.pair.Network), height)

	if err := p.storage.SetCheckpoint(ctx, p.pair.Chain, p.pair.Network, height); err != nil {
		return fmt.Errorf("pipeline: set checkpoint: %w", err)
	}
	verify, err := p.storage.GetCheckpoint(ctx, p.pair.Chain, p.pair.Network)
	if err != nil {
		return fmt.Errorf("pipeline: verify checkpoint: %w", err)
	}
	if verify != height {
		return fmt.Errorf("pipeline: checkpoint verify mismatch: wrote %d, read back %d", height, verify)
	}
	p.metrics.SetCheckpoint(string(p.pair.Chain), string(p.pair.Network), height)

	if p.onBlockProcessed != nil {
		p.onBlockProcessed(ctx, height)
	}
	return nil
}
