package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// health criteria, mirrored from the teacher's health scoring: success
// rate < 90% or avg RPC latency > 5s is Degraded; no successful call in the
// last 5 minutes is Down.
const (
	degradedSuccessRate = 0.90
	degradedLatency     = 5 * time.Second
	degradedSilence     = 5 * time.Minute
)

// PromCollector implements Collector against the real Prometheus client,
// registered against a private registry so the daemon controls exactly
// what /metrics exposes.
type PromCollector struct {
	registry *prometheus.Registry

	rpcCalls       *prometheus.CounterVec
	rpcDuration    *prometheus.HistogramVec
	blocksProcessed *prometheus.CounterVec
	depositsInserted *prometheus.CounterVec
	depositsConfirmed *prometheus.CounterVec
	checkpointHeight *prometheus.GaugeVec

	mu     sync.RWMutex
	health map[string]*chainHealth
}

type chainHealth struct {
	totalCalls    int64
	successCalls  int64
	totalLatency  time.Duration
	lastSuccess   time.Time
}

// NewPromCollector builds a PromCollector and registers its series.
func NewPromCollector() *PromCollector {
	registry := prometheus.NewRegistry()

	c := &PromCollector{
		registry: registry,
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deposittracker",
			Name:      "rpc_calls_total",
			Help:      "RPC calls by chain, method, and outcome.",
		}, []string{"chain", "method", "outcome"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deposittracker",
			Name:      "rpc_call_duration_seconds",
			Help:      "RPC call latency by chain and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain", "method"}),
		blocksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deposittracker",
			Name:      "blocks_processed_total",
			Help:      "Blocks processed by chain and network.",
		}, []string{"chain", "network"}),
		depositsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deposittracker",
			Name:      "deposits_inserted_total",
			Help:      "Deposits inserted by chain and network.",
		}, []string{"chain", "network"}),
		depositsConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deposittracker",
			Name:      "deposits_confirmed_total",
			Help:      "Deposits transitioned to confirmed by chain and network.",
		}, []string{"chain", "network"}),
		checkpointHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deposittracker",
			Name:      "checkpoint_height",
			Help:      "Last processed block height by chain and network.",
		}, []string{"chain", "network"}),
		health: make(map[string]*chainHealth),
	}

	registry.MustRegister(
		c.rpcCalls,
		c.rpcDuration,
		c.blocksProcessed,
		c.depositsInserted,
		c.depositsConfirmed,
		c.checkpointHeight,
	)

	return c
}

// Registry exposes the underlying registry so the daemon can mount
// promhttp.HandlerFor against it.
func (c *PromCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *PromCollector) RecordRPCCall(chain, method string, duration time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.rpcCalls.WithLabelValues(chain, method, outcome).Inc()
	c.rpcDuration.WithLabelValues(chain, method).Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.getOrCreate(chain)
	h.totalCalls++
	h.totalLatency += duration
	if success {
		h.successCalls++
		h.lastSuccess = time.Now()
	}
}

func (c *PromCollector) RecordBlockProcessed(chain, network string, height uint64) {
	c.blocksProcessed.WithLabelValues(chain, network).Inc()
}

func (c *PromCollector) RecordDepositInserted(chain, network string) {
	c.depositsInserted.WithLabelValues(chain, network).Inc()
}

func (c *PromCollector) RecordDepositConfirmed(chain, network string) {
	c.depositsConfirmed.WithLabelValues(chain, network).Inc()
}

func (c *PromCollector) SetCheckpoint(chain, network string, height uint64) {
	c.checkpointHeight.WithLabelValues(chain, network).Set(float64(height))
}

// HealthStatus derives a tri-state from recent RPC call outcomes for chain.
// network is accepted for interface symmetry with the per-pair health
// endpoint but health is currently tracked per chain, not per network.
func (c *PromCollector) HealthStatus(chain, network string) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, exists := c.health[chain]
	if !exists || h.totalCalls == 0 {
		return Status{State: "OK", Message: "no calls recorded yet"}
	}

	if time.Since(h.lastSuccess) > degradedSilence {
		return Status{State: "Down", Message: "no successful call in the last 5 minutes"}
	}

	successRate := float64(h.successCalls) / float64(h.totalCalls)
	if successRate < degradedSuccessRate {
		return Status{State: "Degraded", Message: "success rate below 90%"}
	}

	avgLatency := h.totalLatency / time.Duration(h.totalCalls)
	if avgLatency > degradedLatency {
		return Status{State: "Degraded", Message: "average RPC latency above 5s"}
	}

	return Status{State: "OK", Message: ""}
}

func (c *PromCollector) getOrCreate(chain string) *chainHealth {
	h, exists := c.health[chain]
	if !exists {
		h = &chainHealth{}
		c.health[chain] = h
	}
	return h
}

var _ Collector = (*PromCollector)(nil)
