// Package metrics exposes observability for the tracker: RPC call
// counters, per-chain checkpoint height, and confirmation latency,
// backed by the Prometheus client so the daemon can serve a real
// /metrics endpoint instead of a hand-rolled exporter.
package metrics

import (
	"time"
)

// Collector records the metrics the coordinator and monitors emit.
// Contract: every method is safe for concurrent use.
type Collector interface {
	RecordRPCCall(chain, method string, duration time.Duration, success bool)
	RecordBlockProcessed(chain, network string, height uint64)
	RecordDepositInserted(chain, network string)
	RecordDepositConfirmed(chain, network string)
	SetCheckpoint(chain, network string, height uint64)
	HealthStatus(chain, network string) Status
}

// Status mirrors the teacher's OK/Degraded/Down tri-state, reused for the
// /healthz/{chain}/{network} surface (SPEC_FULL §11). Tagged for direct
// JSON serialization since that's the wire shape the endpoint returns.
type Status struct {
	State   string `json:"state"` // "OK", "Degraded", "Down"
	Message string `json:"message"`
}

// NoOp implements Collector with no-op methods, used when metrics are
// disabled (e.g. unit tests).
type NoOp struct{}

func (NoOp) RecordRPCCall(chain, method string, duration time.Duration, success bool) {}
func (NoOp) RecordBlockProcessed(chain, network string, height uint64)                {}
func (NoOp) RecordDepositInserted(chain, network string)                              {}
func (NoOp) RecordDepositConfirmed(chain, network string)                             {}
func (NoOp) SetCheckpoint(chain, network string, height uint64)                        {}
func (NoOp) HealthStatus(chain, network string) Status {
	return Status{State: "OK", Message: "metrics disabled"}
}

var _ Collector = NoOp{}
