// Package rpcclient provides the JSON-RPC transport shared by every chain
// adapter: HTTP with failover across endpoints, and WebSocket for push-mode
// subscriptions. The HTTP-backed adapters (evmchain, btcchain) take the
// Client interface so tests can substitute a fake; WSClient is used as a
// concrete type.
package rpcclient

import (
	"context"
	"encoding/json"
)

// Client abstracts JSON-RPC communication with a blockchain node or API.
// Implementations must support concurrent calls.
type Client interface {
	// Call executes a single JSON-RPC method call and returns the raw
	// "result" field.
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// Close releases transport resources.
	Close() error
}

// Request is one call in a batch.
type Request struct {
	Method string
	Params interface{}
}

// jsonrpcResponse is the wire shape of a JSON-RPC 2.0 response.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *jsonrpcError) Error() string {
	return e.Message
}

// HealthTracker tracks per-endpoint health for round-robin failover with a
// circuit breaker, shared by every HTTP-backed adapter.
type HealthTracker interface {
	RecordSuccess(endpoint string, durationMs int64)
	RecordFailure(endpoint string, err error)
	IsHealthy(endpoint string) bool
}

// EndpointHealth is a point-in-time snapshot, exposed for diagnostics.
type EndpointHealth struct {
	Endpoint        string
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	AvgLatencyMs    int64
	LastSuccess     int64
	LastFailure     int64
	CircuitOpen     bool
}
