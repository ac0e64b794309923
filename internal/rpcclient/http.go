package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/deposittracker/internal/metrics"
)

// HTTPClient implements Client over HTTP JSON-RPC with round-robin
// failover across a configured endpoint list and a health-tracked circuit
// breaker per endpoint.
type HTTPClient struct {
	endpoints    []string
	currentIndex int
	mu           sync.RWMutex

	health     HealthTracker
	httpClient *http.Client
	requestID  atomic.Int64

	// metrics/chainLabel feed the Coordinator's /healthz surface
	// (metrics.Collector.HealthStatus) with real call outcomes and
	// latency, independent of the circuit-breaker state in health above.
	metrics    metrics.Collector
	chainLabel string

	// BasicAuthUser/BasicAuthPass enable HTTP Basic auth (used by the
	// Bitcoin adapter when RPC credentials are configured).
	BasicAuthUser string
	BasicAuthPass string

	// Headers are sent with every request. (The Tron adapter does not use
	// HTTPClient; its TRON-PRO-API-KEY header is set by its own client.)
	Headers map[string]string
}

// NewHTTPClient builds an HTTPClient with failover across endpoints.
// collector/chainLabel may be the zero values: a nil collector falls back
// to metrics.NoOp.
func NewHTTPClient(endpoints []string, timeout time.Duration, health HealthTracker, collector metrics.Collector, chainLabel string) (*HTTPClient, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("rpcclient: at least one endpoint is required")
	}
	if health == nil {
		health = NewSimpleHealthTracker()
	}
	if collector == nil {
		collector = metrics.NoOp{}
	}
	return &HTTPClient{
		endpoints:  endpoints,
		health:     health,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    collector,
		chainLabel: chainLabel,
	}, nil
}

// Call executes method against the first healthy endpoint, failing over to
// the next on error.
func (c *HTTPClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var lastErr error
	attempted := make(map[string]bool, len(c.endpoints))

	for len(attempted) < len(c.endpoints) {
		endpoint := c.nextHealthyEndpoint(attempted)
		if endpoint == "" {
			break
		}
		attempted[endpoint] = true

		result, err := c.callEndpoint(ctx, endpoint, method, params)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("rpcclient: all endpoints failed, last error: %w", lastErr)
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) callEndpoint(ctx context.Context, endpoint, method string, params interface{}) (json.RawMessage, error) {
	start := time.Now()

	reqID := c.requestID.Add(1)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.Headers {
		httpReq.Header.Set(k, v)
	}
	if c.BasicAuthUser != "" {
		httpReq.SetBasicAuth(c.BasicAuthUser, c.BasicAuthPass)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.health.RecordFailure(endpoint, err)
		c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), false)
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.health.RecordFailure(endpoint, err)
		c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), false)
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		httpErr := fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
		c.health.RecordFailure(endpoint, httpErr)
		c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), false)
		return nil, httpErr
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.health.RecordFailure(endpoint, err)
		c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), false)
		return nil, fmt.Errorf("parse jsonrpc response: %w", err)
	}
	if rpcResp.Error != nil {
		c.health.RecordFailure(endpoint, rpcResp.Error)
		c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), false)
		return nil, fmt.Errorf("jsonrpc error: %s", rpcResp.Error.Message)
	}

	c.health.RecordSuccess(endpoint, time.Since(start).Milliseconds())
	c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), true)
	return rpcResp.Result, nil
}

func (c *HTTPClient) nextHealthyEndpoint(attempted map[string]bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(c.endpoints); i++ {
		idx := (c.currentIndex + i) % len(c.endpoints)
		endpoint := c.endpoints[idx]
		if attempted[endpoint] {
			continue
		}
		if c.health.IsHealthy(endpoint) {
			c.currentIndex = (idx + 1) % len(c.endpoints)
			return endpoint
		}
	}

	for _, endpoint := range c.endpoints {
		if !attempted[endpoint] {
			return endpoint
		}
	}
	return ""
}
