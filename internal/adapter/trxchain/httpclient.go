package trxchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourusername/deposittracker/internal/metrics"
)

// apiClient talks to the TRON HTTP API directly: plain JSON request/response
// bodies, no JSON-RPC envelope, authenticated with a TRON-PRO-API-KEY
// header. rpcclient.HTTPClient assumes a JSON-RPC 2.0 envelope so it does
// not fit here.
type apiClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter

	// metrics/chainLabel feed the Coordinator's /healthz surface with real
	// call outcomes and latency, mirroring rpcclient.HTTPClient.
	metrics    metrics.Collector
	chainLabel string
}

// newAPIClient builds a client against baseURL (e.g. a full node's HTTP
// API root). The limiter defaults to a conservative rate matched against
// Tron's public-node throttling. collector may be nil, which falls back to
// metrics.NoOp.
func newAPIClient(baseURL, apiKey string, collector metrics.Collector, chainLabel string) *apiClient {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	return &apiClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		metrics:    collector,
		chainLabel: chainLabel,
	}
}

func (c *apiClient) post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("trxchain: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("trxchain: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRPCCall(c.chainLabel, path, time.Since(start), false)
		return nil, fmt.Errorf("trxchain: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordRPCCall(c.chainLabel, path, time.Since(start), false)
		return nil, fmt.Errorf("trxchain: read response: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden {
		c.metrics.RecordRPCCall(c.chainLabel, path, time.Since(start), false)
		return nil, errRateLimited{status: resp.StatusCode, body: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordRPCCall(c.chainLabel, path, time.Since(start), false)
		return nil, fmt.Errorf("trxchain: http %d: %s", resp.StatusCode, string(respBody))
	}

	c.metrics.RecordRPCCall(c.chainLabel, path, time.Since(start), true)
	return json.RawMessage(respBody), nil
}

// errRateLimited marks an HTTP 403 response, which Tron full nodes use for
// both access-control denial and rate limiting.
type errRateLimited struct {
	status int
	body   string
}

func (e errRateLimited) Error() string {
	return fmt.Sprintf("trxchain: rate limited (http %d): %s", e.status, e.body)
}

func (c *apiClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
