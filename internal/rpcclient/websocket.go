package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourusername/deposittracker/internal/metrics"
)

// WSClient implements Client over a WebSocket JSON-RPC connection with
// automatic reconnection, and additionally exposes Subscribe for push-mode
// notifications (EVM newHeads), routed to subscribers by subscription id.
type WSClient struct {
	url  string
	conn *websocket.Conn
	connMu sync.RWMutex

	requestID    atomic.Int64
	pendingCalls map[int64]chan *jsonrpcResponse
	pendingMu    sync.RWMutex

	subscriptions map[string]chan json.RawMessage
	subsMu        sync.RWMutex

	reconnecting atomic.Bool
	closed       atomic.Bool
	closeChan    chan struct{}

	maxReconnectInterval time.Duration
	reconnectBackoff     time.Duration

	// metrics/chainLabel feed the Coordinator's /healthz surface with real
	// call outcomes and latency, mirroring HTTPClient.
	metrics    metrics.Collector
	chainLabel string
}

// NewWSClient dials url and starts the background read loop. collector may
// be nil, which falls back to metrics.NoOp.
func NewWSClient(url string, collector metrics.Collector, chainLabel string) (*WSClient, error) {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	c := &WSClient{
		url:                  url,
		pendingCalls:         make(map[int64]chan *jsonrpcResponse),
		subscriptions:        make(map[string]chan json.RawMessage),
		closeChan:            make(chan struct{}),
		maxReconnectInterval: 60 * time.Second,
		reconnectBackoff:     time.Second,
		metrics:              collector,
		chainLabel:           chainLabel,
	}

	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("rpcclient: websocket dial: %w", err)
	}
	go c.readLoop()

	return c, nil
}

func (c *WSClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("rpcclient: websocket client closed")
	}

	start := time.Now()
	reqID := c.requestID.Add(1)
	respChan := make(chan *jsonrpcResponse, 1)
	c.pendingMu.Lock()
	c.pendingCalls[reqID] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pendingCalls, reqID)
		c.pendingMu.Unlock()
	}()

	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  method,
		"params":  params,
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("rpcclient: websocket not connected")
	}

	if err := conn.WriteJSON(req); err != nil {
		go c.reconnect()
		c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), false)
		return nil, fmt.Errorf("rpcclient: websocket write: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), false)
			return nil, fmt.Errorf("rpcclient: jsonrpc error: %s", resp.Error.Message)
		}
		c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), true)
		return resp.Result, nil
	case <-ctx.Done():
		c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), false)
		return nil, ctx.Err()
	case <-c.closeChan:
		c.metrics.RecordRPCCall(c.chainLabel, method, time.Since(start), false)
		return nil, fmt.Errorf("rpcclient: websocket client closed")
	}
}

// Subscribe calls method and returns a channel fed by notifications
// carrying the subscription id method returns, used for EVM's
// eth_subscribe("newHeads").
func (c *WSClient) Subscribe(ctx context.Context, method string, params interface{}) (<-chan json.RawMessage, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: subscribe: %w", err)
	}

	var subID string
	if err := json.Unmarshal(result, &subID); err != nil {
		return nil, fmt.Errorf("rpcclient: parse subscription id: %w", err)
	}

	notifChan := make(chan json.RawMessage, 100)
	c.subsMu.Lock()
	c.subscriptions[subID] = notifChan
	c.subsMu.Unlock()

	return notifChan, nil
}

func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.closeChan)

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *WSClient) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

func (c *WSClient) reconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	backoff := c.reconnectBackoff
	for {
		select {
		case <-c.closeChan:
			return
		case <-time.After(backoff):
			if err := c.connect(); err != nil {
				backoff *= 2
				if backoff > c.maxReconnectInterval {
					backoff = c.maxReconnectInterval
				}
				continue
			}
			go c.readLoop()
			return
		}
	}
}

func (c *WSClient) readLoop() {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-c.closeChan:
			return
		default:
			var msg json.RawMessage
			if err := conn.ReadJSON(&msg); err != nil {
				go c.reconnect()
				return
			}

			var partial struct {
				ID     *int64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(msg, &partial); err != nil {
				continue
			}

			if partial.ID != nil {
				var resp jsonrpcResponse
				if err := json.Unmarshal(msg, &resp); err != nil {
					continue
				}
				c.pendingMu.RLock()
				respChan, exists := c.pendingCalls[*partial.ID]
				c.pendingMu.RUnlock()
				if exists {
					respChan <- &resp
				}
				continue
			}

			if partial.Method != "" {
				var notification struct {
					Params struct {
						Subscription string          `json:"subscription"`
						Result       json.RawMessage `json:"result"`
					} `json:"params"`
				}
				if err := json.Unmarshal(msg, &notification); err != nil {
					continue
				}
				c.subsMu.RLock()
				notifChan, exists := c.subscriptions[notification.Params.Subscription]
				c.subsMu.RUnlock()
				if exists {
					select {
					case notifChan <- notification.Params.Result:
					default:
					}
				}
			}
		}
	}
}
