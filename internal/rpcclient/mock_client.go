package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockClient is a test double for Client. Responses are queued per method
// as a FIFO; each Call pops the next queued response (or error) for that
// method, which lets tests script a sequence of blocks/ticks without
// building a full fake node.
type MockClient struct {
	mu        sync.Mutex
	responses map[string][]interface{}
	errors    map[string][]error
	callCount map[string]int
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		responses: make(map[string][]interface{}),
		errors:    make(map[string][]error),
		callCount: make(map[string]int),
	}
}

// QueueResponse appends a response to be returned on the next Call for
// method.
func (m *MockClient) QueueResponse(method string, response interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method] = append(m.responses[method], response)
}

// QueueError appends an error to be returned on the next Call for method.
func (m *MockClient) QueueError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = append(m.errors[method], err)
}

func (m *MockClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount[method]++

	if errs := m.errors[method]; len(errs) > 0 {
		err := errs[0]
		m.errors[method] = errs[1:]
		return nil, err
	}

	queue := m.responses[method]
	if len(queue) == 0 {
		return nil, fmt.Errorf("rpcclient: no mock response queued for method %q", method)
	}
	response := queue[0]
	m.responses[method] = queue[1:]

	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: marshal mock response: %w", err)
	}
	return json.RawMessage(data), nil
}

func (m *MockClient) Close() error { return nil }

// CallCount returns how many times method has been called.
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[method]
}
