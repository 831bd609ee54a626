package protocol

import (
	"context"
	"sync"
)

// MockSignTransport implements SignTransport for testing purposes.
// Behavior is customized by setting the function fields; unset functions
// succeed with empty responses. Calls are counted.
type MockSignTransport struct {
	FetchServerParametersFunc func(ctx context.Context) (*GetServerPublicParamsResponse, error)
	RegisterClientFunc        func(ctx context.Context, req *RegisterClientRequest) (*RegisterClientResponse, error)
	GetTokensFunc             func(ctx context.Context, req *GetTokensRequest) (*GetTokensResponse, error)

	mu                sync.Mutex
	fetchCalls        int
	registerCalls     int
	getTokensCalls    int
	getTokensRequests []*GetTokensRequest
}

func (m *MockSignTransport) FetchServerParameters(ctx context.Context) (*GetServerPublicParamsResponse, error) {
	m.mu.Lock()
	m.fetchCalls++
	m.mu.Unlock()

	if m.FetchServerParametersFunc == nil {
		return &GetServerPublicParamsResponse{}, nil
	}
	return m.FetchServerParametersFunc(ctx)
}

func (m *MockSignTransport) RegisterClient(ctx context.Context, req *RegisterClientRequest) (*RegisterClientResponse, error) {
	m.mu.Lock()
	m.registerCalls++
	m.mu.Unlock()

	if m.RegisterClientFunc == nil {
		return &RegisterClientResponse{}, nil
	}
	return m.RegisterClientFunc(ctx, req)
}

func (m *MockSignTransport) GetTokens(ctx context.Context, req *GetTokensRequest) (*GetTokensResponse, error) {
	m.mu.Lock()
	m.getTokensCalls++
	m.getTokensRequests = append(m.getTokensRequests, req)
	m.mu.Unlock()

	if m.GetTokensFunc == nil {
		return &GetTokensResponse{}, nil
	}
	return m.GetTokensFunc(ctx, req)
}

// Calls returns how often each method was invoked.
func (m *MockSignTransport) Calls() (fetch, register, getTokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls, m.registerCalls, m.getTokensCalls
}

// GetTokensRequests returns the tokens requests received so far.
func (m *MockSignTransport) GetTokensRequests() []*GetTokensRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*GetTokensRequest{}, m.getTokensRequests...)
}

// MockJoinTransport implements JoinTransport for testing purposes.
type MockJoinTransport struct {
	JoinFunc func(ctx context.Context, encapsulatedRequest []byte) ([]byte, error)

	mu    sync.Mutex
	calls int
}

func (m *MockJoinTransport) Join(ctx context.Context, encapsulatedRequest []byte) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.JoinFunc == nil {
		return nil, nil
	}
	return m.JoinFunc(ctx, encapsulatedRequest)
}

// Calls returns how often Join was invoked.
func (m *MockJoinTransport) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
