package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/hub"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/market"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/protocol"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/repository"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal     string
	Messages  []protocol.WSResponse // Stores decoded JSON responses
	RawBytes  []string              // Stores raw bytes
	Closed    bool
	FailSends bool // simulate a full send buffer
	Mu        sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Closed {
		return hub.ErrSubscriberClosed
	}
	if m.FailSends {
		return hub.ErrSendBufferFull
	}
	m.RawBytes = append(m.RawBytes, string(b))
	return nil
}

// Tickers decodes every price update received so far and returns the tickers in order.
func (m *MockClient) Tickers() []string {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	var out []string
	for _, raw := range m.RawBytes {
		var u protocol.PriceUpdate
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			out = append(out, u.Ticker)
		}
	}
	return out
}

// Reset forgets every recorded message.
func (m *MockClient) Reset() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = nil
	m.Messages = m.Messages[:0]
}

func (m *MockClient) LastMsg() protocol.WSResponse {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return protocol.WSResponse{}
	}
	return m.Messages[len(m.Messages)-1]
}

var ErrStoreDown = errors.New("store down")

// MockQuotes serves fixed prices; symbols without one fail.
type MockQuotes struct {
	Prices map[market.Symbol]float64
}

func (m *MockQuotes) Price(sym market.Symbol) (float64, error) {
	p, ok := m.Prices[sym]
	if !ok {
		return 0, market.ErrUnknownSymbol
	}
	return p, nil
}

func (m *MockQuotes) History(sym market.Symbol) ([]float64, error) {
	p, err := m.Price(sym)
	if err != nil {
		return nil, err
	}
	return []float64{p}, nil
}

// MockUserStore is an in-memory UserStore with switchable failures.
type MockUserStore struct {
	Users             map[string]*repository.User // by email
	FailLookups       bool
	FailSubscriptions bool
	FailWrites        bool
	Mu                sync.Mutex
}

func NewMockUserStore(users ...repository.User) *MockUserStore {
	m := &MockUserStore{Users: make(map[string]*repository.User)}
	for i := range users {
		m.Users[users[i].Email] = copyUser(&users[i])
	}
	return m
}

func (m *MockUserStore) FindByToken(ctx context.Context, token string) (*repository.User, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailLookups {
		return nil, ErrStoreDown
	}
	for _, u := range m.Users {
		if u.Token == token {
			return copyUser(u), nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *MockUserStore) FindByEmail(ctx context.Context, email string) (*repository.User, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailLookups {
		return nil, ErrStoreDown
	}
	if u, ok := m.Users[email]; ok {
		return copyUser(u), nil
	}
	return nil, repository.ErrUserNotFound
}

func (m *MockUserStore) Create(ctx context.Context, email, token string) (*repository.User, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailWrites {
		return nil, ErrStoreDown
	}
	if _, ok := m.Users[email]; ok {
		return nil, repository.ErrUserExists
	}
	u := &repository.User{Email: email, Token: token, SubscribedStocks: []string{}}
	m.Users[email] = u
	return copyUser(u), nil
}

func (m *MockUserStore) Subscriptions(ctx context.Context, email string) ([]string, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailSubscriptions {
		return nil, ErrStoreDown
	}
	u, ok := m.Users[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return append([]string(nil), u.SubscribedStocks...), nil
}

func (m *MockUserStore) AddSubscription(ctx context.Context, email, symbol string) (bool, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailWrites {
		return false, ErrStoreDown
	}
	u, ok := m.Users[email]
	if !ok {
		return false, repository.ErrUserNotFound
	}
	for _, s := range u.SubscribedStocks {
		if s == symbol {
			return false, nil
		}
	}
	u.SubscribedStocks = append(u.SubscribedStocks, symbol)
	return true, nil
}

func (m *MockUserStore) RemoveSubscription(ctx context.Context, email, symbol string) (bool, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailWrites {
		return false, ErrStoreDown
	}
	u, ok := m.Users[email]
	if !ok {
		return false, repository.ErrUserNotFound
	}
	kept := make([]string, 0, len(u.SubscribedStocks))
	for _, s := range u.SubscribedStocks {
		if s != symbol {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(u.SubscribedStocks) {
		return false, nil
	}
	u.SubscribedStocks = kept
	return true, nil
}

func (m *MockUserStore) Close() error { return nil }

func copyUser(u *repository.User) *repository.User {
	c := *u
	c.SubscribedStocks = append([]string{}, u.SubscribedStocks...)
	return &c
}

func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Errorf("Assertion failed: %s", msg)
	}
}
