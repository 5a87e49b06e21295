package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/hub"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/market"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/metrics"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/protocol"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/repository"
)

var (
	ErrTokenRequired    = errors.New("token required")
	ErrInvalidToken     = errors.New("invalid token")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotSubscribed    = errors.New("symbol not in subscription list")
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Conn is what the manager needs from a transport connection.
type Conn interface {
	hub.Subscriber
	SendJSON(v interface{})
}

// Session is one websocket connection as seen by the manager.
type Session struct {
	conn  Conn
	token string
	email string
	state atomic.Int32
}

func (s *Session) ID() string    { return s.conn.ID() }
func (s *Session) Email() string { return s.email }
func (s *Session) State() State  { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Manager drives sessions through their lifecycle and keeps the registry in
// step with persisted subscriptions. mu serializes every change that touches
// both.
type Manager struct {
	store    repository.UserStore
	registry *hub.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	byEmail  map[string]map[string]*Session
}

func NewManager(store repository.UserStore, registry *hub.Registry, m *metrics.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		metrics:  m,
		logger:   logger,
		sessions: make(map[string]*Session),
		byEmail:  make(map[string]map[string]*Session),
	}
}

// Open authenticates conn by token and activates it with the user's persisted
// subscriptions. On error the session is already Closed and the caller should
// reject the connection with CloseStatus(err).
func (m *Manager) Open(ctx context.Context, token string, conn Conn) (*Session, error) {
	sess := &Session{conn: conn, token: token}
	sess.setState(StateConnecting)

	if token == "" {
		m.reject(sess, protocol.ReasonTokenRequired)
		return nil, ErrTokenRequired
	}

	user, err := m.store.FindByToken(ctx, token)
	if errors.Is(err, repository.ErrUserNotFound) {
		m.reject(sess, protocol.ReasonInvalidToken)
		return nil, ErrInvalidToken
	}
	if err != nil {
		m.reject(sess, protocol.ReasonStoreUnavailable)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess.email = user.Email
	sess.setState(StateAuthenticated)

	m.mu.Lock()
	defer m.mu.Unlock()

	initial := m.persistedSymbols(ctx, user.Email)
	if err := m.registry.Register(conn, initial); err != nil {
		sess.setState(StateClosed)
		return nil, err
	}

	if m.byEmail[user.Email] == nil {
		m.byEmail[user.Email] = make(map[string]*Session)
	}
	m.byEmail[user.Email][sess.ID()] = sess
	m.sessions[sess.ID()] = sess
	sess.setState(StateActive)
	m.metrics.ActiveConnections.Inc()

	m.logger.Info("Session active",
		zap.String("conn_id", sess.ID()),
		zap.String("email", user.Email),
		zap.Int("symbols", len(initial)))
	return sess, nil
}

// Close ends an Active session. Calling it again, or on a session that never
// became Active, does nothing.
func (m *Manager) Close(sess *Session) {
	if sess == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.State() == StateClosed {
		return
	}
	sess.setState(StateClosed)

	m.registry.Unregister(sess.ID())
	delete(m.sessions, sess.ID())
	if peers := m.byEmail[sess.email]; peers != nil {
		delete(peers, sess.ID())
		if len(peers) == 0 {
			delete(m.byEmail, sess.email)
		}
	}
	m.metrics.ActiveConnections.Dec()
	m.logger.Info("Session closed", zap.String("conn_id", sess.ID()), zap.String("email", sess.email))
}

// Subscribe persists the symbol for the token's user and adds it to every
// live session of that user. It reports whether the symbol was newly added.
func (m *Manager) Subscribe(ctx context.Context, token, raw string) (market.Symbol, bool, error) {
	user, err := m.lookup(ctx, token)
	if err != nil {
		return "", false, err
	}
	sym, err := market.ParseSymbol(raw)
	if err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	added, err := m.store.AddSubscription(ctx, user.Email, string(sym))
	if err != nil {
		return sym, false, fmt.Errorf("persist subscription: %w", err)
	}
	m.applyLocked(user.Email, sym, m.registry.AddSymbol)
	return sym, added, nil
}

// Unsubscribe removes the symbol from the token's user and from every live
// session of that user. ErrNotSubscribed means it was not in the list.
func (m *Manager) Unsubscribe(ctx context.Context, token, raw string) (market.Symbol, error) {
	user, err := m.lookup(ctx, token)
	if err != nil {
		return "", err
	}
	sym, err := market.ParseSymbol(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotSubscribed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed, err := m.store.RemoveSubscription(ctx, user.Email, string(sym))
	if err != nil {
		return sym, fmt.Errorf("persist unsubscription: %w", err)
	}
	m.applyLocked(user.Email, sym, m.registry.RemoveSymbol)
	if !removed {
		return sym, ErrNotSubscribed
	}
	return sym, nil
}

// UnsubscribeAll clears the token's subscription list and returns what was removed.
func (m *Manager) UnsubscribeAll(ctx context.Context, token string) ([]market.Symbol, error) {
	user, err := m.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.Subscriptions(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	var removed []market.Symbol
	for _, raw := range current {
		if _, err := m.store.RemoveSubscription(ctx, user.Email, raw); err != nil {
			return removed, fmt.Errorf("persist unsubscription: %w", err)
		}
		sym := market.Symbol(raw)
		if !sym.Valid() {
			continue
		}
		m.applyLocked(user.Email, sym, m.registry.RemoveSymbol)
		removed = append(removed, sym)
	}
	return removed, nil
}

// Sessions returns the number of Active sessions.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) lookup(ctx context.Context, token string) (*repository.User, error) {
	if token == "" {
		return nil, ErrTokenRequired
	}
	user, err := m.store.FindByToken(ctx, token)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return user, nil
}

func (m *Manager) applyLocked(email string, sym market.Symbol, op func(string, market.Symbol) error) {
	for id := range m.byEmail[email] {
		if err := op(id, sym); err != nil {
			// The connection went away between lookup and update.
			m.logger.Warn("Registry update skipped", zap.String("conn_id", id), zap.String("symbol", sym.String()), zap.Error(err))
		}
	}
}

// persistedSymbols loads the user's list for a new session. A failed fetch
// activates the session with nothing; unsupported entries are skipped.
func (m *Manager) persistedSymbols(ctx context.Context, email string) []market.Symbol {
	raw, err := m.store.Subscriptions(ctx, email)
	if err != nil {
		m.logger.Warn("Could not load subscriptions, starting empty", zap.String("email", email), zap.Error(err))
		return nil
	}

	out := make([]market.Symbol, 0, len(raw))
	for _, r := range raw {
		sym := market.Symbol(r)
		if !sym.Valid() {
			m.logger.Warn("Dropping unsupported persisted symbol", zap.String("email", email), zap.String("symbol", r))
			continue
		}
		out = append(out, sym)
	}
	return out
}

func (m *Manager) reject(sess *Session, reason string) {
	sess.setState(StateClosed)
	m.metrics.RejectedConnections.WithLabelValues(reason).Inc()
	m.logger.Info("Connection rejected", zap.String("conn_id", sess.ID()), zap.String("reason", reason))
}
