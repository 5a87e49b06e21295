package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/market"
)

var (
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrUnknownConnection   = errors.New("connection not registered")

	// Returned by Subscriber.SendBytes.
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrSendBufferFull   = errors.New("subscriber send buffer full")
)

// Subscriber is the registry's handle on one live connection. The transport
// owns the connection; the registry only keeps this handle until Unregister.
type Subscriber interface {
	ID() string
	SendBytes(b []byte) error
	Close()
}

type entry struct {
	sub     Subscriber
	symbols map[market.Symbol]bool
}

// Registry maps live connections to the symbols they want. Every read and
// mutation holds mu.
type Registry struct {
	conns       map[string]*entry
	subscribers map[market.Symbol]map[string]Subscriber

	logger *zap.Logger
	mu     sync.RWMutex
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		conns:       make(map[string]*entry),
		subscribers: make(map[market.Symbol]map[string]Subscriber),
		logger:      logger,
	}
}

// Register creates the subscription set for a new connection. A second
// registration of the same id is rejected and the first one kept.
func (r *Registry) Register(sub Subscriber, initial []market.Symbol) error {
	for _, sym := range initial {
		if !sym.Valid() {
			return fmt.Errorf("%w: %q", market.ErrUnknownSymbol, string(sym))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := sub.ID()
	if _, ok := r.conns[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, id)
	}

	e := &entry{sub: sub, symbols: make(map[market.Symbol]bool, len(initial))}
	r.conns[id] = e
	for _, sym := range initial {
		r.addLocked(e, sym)
	}
	return nil
}

// Unregister drops the connection and all its subscriptions. Unknown ids are
// ignored so late close events are harmless. It reports whether anything was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return false
	}
	for sym := range e.symbols {
		r.removeLocked(e, sym)
	}
	delete(r.conns, id)
	return true
}

func (r *Registry) AddSymbol(id string, sym market.Symbol) error {
	if !sym.Valid() {
		return fmt.Errorf("%w: %q", market.ErrUnknownSymbol, string(sym))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	r.addLocked(e, sym)
	return nil
}

func (r *Registry) RemoveSymbol(id string, sym market.Symbol) error {
	if !sym.Valid() {
		return fmt.Errorf("%w: %q", market.ErrUnknownSymbol, string(sym))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	r.removeLocked(e, sym)
	return nil
}

// SubscribersOf lists the ids currently subscribed to sym, sorted.
func (r *Registry) SubscribersOf(sym market.Symbol) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.subscribers[sym]))
	for id := range r.subscribers[sym] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Symbols returns the connection's subscription set in symbol order.
func (r *Registry) Symbols(id string) ([]market.Symbol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	var out []market.Symbol
	for _, sym := range market.Supported() {
		if e.symbols[sym] {
			out = append(out, sym)
		}
	}
	return out, nil
}

// Len is the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// FanoutResult counts what happened to one symbol's payload.
type FanoutResult struct {
	Delivered int
	Skipped   int // transport already closed
	Failed    int // transport open but not writable; closed for cleanup
}

// Fanout queues payload to every current subscriber of sym. A closed
// subscriber is skipped; one that cannot take the message is closed so the
// lifecycle manager unregisters it. Neither stops delivery to the others.
func (r *Registry) Fanout(sym market.Symbol, payload []byte) FanoutResult {
	var res FanoutResult
	var unreachable []Subscriber

	r.mu.RLock()
	for _, sub := range r.subscribers[sym] {
		err := sub.SendBytes(payload)
		switch {
		case err == nil:
			res.Delivered++
		case errors.Is(err, ErrSubscriberClosed):
			res.Skipped++
		default:
			res.Failed++
			unreachable = append(unreachable, sub)
			r.logger.Warn("Dropping unreachable subscriber", zap.String("conn_id", sub.ID()), zap.String("symbol", string(sym)), zap.Error(err))
		}
	}
	r.mu.RUnlock()

	for _, sub := range unreachable {
		sub.Close()
	}
	return res
}

func (r *Registry) addLocked(e *entry, sym market.Symbol) {
	if e.symbols[sym] {
		return
	}
	e.symbols[sym] = true
	if r.subscribers[sym] == nil {
		r.subscribers[sym] = make(map[string]Subscriber)
	}
	r.subscribers[sym][e.sub.ID()] = e.sub
}

func (r *Registry) removeLocked(e *entry, sym market.Symbol) {
	if !e.symbols[sym] {
		return
	}
	delete(e.symbols, sym)
	delete(r.subscribers[sym], e.sub.ID())
	if len(r.subscribers[sym]) == 0 {
		delete(r.subscribers, sym)
	}
}
