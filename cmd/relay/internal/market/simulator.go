package market

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/pkg/models"
)

const (
	// HistoryLength is how many past prices each symbol keeps for charts.
	HistoryLength = models.HistoryLength
	// MaxMove is the largest relative price change of a single tick.
	MaxMove = 0.015
	// PriceFloor is the lowest price a symbol can reach.
	PriceFloor = 1.0

	seedMin   = 100.0
	seedRange = 100.0
)

// Quote is the price a symbol settled on during one tick.
type Quote struct {
	Symbol Symbol
	Price  float64
}

// priceState is a fixed-capacity ring of prices, oldest first.
type priceState struct {
	current float64
	ring    [HistoryLength]float64
	start   int
	size    int
}

func newPriceState(seed float64) *priceState {
	ps := &priceState{current: seed}
	for i := 0; i < HistoryLength; i++ {
		ps.push(seed)
	}
	return ps
}

func (ps *priceState) push(price float64) {
	if ps.size == HistoryLength {
		ps.ring[ps.start] = price
		ps.start = (ps.start + 1) % HistoryLength
		return
	}
	ps.ring[(ps.start+ps.size)%HistoryLength] = price
	ps.size++
}

func (ps *priceState) history() []float64 {
	out := make([]float64, ps.size)
	for i := 0; i < ps.size; i++ {
		out[i] = ps.ring[(ps.start+i)%HistoryLength]
	}
	return out
}

// Simulator owns current price and rolling history for every supported symbol.
// It is created once at startup and lives for the whole process.
type Simulator struct {
	logger *zap.Logger
	rand   Rand

	mu     sync.Mutex
	states map[Symbol]*priceState
}

// NewSimulator seeds each symbol with a random price in [100,200).
func NewSimulator(logger *zap.Logger, rnd Rand) *Simulator {
	seeds := make(map[Symbol]float64, len(supported))
	for _, sym := range supported {
		seeds[sym] = seedMin + rnd.Float64()*seedRange
	}
	return NewSimulatorWithSeeds(logger, rnd, seeds)
}

// NewSimulatorWithSeeds uses fixed starting prices. Symbols missing from seeds
// fall back to a random seed.
func NewSimulatorWithSeeds(logger *zap.Logger, rnd Rand, seeds map[Symbol]float64) *Simulator {
	s := &Simulator{
		logger: logger,
		rand:   rnd,
		states: make(map[Symbol]*priceState, len(supported)),
	}
	for _, sym := range supported {
		seed, ok := seeds[sym]
		if !ok || seed < PriceFloor {
			seed = seedMin + rnd.Float64()*seedRange
		}
		s.states[sym] = newPriceState(seed)
	}
	logger.Info("Simulator seeded", zap.Int("symbols", len(s.states)), zap.Int("history", HistoryLength))
	return s
}

// Tick advances every symbol by one random step and returns the new prices
// in symbol order.
func (s *Simulator) Tick() []Quote {
	s.mu.Lock()
	defer s.mu.Unlock()

	quotes := make([]Quote, 0, len(supported))
	for _, sym := range supported {
		ps := s.states[sym]
		delta := (s.rand.Float64() - 0.5) * 2 * MaxMove
		price := NextPrice(ps.current, delta)

		ps.current = price
		ps.push(price)
		quotes = append(quotes, Quote{Symbol: sym, Price: price})
	}
	return quotes
}

// NextPrice applies a relative move and clamps the result at PriceFloor.
func NextPrice(current, delta float64) float64 {
	price := current * (1 + delta)
	if price < PriceFloor {
		return PriceFloor
	}
	return price
}

// History returns a copy of the symbol's price history, oldest first.
func (s *Simulator) History(sym Symbol) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.states[sym]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSymbol, string(sym))
	}
	return ps.history(), nil
}

// Price returns the symbol's current price.
func (s *Simulator) Price(sym Symbol) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.states[sym]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSymbol, string(sym))
	}
	return ps.current, nil
}
