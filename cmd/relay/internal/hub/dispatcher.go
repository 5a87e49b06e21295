package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/market"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/metrics"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/protocol"
)

// TickInterval is fixed; the relay exposes no way to change it at runtime.
const TickInterval = time.Second

// TickSink receives every quote after it has been fanned out to subscribers.
// Publish must not block.
type TickSink interface {
	Publish(q market.Quote)
}

// Dispatcher drives the simulator and relays each new price to the
// connections subscribed to its symbol.
type Dispatcher struct {
	sim      *market.Simulator
	registry *Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger
	sinks    []TickSink
	interval time.Duration
}

func NewDispatcher(sim *market.Simulator, registry *Registry, m *metrics.Metrics, logger *zap.Logger, sinks ...TickSink) *Dispatcher {
	return &Dispatcher{
		sim:      sim,
		registry: registry,
		metrics:  m,
		logger:   logger,
		sinks:    sinks,
		interval: TickInterval,
	}
}

// Run ticks until ctx is cancelled. Ticks never overlap: the next one starts
// only after the previous fan-out has finished.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("Dispatcher Started", zap.Duration("interval", d.interval))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopped")
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick advances the simulator once and delivers every symbol's new price.
func (d *Dispatcher) Tick() {
	quotes := d.sim.Tick()
	d.metrics.TicksTotal.Inc()

	for _, q := range quotes {
		d.dispatch(q)
	}
}

func (d *Dispatcher) dispatch(q market.Quote) {
	payload, err := protocol.EncodePriceUpdate(string(q.Symbol), q.Price)
	if err != nil {
		d.logger.Error("JSON Marshal Error", zap.String("symbol", string(q.Symbol)), zap.Error(err))
		return
	}

	res := d.registry.Fanout(q.Symbol, payload)
	d.metrics.UpdatesSent.Add(float64(res.Delivered))
	d.metrics.SendFailures.Add(float64(res.Failed))

	if res.Delivered+res.Skipped+res.Failed > 0 {
		d.logger.Debug("Dispatched",
			zap.String("symbol", string(q.Symbol)),
			zap.Int("delivered", res.Delivered),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed))
	}

	for _, sink := range d.sinks {
		sink.Publish(q)
	}
}
