package journal

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/market"
	"github.com/shubham-shewale/stock-relay/pkg/models"
)

const workerQueueSize = 100

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher journals every tick to Kafka. Records are sharded by symbol so
// one worker owns a symbol and per-symbol order survives the hand-off.
type Publisher struct {
	logger *zap.Logger
	writer KafkaWriter
	clock  market.Clock

	seqMu       sync.Mutex
	seqCounters map[market.Symbol]int64

	workerChans []chan models.StockUpdate
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

func NewPublisher(logger *zap.Logger, writer KafkaWriter, clock market.Clock, numWorkers int) *Publisher {
	if numWorkers < 1 {
		numWorkers = 1
	}
	p := &Publisher{
		logger:      logger,
		writer:      writer,
		clock:       clock,
		seqCounters: make(map[market.Symbol]int64),
		workerChans: make([]chan models.StockUpdate, numWorkers),
	}
	for i := range p.workerChans {
		p.workerChans[i] = make(chan models.StockUpdate, workerQueueSize)
	}
	return p
}

// Start launches the workers. They drain their queues and exit after Close.
func (p *Publisher) Start() {
	for i, ch := range p.workerChans {
		p.wg.Add(1)
		go p.worker(i, ch)
	}
	p.logger.Info("Journal Publisher Started", zap.Int("workers", len(p.workerChans)))
}

// Publish implements hub.TickSink. It never blocks: when a worker is behind
// the record is dropped, the same at-most-once rule the live relay follows.
func (p *Publisher) Publish(q market.Quote) {
	p.seqMu.Lock()
	p.seqCounters[q.Symbol]++
	update := models.StockUpdate{
		Symbol:    string(q.Symbol),
		Price:     q.Price,
		Timestamp: p.clock.Now().UnixMicro(),
		SeqID:     p.seqCounters[q.Symbol],
	}
	p.seqMu.Unlock()

	workerID := getWorkerID([]byte(update.Symbol), len(p.workerChans))
	select {
	case p.workerChans[workerID] <- update:
	default:
		p.logger.Warn("Dropping journal record", zap.String("symbol", update.Symbol), zap.Int64("seq_id", update.SeqID), zap.Int("worker_id", workerID))
	}
}

func (p *Publisher) worker(id int, updates <-chan models.StockUpdate) {
	defer p.wg.Done()
	// Background context so a shutdown does not cut a write in half.
	ctx := context.Background()

	for update := range updates {
		payload, err := json.Marshal(update)
		if err != nil {
			p.logger.Error("JSON Marshal Error", zap.Error(err))
			continue
		}

		err = p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(update.Symbol), // Key ensures partition ordering
			Value: payload,
		})
		if err != nil {
			p.logger.Error("Kafka Write Error", zap.Error(err), zap.String("symbol", update.Symbol))
			continue
		}
		p.logger.Debug("Journaled", zap.String("symbol", update.Symbol), zap.Int("worker_id", id), zap.Int64("seq_id", update.SeqID))
	}
}

// Close stops accepting records, waits for the workers to drain and flushes
// the writer. Publish must not be called after Close.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		for _, ch := range p.workerChans {
			close(ch)
		}
		p.wg.Wait()
		err = p.writer.Close()
	})
	return err
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
