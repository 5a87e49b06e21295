package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/pkg/config"
	"github.com/shubham-shewale/stock-relay/pkg/models"
)

const (
	latestTTL   = time.Hour
	workerQueue = 100

	minReadBackoff = 100 * time.Millisecond
	maxReadBackoff = 5 * time.Second
)

// Archiver copies the relay's tick journal into Redis: latest price, a
// bounded history list, and a pub/sub notification per record.
type Archiver struct {
	logger     *zap.Logger
	rdb        RedisClient
	reader     KafkaReader
	clock      Clock
	numWorkers int
}

func NewArchiver(cfg config.ArchiverConfig, logger *zap.Logger, rdb RedisClient, reader KafkaReader, clock Clock) *Archiver {
	n := cfg.NumWorkers
	if n < 1 {
		n = 1
	}
	return &Archiver{
		logger:     logger,
		rdb:        rdb,
		reader:     reader,
		clock:      clock,
		numWorkers: n,
	}
}

// Run consumes until ctx is done, then drains the workers.
func (a *Archiver) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, a.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < a.numWorkers; i++ {
		workerChans[i] = make(chan []byte, workerQueue)
		wg.Add(1)
		go a.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		a.logger.Info("Archiver Started", zap.Int("workers", a.numWorkers))
		backoff := minReadBackoff
		for {
			m, err := a.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
					return
				}
				a.logger.Error("Kafka Read Error", zap.Error(err), zap.Duration("retry_in", backoff))
				select {
				case <-a.clock.After(backoff):
				case <-ctx.Done():
					return
				}
				backoff = min(backoff*2, maxReadBackoff)
				continue
			}
			backoff = minReadBackoff

			// Same symbol always goes to same worker
			workerID := getWorkerID(m.Key, a.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				a.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	a.logger.Info("Shutdown signal received, stopping archiver...")
	<-readerDone

	for _, ch := range workerChans {
		close(ch)
	}
	a.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (a *Archiver) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background()

	// Deduplication state is per worker; sharding keeps each symbol on one worker.
	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var update models.StockUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			a.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}

		if update.SeqID <= lastSeq[update.Symbol] {
			a.logger.Debug("Skipping duplicate update", zap.String("symbol", update.Symbol), zap.Int64("seq_id", update.SeqID))
			continue
		}

		pipe := a.rdb.Pipeline()
		pipe.Set(ctx, models.LatestKey(update.Symbol), payload, latestTTL)
		pipe.LPush(ctx, models.HistoryKey(update.Symbol), update.Price)
		pipe.LTrim(ctx, models.HistoryKey(update.Symbol), 0, models.HistoryLength-1)
		pipe.Publish(ctx, models.PriceChannel(update.Symbol), payload)

		if _, err := pipe.Exec(ctx); err != nil {
			a.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", update.Symbol))
			continue
		}
		a.logger.Debug("Archived", zap.String("symbol", update.Symbol), zap.Int("worker_id", id), zap.Int64("seq_id", update.SeqID))
		lastSeq[update.Symbol] = update.SeqID
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
