package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/archiver/internal/archiver"
	"github.com/shubham-shewale/stock-relay/cmd/archiver/internal/testutils"
	"github.com/shubham-shewale/stock-relay/pkg/config"
	"github.com/shubham-shewale/stock-relay/pkg/models"
)

func TestArchiver_EndToEnd_Flow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	// 65 ticks so the history list has to be trimmed.
	var msgs []kafka.Message
	var last []byte
	for i := 1; i <= 65; i++ {
		update := models.StockUpdate{Symbol: "GOOG", Price: float64(1000 + i), SeqID: int64(i)}
		val, _ := json.Marshal(update)
		msgs = append(msgs, kafka.Message{Key: []byte("GOOG"), Value: val})
		last = val
	}
	// Use Mock Reader because spinning up real Kafka is heavy/complex for unit tests
	mockReader := &testutils.MockKafkaReader{Messages: msgs}

	a := archiver.NewArchiver(config.ArchiverConfig{NumWorkers: 1}, zap.NewNop(), rdb, mockReader, &testutils.MockClock{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	// Poll until the last record lands (the archiver is async)
	success := false
	for i := 0; i < 20; i++ {
		v, _ := mr.Get(models.LatestKey("GOOG"))
		history, _ := mr.List(models.HistoryKey("GOOG"))
		if v == string(last) && len(history) == models.HistoryLength && history[0] == "1065" {
			success = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !success {
		t.Fatal("Archiver did not write the latest GOOG record to Redis")
	}

	if ttl := mr.TTL(models.LatestKey("GOOG")); ttl != time.Hour {
		t.Errorf("Expected 1h TTL on latest key, got %v", ttl)
	}

	history, err := mr.List(models.HistoryKey("GOOG"))
	if err != nil {
		t.Fatalf("history list missing: %v", err)
	}
	if len(history) != models.HistoryLength {
		t.Fatalf("Expected %d history entries, got %d", models.HistoryLength, len(history))
	}
	if history[0] != "1065" || history[len(history)-1] != "1006" {
		t.Errorf("history should be newest first and trimmed, got head %s tail %s", history[0], history[len(history)-1])
	}

	cancel()
	<-done
}
