package archiver_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/archiver/internal/archiver"
	"github.com/shubham-shewale/stock-relay/cmd/archiver/internal/testutils"
	"github.com/shubham-shewale/stock-relay/pkg/config"
	"github.com/shubham-shewale/stock-relay/pkg/models"
)

func journal(updates ...models.StockUpdate) []kafka.Message {
	var msgs []kafka.Message
	for _, u := range updates {
		val, _ := json.Marshal(u)
		msgs = append(msgs, kafka.Message{Key: []byte(u.Symbol), Value: val})
	}
	return msgs
}

func runFor(t *testing.T, a *archiver.Archiver, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Logf("Archiver stopped: %v", err)
	}
}

func TestArchiver_DeduplicatesBySeqID(t *testing.T) {
	mockReader := &testutils.MockKafkaReader{Messages: journal(
		models.StockUpdate{Symbol: "GOOG", Price: 100.0, SeqID: 1},
		models.StockUpdate{Symbol: "GOOG", Price: 100.0, SeqID: 1},
		models.StockUpdate{Symbol: "GOOG", Price: 101.0, SeqID: 2},
		models.StockUpdate{Symbol: "TSLA", Price: 900.0, SeqID: 1},
		models.StockUpdate{Symbol: "GOOG", Price: 99.0, SeqID: 1},
	)}
	mockRedis := testutils.NewMockRedisClient()

	a := archiver.NewArchiver(config.ArchiverConfig{NumWorkers: 2}, zap.NewNop(), mockRedis, mockReader, &testutils.MockClock{})
	runFor(t, a, 500*time.Millisecond)

	pipeline := mockRedis.PipelineSpy
	pipeline.Mu.Lock()
	defer pipeline.Mu.Unlock()

	if pipeline.ExecCount != 3 {
		t.Errorf("Expected 3 pipeline executions, got %d", pipeline.ExecCount)
	}

	seen := map[string]int{}
	for _, cmd := range pipeline.RecordedCmds {
		seen[cmd]++
	}
	want := map[string]int{
		"SET stock:GOOG":          2,
		"LPUSH history:GOOG":      2,
		"LTRIM history:GOOG 0 59": 2,
		"PUBLISH prices.GOOG":     2,
		"SET stock:TSLA":          1,
		"LPUSH history:TSLA":      1,
		"LTRIM history:TSLA 0 59": 1,
		"PUBLISH prices.TSLA":     1,
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("recorded commands mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiver_InvalidJSON(t *testing.T) {
	mockReader := &testutils.MockKafkaReader{Messages: []kafka.Message{
		{Key: []byte("GOOG"), Value: []byte("{broken-json")},
	}}
	mockRedis := testutils.NewMockRedisClient()

	a := archiver.NewArchiver(config.ArchiverConfig{NumWorkers: 1}, zap.NewNop(), mockRedis, mockReader, &testutils.MockClock{})
	runFor(t, a, 200*time.Millisecond)

	if mockRedis.PipelineSpy.ExecCount > 0 {
		t.Error("Should not execute Redis commands for invalid JSON")
	}
}

func TestArchiver_FailedExecIsRetriedOnNextRecord(t *testing.T) {
	mockReader := &testutils.MockKafkaReader{Messages: journal(
		models.StockUpdate{Symbol: "AMZN", Price: 120.0, SeqID: 1},
		models.StockUpdate{Symbol: "AMZN", Price: 120.0, SeqID: 1},
	)}
	mockRedis := testutils.NewMockRedisClient()
	mockRedis.PipelineSpy.ShouldFail = true

	a := archiver.NewArchiver(config.ArchiverConfig{NumWorkers: 1}, zap.NewNop(), mockRedis, mockReader, &testutils.MockClock{})
	runFor(t, a, 200*time.Millisecond)

	// A failed write does not advance the last seen SeqID, so the redelivery is attempted.
	if got := mockRedis.PipelineSpy.ExecCount; got != 2 {
		t.Errorf("Expected 2 pipeline executions, got %d", got)
	}
}

func TestArchiver_ReadErrorsDoNotStopTheLoop(t *testing.T) {
	mockReader := &testutils.MockKafkaReader{
		Errors:   []error{errors.New("broker hiccup")},
		Messages: journal(models.StockUpdate{Symbol: "META", Price: 300.0, SeqID: 7}),
	}
	mockRedis := testutils.NewMockRedisClient()

	a := archiver.NewArchiver(config.ArchiverConfig{NumWorkers: 1}, zap.NewNop(), mockRedis, mockReader, &testutils.MockClock{})
	runFor(t, a, 200*time.Millisecond)

	if got := mockRedis.PipelineSpy.ExecCount; got != 1 {
		t.Errorf("Expected 1 pipeline execution after read error, got %d", got)
	}
}

func TestArchiver_ReadErrorsBackOff(t *testing.T) {
	var errs []error
	for i := 0; i < 8; i++ {
		errs = append(errs, errors.New("broker down"))
	}
	mockReader := &testutils.MockKafkaReader{
		Errors:   errs,
		Messages: journal(models.StockUpdate{Symbol: "NVDA", Price: 450.0, SeqID: 1}),
	}
	mockRedis := testutils.NewMockRedisClient()
	clock := &testutils.MockClock{}

	a := archiver.NewArchiver(config.ArchiverConfig{NumWorkers: 1}, zap.NewNop(), mockRedis, mockReader, clock)
	runFor(t, a, 200*time.Millisecond)

	want := []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond,
		1600 * time.Millisecond, 3200 * time.Millisecond, 5 * time.Second, 5 * time.Second,
	}
	clock.Mu.Lock()
	defer clock.Mu.Unlock()
	if diff := cmp.Diff(want, clock.Waits); diff != "" {
		t.Errorf("retry waits mismatch (-want +got):\n%s", diff)
	}
	if got := mockRedis.PipelineSpy.ExecCount; got != 1 {
		t.Errorf("Expected 1 pipeline execution once the broker recovers, got %d", got)
	}
}
