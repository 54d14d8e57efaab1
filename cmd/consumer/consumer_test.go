package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/parking-prices/internal/ingest"
	"github.com/example/parking-prices/internal/models"
)

// fakeIngester fails the first failN calls.
type fakeIngester struct {
	failN int
	err   error
	calls int
}

func (f *fakeIngester) Ingest(ctx context.Context, rec models.ScrapedRecord) (models.ParkingLocation, error) {
	f.calls++
	if f.calls <= f.failN {
		if f.err != nil {
			return models.ParkingLocation{}, f.err
		}
		return models.ParkingLocation{}, errors.New("store unavailable")
	}
	return models.ParkingLocation{ID: "loc-" + rec.Location.Name}, nil
}

func sampleRecord() models.ScrapedRecord {
	return models.ScrapedRecord{
		Source:    "ncp",
		SourceURL: "https://ncp.test/car-parks/a/",
		Location:  models.ParkingLocation{Name: "a", Loc: models.Coord{Lat: 53.8, Lon: -1.55}},
	}
}

func TestIngestWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeIngester{failN: 2}
	start := time.Now()
	loc, err := ingestWithRetry(context.Background(), f, sampleRecord(), 3, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if loc.ID != "loc-a" || f.calls != 3 {
		t.Fatalf("unexpected loc=%+v calls=%d", loc, f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected doubling backoff between attempts")
	}
}

func TestIngestWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeIngester{failN: 5}
	if _, err := ingestWithRetry(context.Background(), f, sampleRecord(), 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

func TestIngestWithRetry_InvalidRecordNotRetried(t *testing.T) {
	f := &fakeIngester{failN: 5, err: fmt.Errorf("%w: missing name", ingest.ErrInvalidRecord)}
	if _, err := ingestWithRetry(context.Background(), f, sampleRecord(), 3, time.Millisecond); !errors.Is(err, ingest.ErrInvalidRecord) {
		t.Fatalf("expected invalid record error, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("invalid records must not be retried, calls=%d", f.calls)
	}
}

// fakeReader serves queued messages, then cancels the loop.
type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func TestConsumeCommitsEveryMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	good, _ := json.Marshal(sampleRecord())
	r := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Offset: 1, Value: good},
		{Offset: 2, Value: []byte("garbage")},
		{Offset: 3, Value: good},
	}}
	f := &fakeIngester{}
	consume(ctx, r, f, 2, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if f.calls != 2 {
		t.Fatalf("expected 2 ingests, got %d", f.calls)
	}
	if len(r.committed) != 3 || r.committed[1] != 2 {
		t.Fatalf("expected all offsets committed in order, got %v", r.committed)
	}
}
