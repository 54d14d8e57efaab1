package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/parking-prices/internal/config"
	"github.com/example/parking-prices/internal/ingest"
	"github.com/example/parking-prices/internal/logging"
	"github.com/example/parking-prices/internal/models"
	"github.com/example/parking-prices/internal/reconcile"
	"github.com/example/parking-prices/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total scraped record messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	recordsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_records_ingested_total",
		Help: "Total scraped records merged into the store",
	})
	ingestErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_ingest_errors_total",
		Help: "Total records that failed after all retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, recordsIngested, ingestErrors)
}

func main() {
	dotenvErr := config.LoadDotEnv()
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger("parking-prices-consumer", cfg.LogLevel)
	if dotenvErr != nil {
		logger.Warn("dotenv_load_failed", "error", dotenvErr)
	}
	if err != nil {
		logger.Error("invalid_config", "error", err)
		os.Exit(1)
	}

	var (
		store storage.LocationStore
		ready = func(context.Context) error { return nil }
	)
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres_unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		store = ps
		ready = func(ctx context.Context) error { return ps.DB().PingContext(ctx) }
	} else {
		logger.Warn("pg_dsn_missing_using_memory_store")
		store = storage.NewMemoryStore()
	}

	ing := &ingest.Ingester{
		Store:    store,
		Engine:   reconcile.NewEngine(cfg.MergeDistanceM),
		Upserter: &storage.Upserter{Store: store, Concurrency: 1, Logger: logger},
		Logger:   logger,
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := ready(r.Context()); err != nil {
				http.Error(w, "store not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics_listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics_server_stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := ingest.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
	defer func() { _ = r.Close() }()

	logger.Info("consumer_listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, ing, cfg.RetryAttempts, cfg.RetryDelay, logger)
	logger.Info("consumer_stopped")
}

// MessageReader is the part of kafka.Reader the loop needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// RecordIngester merges one scraped record into the store.
type RecordIngester interface {
	Ingest(ctx context.Context, rec models.ScrapedRecord) (models.ParkingLocation, error)
}

// consume reads until ctx ends. Every message is committed once handled, so
// an invalid or permanently failing record is logged and skipped rather than
// replayed forever.
func consume(ctx context.Context, r MessageReader, ing RecordIngester, attempts int, delay time.Duration, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka_read_failed", "error", err, "backoff", backoff.String())
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second
		msgsConsumed.Inc()

		rec, err := ingest.DecodeRecord(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid_message", "offset", m.Offset, "partition", m.Partition, "error", err)
		} else if loc, err := ingestWithRetry(ctx, ing, rec, attempts, delay); err != nil {
			ingestErrors.Inc()
			logger.Error("ingest_failed", "source_url", rec.SourceURL, "error", err)
		} else {
			recordsIngested.Inc()
			logger.Debug("record_ingested", "location_id", loc.ID, "source_url", rec.SourceURL)
		}

		if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logger.Warn("kafka_commit_failed", "offset", m.Offset, "error", err)
		}
	}
}

// ingestWithRetry retries transient store failures with doubling delays.
// Invalid records are not retried.
func ingestWithRetry(ctx context.Context, ing RecordIngester, rec models.ScrapedRecord, attempts int, delay time.Duration) (models.ParkingLocation, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		loc, err := ing.Ingest(ctx, rec)
		if err == nil {
			return loc, nil
		}
		if errors.Is(err, ingest.ErrInvalidRecord) {
			return models.ParkingLocation{}, err
		}
		lastErr = err
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return models.ParkingLocation{}, lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
