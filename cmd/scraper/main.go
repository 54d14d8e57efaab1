// Command scraper walks the NCP carpark listings and emits one record per
// carpark.
//
//	scraper run                       # every city linked from the index
//	scraper run --city https://...    # a single city page
//	scraper run --sink kafka|store|stdout [--archive]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/parking-prices/internal/config"
	"github.com/example/parking-prices/internal/ingest"
	"github.com/example/parking-prices/internal/logging"
	"github.com/example/parking-prices/internal/models"
	"github.com/example/parking-prices/internal/reconcile"
	"github.com/example/parking-prices/internal/scrape"
	"github.com/example/parking-prices/internal/storage"
)

type runOptions struct {
	city     string
	index    string
	prefix   string
	sink     string
	delay    time.Duration
	archive  bool
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scraper",
		Short:         "Scrape carpark prices and opening hours",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape the carpark listings and emit records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dotenvErr := config.LoadDotEnv(); dotenvErr != nil {
				fmt.Fprintln(os.Stderr, "dotenv:", dotenvErr)
			}
			cfg, err := config.LoadScraperConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if !cmd.Flags().Changed("delay") {
				opts.delay = cfg.Delay
			}
			if opts.logLevel == "" {
				opts.logLevel = cfg.LogLevel
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.city, "city", "", "scrape a single city page instead of the whole index")
	f.StringVar(&opts.index, "index", scrape.DefaultIndexURL, "city index page")
	f.StringVar(&opts.prefix, "prefix", scrape.DefaultCarparkPrefix, "URL prefix of carpark pages")
	f.StringVar(&opts.sink, "sink", "kafka", "where records go: kafka, store or stdout")
	f.DurationVar(&opts.delay, "delay", scrape.DefaultDelay, "pause between page loads")
	f.BoolVar(&opts.archive, "archive", false, "keep raw carpark pages in the MinIO bucket")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	return cmd
}

func run(ctx context.Context, cfg config.ScraperConfig, opts runOptions, stdout io.Writer) error {
	logger := logging.NewLogger("parking-prices-scraper", opts.logLevel)

	sink, closeSink, err := buildSink(cfg, opts.sink, stdout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSink(); err != nil {
			logger.Warn("sink_close_failed", "error", err)
		}
	}()

	sessionOpts := scrape.SessionOptions{Delay: opts.delay, Logger: logger}
	if opts.archive {
		arch, err := scrape.NewMinioArchive(scrape.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.MinioBucket,
		})
		if err != nil {
			return err
		}
		if err := arch.EnsureBucket(ctx, ""); err != nil {
			return fmt.Errorf("archive bucket: %w", err)
		}
		sessionOpts.Archive = arch
	}

	p := &scrape.Pipeline{IndexURL: opts.index, CarparkPrefix: opts.prefix, Sink: sink, Logger: logger}
	return scrape.WithSession(ctx, scrape.NewHTTPBrowser(cfg.PageTimeout), sessionOpts, func(ctx context.Context, s *scrape.Session) error {
		_, err := p.Run(ctx, s, opts.city)
		return err
	})
}

func buildSink(cfg config.ScraperConfig, kind string, stdout io.Writer, logger *slog.Logger) (scrape.Sink, func() error, error) {
	noop := func() error { return nil }
	switch kind {
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, nil, errors.New("kafka sink needs KAFKA_BROKERS")
		}
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		return kp, kp.Close, nil
	case "store":
		if cfg.PGDSN == "" {
			return nil, nil, errors.New("store sink needs PG_DSN")
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		ing := &ingest.Ingester{
			Store:    ps,
			Engine:   reconcile.NewEngine(reconcile.DefaultMergeDistance),
			Upserter: &storage.Upserter{Store: ps, Concurrency: 1, Logger: logger},
			Logger:   logger,
		}
		return ing, ps.Close, nil
	case "stdout":
		enc := json.NewEncoder(stdout)
		return scrape.SinkFunc(func(_ context.Context, rec models.ScrapedRecord) error {
			return enc.Encode(rec)
		}), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink %q", kind)
	}
}
