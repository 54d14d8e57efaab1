package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr        string
	RedisPassword    string
	RedisCoverageKey string

	PGDSN string

	PlacesAPIKey     string
	PlacesEndpoint   string
	PlacesTimeout    time.Duration
	PlacesMaxResults int

	DefaultRadiusM    float64
	MaxRadiusM        float64
	MergeDistanceM    float64
	UpsertConcurrency int

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		RedisCoverageKey:  "coverage_geo",
		PlacesEndpoint:    "https://places.googleapis.com/v1/places:searchNearby",
		PlacesTimeout:     5 * time.Second,
		PlacesMaxResults:  20,
		DefaultRadiusM:    500,
		MaxRadiusM:        50000,
		MergeDistanceM:    35,
		UpsertConcurrency: 4,
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisCoverageKey, "REDIS_COVERAGE_KEY")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.PlacesAPIKey = strings.TrimSpace(os.Getenv("PLACES_API_KEY"))
	setStringFromEnv(&cfg.PlacesEndpoint, "PLACES_ENDPOINT")
	setDurationFromEnv(&cfg.PlacesTimeout, "PLACES_TIMEOUT", &errs)
	setIntFromEnv(&cfg.PlacesMaxResults, "PLACES_MAX_RESULTS", &errs)

	setFloatFromEnv(&cfg.DefaultRadiusM, "LOOKUP_DEFAULT_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.MaxRadiusM, "LOOKUP_MAX_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.MergeDistanceM, "MERGE_DISTANCE_M", &errs)
	setIntFromEnv(&cfg.UpsertConcurrency, "UPSERT_CONCURRENCY", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.PlacesMaxResults < 1 || cfg.PlacesMaxResults > 20 {
		errs = append(errs, fmt.Errorf("PLACES_MAX_RESULTS must be in [1,20]"))
	}
	if cfg.DefaultRadiusM <= 0 || cfg.DefaultRadiusM > cfg.MaxRadiusM {
		errs = append(errs, fmt.Errorf("LOOKUP_DEFAULT_RADIUS_M must be > 0 and <= LOOKUP_MAX_RADIUS_M"))
	}
	if cfg.MaxRadiusM > 50000 {
		errs = append(errs, fmt.Errorf("LOOKUP_MAX_RADIUS_M must be <= 50000"))
	}
	if cfg.MergeDistanceM <= 0 {
		errs = append(errs, fmt.Errorf("MERGE_DISTANCE_M must be > 0"))
	}
	if cfg.UpsertConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("UPSERT_CONCURRENCY must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig drives the scraped-record consumer.
type ConsumerConfig struct {
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroup     string
	PGDSN          string
	MetricsAddr    string
	MergeDistanceM float64
	RetryAttempts  int
	RetryDelay     time.Duration
	LogLevel       string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "scraped-carparks",
		KafkaGroup:     "parking-prices-consumer",
		MetricsAddr:    ":2112",
		MergeDistanceM: 35,
		RetryAttempts:  3,
		RetryDelay:     200 * time.Millisecond,
		LogLevel:       "info",
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setFloatFromEnv(&cfg.MergeDistanceM, "MERGE_DISTANCE_M", &errs)
	setIntFromEnv(&cfg.RetryAttempts, "CONSUMER_RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "CONSUMER_RETRY_DELAY", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	if cfg.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_RETRY_ATTEMPTS must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

// ScraperConfig holds the environment side of the scraper CLI; flags
// override it.
type ScraperConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	PGDSN        string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioBucket    string

	Delay       time.Duration
	PageTimeout time.Duration
	LogLevel    string
}

func LoadScraperConfig() (ScraperConfig, error) {
	cfg := ScraperConfig{
		KafkaTopic:  "scraped-carparks",
		MinioBucket: "carpark-pages",
		Delay:       500 * time.Millisecond,
		PageTimeout: 20 * time.Second,
		LogLevel:    "info",
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.MinioEndpoint = strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	cfg.MinioAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	cfg.MinioSecretKey = os.Getenv("MINIO_SECRET_KEY")
	cfg.MinioUseSSL = strings.EqualFold(os.Getenv("MINIO_USE_SSL"), "true")
	setStringFromEnv(&cfg.MinioBucket, "MINIO_BUCKET")

	setDurationFromEnv(&cfg.Delay, "SCRAPE_DELAY", &errs)
	setDurationFromEnv(&cfg.PageTimeout, "SCRAPE_PAGE_TIMEOUT", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if cfg.Delay < 0 {
		errs = append(errs, fmt.Errorf("SCRAPE_DELAY must not be negative"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
