package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.RedisCoverageKey != "coverage_geo" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DefaultRadiusM != 500 || cfg.MaxRadiusM != 50000 || cfg.MergeDistanceM != 35 {
		t.Fatalf("unexpected lookup defaults %+v", cfg)
	}
	if cfg.PlacesTimeout != 5*time.Second || cfg.PlacesMaxResults != 20 {
		t.Fatalf("unexpected places defaults %+v", cfg)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("PLACES_TIMEOUT", "2s")
	t.Setenv("MERGE_DISTANCE_M", "50")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MIGRATE", "TRUE")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.PlacesTimeout != 2*time.Second || cfg.MergeDistanceM != 50 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.LogLevel != "debug" || !cfg.RunMigrations {
		t.Fatalf("unexpected %+v", cfg)
	}
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("UPSERT_CONCURRENCY", "0")
	t.Setenv("PLACES_MAX_RESULTS", "50")
	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"HTTP_READ_TIMEOUT", "UPSERT_CONCURRENCY", "PLACES_MAX_RESULTS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("KAFKA_GROUP", "g")
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" || cfg.KafkaGroup != "g" {
		t.Fatalf("unexpected %+v", cfg)
	}
	if cfg.KafkaTopic != "scraped-carparks" {
		t.Fatalf("topic = %s", cfg.KafkaTopic)
	}
}

func TestLoadScraperConfig(t *testing.T) {
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("SCRAPE_DELAY", "1s")
	cfg, err := LoadScraperConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinioEndpoint != "minio:9000" || !cfg.MinioUseSSL || cfg.Delay != time.Second {
		t.Fatalf("unexpected %+v", cfg)
	}
	if cfg.MinioBucket != "carpark-pages" {
		t.Fatalf("bucket = %s", cfg.MinioBucket)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("PARKING_TEST_FROM_FILE=yes\nPARKING_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PARKING_TEST_PRESET", "env")
	t.Cleanup(func() { os.Unsetenv("PARKING_TEST_FROM_FILE") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("PARKING_TEST_FROM_FILE") != "yes" {
		t.Fatal("value from file not loaded")
	}
	if os.Getenv("PARKING_TEST_PRESET") != "env" {
		t.Fatal("existing variable overridden")
	}
}
