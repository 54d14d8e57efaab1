package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LookupsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "parking_prices", Name: "lookups_total", Help: "Total location lookups by coverage outcome"}, []string{"coverage"})
	LookupLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "parking_prices", Name: "lookup_latency_seconds", Help: "Lookup latency seconds"})

	PlacesRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "parking_prices", Name: "places_requests_total", Help: "Places provider calls by outcome"}, []string{"outcome"})
	PlacesLatency       = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "parking_prices", Name: "places_latency_seconds", Help: "Places provider latency seconds"})
	PlacesInvalidTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parking_prices", Name: "places_invalid_candidates_total", Help: "Provider places rejected by schema validation"})

	DirectivesTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "parking_prices", Name: "reconcile_directives_total", Help: "Reconciliation directives by action"}, []string{"action"})
	UpsertErrorsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parking_prices", Name: "upsert_errors_total", Help: "Failed location writes"})
	ScrapedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "parking_prices", Name: "scraped_records_total", Help: "Scraped carpark records by outcome"}, []string{"outcome"})
	FeedClients         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "parking_prices", Name: "feed_clients", Help: "Connected live feed clients"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "parking_prices", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parking_prices",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
