package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsRegisteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_items_registered_total",
		Help: "Total number of inventory items registered",
	}, []string{"mode"})

	ProductsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_products_created_total",
		Help: "Total number of catalog products created",
	})

	DedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_dedup_hits_total",
		Help: "Total number of registrations resolved to an existing product",
	})

	ItemsUpdatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_items_updated_total",
		Help: "Total number of field-routed writes by target record",
	}, []string{"target"})

	ItemsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_items_deleted_total",
		Help: "Total number of inventory items deleted",
	})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_events_consumed_total",
		Help: "Total number of consumed Kafka messages by outcome",
	}, []string{"outcome"})

	URLSanitizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_product_urls_dropped_total",
		Help: "Total number of product URLs nulled by the marketplace allow-list",
	})

	MigrationItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_migration_items_total",
		Help: "Total number of records seen by the migration job",
	}, []string{"outcome"})

	MigrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_migration_duration_seconds",
		Help:    "Duration of migration runs",
		Buckets: prometheus.DefBuckets,
	})

	ScanRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_scan_requests_total",
		Help: "Total number of scan service calls",
	}, []string{"status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
