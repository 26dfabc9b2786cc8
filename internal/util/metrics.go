package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_submitted_total",
		Help: "Total number of orders persisted",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order submissions",
	}, []string{"reason"})

	OrdersReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_replayed_total",
		Help: "Total number of submissions answered from an idempotency key",
	})

	OrdersConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_confirmed_total",
		Help: "Total number of order placed events confirmed by the worker",
	})

	OrderPersistLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_persist_latency_seconds",
		Help:    "Latency of order store writes",
		Buckets: prometheus.DefBuckets,
	})

	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Total number of cart mutations",
	}, []string{"op"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_active_sessions",
		Help: "Number of live storefront sessions",
	})

	CatalogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_request_duration_seconds",
		Help:    "Latency of catalog service requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "outcome"})

	ListingsSupersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_listings_superseded_total",
		Help: "Total number of listing responses discarded because a newer request was issued",
	})

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
