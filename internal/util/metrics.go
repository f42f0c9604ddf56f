package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created by checkout",
	})

	CheckoutFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of orders completed after a successful payment",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_total",
		Help: "Payment intent requests by outcome",
	}, []string{"outcome"})

	PaymentsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Total number of payments marked completed",
	})

	PaymentsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Total number of payments marked failed",
	})

	DuplicateCapturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_duplicate_captures_total",
		Help: "Gateway successes observed for orders that already had a completed payment",
	})

	IntentAmountMismatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_intent_amount_mismatch_total",
		Help: "Gateway intents whose amount differs from the recorded payment",
	})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliations_total",
		Help: "Reconciliation passes by gateway status",
	}, []string{"source", "status"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	GatewayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Total number of payment gateway errors",
	}, []string{"operation", "kind"})

	InventoryUnitsAllocatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_units_allocated_total",
		Help: "Total number of serialized units marked sold",
	})

	InventoryShortfallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_shortfall_units_total",
		Help: "Units that could not be allocated for completed orders",
	}, []string{"catalog_item_id"})

	KafkaHandlerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_handler_retries_total",
		Help: "Failed message handler attempts that were retried",
	}, []string{"topic"})

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
