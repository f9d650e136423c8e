package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartOperationsTotal counts cart mutations by operation.
	CartOperationsTotal *prometheus.CounterVec
	// CheckoutTotal counts checkout outcomes (confirmed, transient, permanent, busy, empty).
	CheckoutTotal *prometheus.CounterVec
	// CheckoutLatency records submission latency in milliseconds.
	CheckoutLatency *prometheus.HistogramVec
	// KitchenForwardTotal counts worker forwards of queued orders to the kitchen.
	KitchenForwardTotal *prometheus.CounterVec
	// LunchActivityTotal counts lunch trips and orders placed against them.
	LunchActivityTotal *prometheus.CounterVec
	// CartStorageErrors counts failed cart reads and writes.
	CartStorageErrors *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_operations_total",
			Help:      "Count of cart operations by kind.",
		}, []string{"op"})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout attempts by outcome.",
		}, []string{"result"})
		CheckoutLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_ms",
			Help:      "Latency of order submission in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"result"})
		KitchenForwardTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kitchen_forward_total",
			Help:      "Count of queued orders forwarded to the kitchen by outcome.",
		}, []string{"result"})
		LunchActivityTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lunch_activity_total",
			Help:      "Count of lunch trips and trip orders created.",
		}, []string{"kind"})
		CartStorageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_storage_errors_total",
			Help:      "Count of failed cart storage operations.",
		}, []string{"op"})

		mustRegisterCollector(reg, CartOperationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartOperationsTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CheckoutLatency = v
			}
		})
		mustRegisterCollector(reg, KitchenForwardTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				KitchenForwardTotal = v
			}
		})
		mustRegisterCollector(reg, LunchActivityTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				LunchActivityTotal = v
			}
		})
		mustRegisterCollector(reg, CartStorageErrors, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartStorageErrors = v
			}
		})
	})
}

// CountCartOp increments CartOperationsTotal when registered.
func CountCartOp(op string) {
	if CartOperationsTotal != nil {
		CartOperationsTotal.WithLabelValues(op).Inc()
	}
}

// ObserveCheckout records a checkout outcome and, when d > 0, its latency.
func ObserveCheckout(result string, d time.Duration) {
	if CheckoutTotal != nil {
		CheckoutTotal.WithLabelValues(result).Inc()
	}
	if CheckoutLatency != nil && d > 0 {
		CheckoutLatency.WithLabelValues(result).Observe(DurationMillis(d))
	}
}

// CountKitchenForward increments KitchenForwardTotal when registered.
func CountKitchenForward(result string) {
	if KitchenForwardTotal != nil {
		KitchenForwardTotal.WithLabelValues(result).Inc()
	}
}

// CountLunchActivity increments LunchActivityTotal when registered.
func CountLunchActivity(kind string) {
	if LunchActivityTotal != nil {
		LunchActivityTotal.WithLabelValues(kind).Inc()
	}
}

// CountStorageError increments CartStorageErrors when registered.
func CountStorageError(op string) {
	if CartStorageErrors != nil {
		CartStorageErrors.WithLabelValues(op).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
