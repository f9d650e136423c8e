package queue

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueDepth = register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Ready tasks waiting per kind.",
	}, []string{"kind"}))
	QueueProcessedTotal = register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_processed_total",
		Help: "Task outcomes per kind (ok, retry, dlq).",
	}, []string{"kind", "status"}))
	QueueDLQSize = register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_dlq_size",
		Help: "Dead-lettered tasks per kind.",
	}, []string{"kind"}))
)

// RefreshDLQMetrics reloads the DLQ size gauge for every kind known to store.
func RefreshDLQMetrics(ctx context.Context, store Store) error {
	if store == nil {
		return ErrStoreUnavailable
	}
	sizes, err := store.QueueDlqSizeByKind(ctx)
	if err != nil {
		return err
	}
	QueueDLQSize.Reset()
	for kind, size := range sizes {
		QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(size))
	}
	return nil
}

func countProcessed(kind, status string) {
	QueueProcessedTotal.WithLabelValues(queueLabel(kind), status).Inc()
}

func queueLabel(kind string) string {
	if kind == "" {
		return "unknown"
	}
	return kind
}

// register adds c to the default registry, returning the collector already
// registered under the same name when there is one.
func register[C prometheus.Collector](c C) C {
	err := prometheus.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}
