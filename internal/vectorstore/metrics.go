package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts store operations.
	// Labels: operation (replace, append, query, dump), result (success, error)
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidqa",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vidqa",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// chunksStored is the chunk count of the active generation per collection.
	chunksStored = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vidqa",
			Subsystem: "vectorstore",
			Name:      "chunks",
			Help:      "Number of chunks in the active collection generation",
		},
		[]string{"collection"},
	)
)

func observe(operation string, start time.Time, err *error) {
	result := "success"
	if *err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
