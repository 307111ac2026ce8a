package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_received_total",
			Help: "Total number of queue messages received by source",
		},
		[]string{"source"}, // sqs, lambda
	)

	MessagesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_deleted_total",
			Help: "Total number of messages acknowledged and deleted from SQS",
		},
	)

	MessagesEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_enqueued_total",
			Help: "Total number of messages enqueued",
		},
	)

	QueueErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_errors_total",
			Help: "Total number of SQS API errors by operation",
		},
		[]string{"operation"}, // receive, delete
	)

	BatchProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_batch_processing_duration_seconds",
			Help:    "Duration of batch processing operations",
			Buckets: prometheus.DefBuckets,
		},
	)
)
