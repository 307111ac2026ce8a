package queue

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatcher/internal/dispatch"
	"github.com/sungwon/mail-dispatcher/internal/logger"
)

// LambdaHandler adapts SQS-triggered Lambda invocations to the batch
// processor. The event source mapping must enable ReportBatchItemFailures so
// only the listed items are redelivered.
type LambdaHandler struct {
	processor BatchProcessor
	log       zerolog.Logger
}

// NewLambdaHandler creates a LambdaHandler.
func NewLambdaHandler(processor BatchProcessor, log zerolog.Logger) *LambdaHandler {
	return &LambdaHandler{processor: processor, log: log}
}

// Handle processes the event and returns the partial batch response. It never
// returns an error: a function error would redeliver the whole batch.
func (h *LambdaHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	start := time.Now()

	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		ctx = logger.WithCorrelationID(ctx, lc.AwsRequestID)
	}

	records := make([]dispatch.Record, 0, len(event.Records))
	for _, r := range event.Records {
		records = append(records, dispatch.Record{MessageID: r.MessageId, Body: []byte(r.Body)})
	}
	MessagesReceivedTotal.WithLabelValues("lambda").Add(float64(len(records)))

	result := h.processor.Process(ctx, records)
	BatchProcessingDuration.Observe(time.Since(start).Seconds())

	resp := events.SQSEventResponse{
		BatchItemFailures: make([]events.SQSBatchItemFailure, 0, len(result.FailedItems)),
	}
	for _, id := range result.FailedItems {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}

	h.log.Debug().
		Int("records", len(records)).
		Int("batch_item_failures", len(resp.BatchItemFailures)).
		Msg("lambda invocation complete")

	return resp, nil
}
