// Package queue connects the batch processor to SQS: as a Lambda event
// handler returning partial batch failures, or as a long-poll consumer that
// deletes acknowledged messages itself.
package queue

import (
	"context"

	"github.com/sungwon/mail-dispatcher/internal/dispatch"
)

// BatchProcessor processes one batch of records and reports the ones to
// redeliver.
type BatchProcessor interface {
	Process(ctx context.Context, records []dispatch.Record) dispatch.Result
}
