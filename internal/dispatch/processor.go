// Package dispatch processes a batch of queue records: each record is parsed,
// routed to a region, deduplicated through the dispatch lock and sent. The
// batch result lists the records the queue should redeliver.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sungwon/mail-dispatcher/internal/config"
	"github.com/sungwon/mail-dispatcher/internal/lock"
	"github.com/sungwon/mail-dispatcher/internal/logger"
	"github.com/sungwon/mail-dispatcher/internal/mail"
	"github.com/sungwon/mail-dispatcher/internal/metrics"
	"github.com/sungwon/mail-dispatcher/internal/provider"
)

// Record is one queue item: the transport-assigned message ID and the raw
// JSON payload.
type Record struct {
	MessageID string
	Body      []byte
}

// Result is the batch outcome. FailedItems holds the message IDs to
// redeliver, in batch order, each at most once.
type Result struct {
	FailedItems []string
}

// regionResolver resolves a service name to a region. It never fails.
type regionResolver interface {
	Resolve(ctx context.Context, serviceName string) string
}

// dispatchLock is the subset of lock.DispatchLock the processor uses.
type dispatchLock interface {
	TryAcquire(ctx context.Context, key string) (lock.Outcome, error)
	Release(ctx context.Context, key string) error
}

// Processor runs batches. It holds no per-batch state and is safe for
// concurrent use.
type Processor struct {
	resolver   regionResolver
	lock       dispatchLock
	dispatcher provider.Dispatcher
	cfg        config.DispatchConfig
	log        zerolog.Logger
}

const defaultRecordTimeout = 30 * time.Second

// NewProcessor creates a Processor. A Concurrency below one is treated as
// sequential processing.
func NewProcessor(
	resolver regionResolver,
	dl dispatchLock,
	dispatcher provider.Dispatcher,
	cfg config.DispatchConfig,
	log zerolog.Logger,
) *Processor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = defaultRecordTimeout
	}
	return &Processor{
		resolver:   resolver,
		lock:       dl,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}
}

// Process handles every record in the batch independently; one record's
// failure never stops the others. Only dispatch failures, unexpected
// per-record errors and records not started before ctx ended are reported.
// Invalid payloads and records whose lock could not be acquired are dropped.
func (p *Processor) Process(ctx context.Context, records []Record) Result {
	metrics.BatchesTotal.Inc()

	correlationID := logger.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = logger.NewCorrelationID()
		ctx = logger.WithCorrelationID(ctx, correlationID)
	}
	ctx = logger.WithLogger(ctx, p.log)
	log := logger.FromContext(ctx).With().Int("batch_size", len(records)).Logger()

	outcomes := make([]string, len(records))

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)
	for i, rec := range records {
		g.Go(func() error {
			outcomes[i] = p.processRecord(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	var result Result
	seen := make(map[string]bool)
	counts := make(map[string]int)
	for i, outcome := range outcomes {
		metrics.RecordsTotal.WithLabelValues(outcome).Inc()
		counts[outcome]++

		if !redeliver(outcome) {
			continue
		}
		id := records[i].MessageID
		if seen[id] {
			continue
		}
		seen[id] = true
		result.FailedItems = append(result.FailedItems, id)
	}

	log.Info().
		Int("sent", counts[metrics.OutcomeSent]).
		Int("rejected", counts[metrics.OutcomeRejected]).
		Int("duplicate", counts[metrics.OutcomeDuplicate]).
		Int("lock_error", counts[metrics.OutcomeLockError]).
		Int("failed", len(result.FailedItems)).
		Msg("batch processed")

	return result
}

// redeliver reports whether a record outcome belongs in FailedItems.
func redeliver(outcome string) bool {
	switch outcome {
	case metrics.OutcomeSendFailed, metrics.OutcomePanic, metrics.OutcomeCanceled:
		return true
	default:
		return false
	}
}

// processRecord runs one record through parse, resolve, lock and send, and
// returns its outcome label. The record logger travels in ctx so the
// dispatcher logs with the same message and correlation fields.
func (p *Processor) processRecord(ctx context.Context, rec Record) (outcome string) {
	recLog := p.log.With().Str("message_id", rec.MessageID).Logger()
	ctx = logger.WithLogger(ctx, recLog)
	log := logger.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("record processing panicked")
			outcome = metrics.OutcomePanic
		}
	}()

	// Records that never started are handed back to the queue untouched.
	if ctx.Err() != nil {
		log.Warn().Err(ctx.Err()).Msg("batch context done before record started")
		return metrics.OutcomeCanceled
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RecordTimeout)
	defer cancel()

	req, err := mail.ParseRecord(rec.MessageID, rec.Body, p.cfg.SenderAddress)
	if err != nil {
		if mail.IsPermanent(err) {
			log.Warn().Err(err).Msg("invalid mail request, dropping")
			return metrics.OutcomeRejected
		}
		log.Error().Err(err).Msg("failed to parse record")
		return metrics.OutcomeSendFailed
	}

	region := p.resolver.Resolve(ctx, req.ServiceName)
	ctx = logger.WithLogger(ctx, recLog.With().Str("service_name", req.ServiceName).Str("region", region).Logger())
	log = logger.FromContext(ctx)

	acquired, err := p.lock.TryAcquire(ctx, req.MessageID)
	switch acquired {
	case lock.Acquired:
	case lock.AlreadyLocked:
		log.Info().Msg("message already dispatched or in flight, skipping")
		return metrics.OutcomeDuplicate
	case lock.StoreError:
		// The record is dropped rather than retried; a send without the
		// lock could duplicate mail.
		log.Warn().Err(err).Msg("lock store unavailable, skipping")
		return metrics.OutcomeLockError
	default:
		log.Warn().Stringer("lock_outcome", acquired).Msg("lock not acquired, skipping")
		return metrics.OutcomeLockError
	}

	transport := p.dispatcher.Name()
	sendStart := time.Now()
	sendErr := p.dispatcher.Send(ctx, req, region)
	metrics.SendDuration.WithLabelValues(transport).Observe(time.Since(sendStart).Seconds())

	if sendErr != nil {
		class := provider.Class(sendErr)
		metrics.SendErrorsTotal.WithLabelValues(transport, class).Inc()
		log.Error().Err(sendErr).
			Str("transport", transport).
			Str("error_class", class).
			Msg("mail dispatch failed")

		if p.cfg.ReleaseLockOnFailure {
			p.releaseLock(ctx, log, req.MessageID)
		}
		return metrics.OutcomeSendFailed
	}

	log.Info().
		Str("transport", transport).
		Int64("duration_ms", time.Since(sendStart).Milliseconds()).
		Msg("mail dispatched")
	return metrics.OutcomeSent
}

// releaseLock deletes the lock after a failed send so the redelivered record
// can be retried. Failure leaves the lock to expire on its own.
func (p *Processor) releaseLock(ctx context.Context, log zerolog.Logger, messageID string) {
	// The record context may already be past its deadline.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.lock.Release(releaseCtx, messageID); err != nil {
		log.Warn().Err(err).Msg("failed to release dispatch lock, redelivery will be skipped until it expires")
		return
	}
	log.Debug().Msg("dispatch lock released after failed send")
}
