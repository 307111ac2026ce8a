package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatcher/internal/dispatch"
	"github.com/sungwon/mail-dispatcher/internal/logger"
)

// maxReceiveMessages is the SQS ReceiveMessage and DeleteMessageBatch limit.
const maxReceiveMessages = 10

// PollerConfig holds the long-poll consumer settings.
type PollerConfig struct {
	QueueURL        string
	WaitTime        int32
	VisTimeout      int32
	MaxMessages     int32
	ShutdownTimeout time.Duration
	// ReceiveBackoff is the pause after a failed ReceiveMessage call.
	ReceiveBackoff time.Duration
}

// SQSPoller long-polls an SQS queue and hands each received batch to the
// processor. Messages the processor does not report as failed are deleted;
// failed ones become visible again after the visibility timeout.
type SQSPoller struct {
	client          sqsAPI
	processor       BatchProcessor
	log             zerolog.Logger
	queueURL        string
	waitTime        int32
	visTimeout      int32
	maxMessages     int32
	shutdownTimeout time.Duration
	receiveBackoff  time.Duration
	wg              sync.WaitGroup
	cancel          context.CancelFunc
}

// NewSQSPoller creates an SQSPoller configured from cfg.
func NewSQSPoller(client sqsAPI, processor BatchProcessor, cfg PollerConfig, log zerolog.Logger) *SQSPoller {
	waitTime := cfg.WaitTime
	if waitTime == 0 {
		waitTime = 20
	}
	visTimeout := cfg.VisTimeout
	if visTimeout == 0 {
		visTimeout = 30
	}
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 || maxMessages > maxReceiveMessages {
		maxMessages = maxReceiveMessages
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	receiveBackoff := cfg.ReceiveBackoff
	if receiveBackoff == 0 {
		receiveBackoff = time.Second
	}

	return &SQSPoller{
		client:          client,
		processor:       processor,
		log:             log,
		queueURL:        cfg.QueueURL,
		waitTime:        waitTime,
		visTimeout:      visTimeout,
		maxMessages:     maxMessages,
		shutdownTimeout: shutdownTimeout,
		receiveBackoff:  receiveBackoff,
	}
}

// Start launches the polling goroutine.
func (p *SQSPoller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.log.Info().
		Str("queue_url", p.queueURL).
		Int32("max_messages", p.maxMessages).
		Msg("sqs poller started")

	return nil
}

// Stop cancels polling and waits for the in-flight batch to finish within
// the shutdown timeout.
func (p *SQSPoller) Stop(_ context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("sqs poller stopped gracefully")
		return nil
	case <-time.After(p.shutdownTimeout):
		p.log.Warn().Msg("sqs poller shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", p.shutdownTimeout)
	}
}

// run is the receive loop.
func (p *SQSPoller) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("sqs poller stopping")
			return
		default:
		}

		out, err := p.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            p.queueURL,
			MaxNumberOfMessages: p.maxMessages,
			WaitTimeSeconds:     p.waitTime,
			VisibilityTimeout:   p.visTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			QueueErrorsTotal.WithLabelValues("receive").Inc()
			p.log.Error().Err(err).Msg("sqs receive error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.receiveBackoff):
			}
			continue
		}

		if len(out.Messages) > 0 {
			p.processBatch(ctx, out.Messages)
		}
	}
}

// processBatch runs one received batch to completion and deletes the
// acknowledged messages. Stopping the poller does not cancel a batch that
// has started; it is bounded by the visibility timeout instead.
func (p *SQSPoller) processBatch(ctx context.Context, msgs []sqsReceivedMessage) {
	start := time.Now()
	MessagesReceivedTotal.WithLabelValues("sqs").Add(float64(len(msgs)))

	batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(p.visTimeout)*time.Second)
	defer cancel()
	batchCtx = logger.WithCorrelationID(batchCtx, logger.NewCorrelationID())

	records := make([]dispatch.Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, dispatch.Record{MessageID: m.MessageID, Body: []byte(m.Body)})
	}

	result := p.processor.Process(batchCtx, records)
	BatchProcessingDuration.Observe(time.Since(start).Seconds())

	p.acknowledge(batchCtx, msgs, result.FailedItems)
}

// acknowledge deletes every message not listed in failed.
func (p *SQSPoller) acknowledge(ctx context.Context, msgs []sqsReceivedMessage, failed []string) {
	keep := make(map[string]bool, len(failed))
	for _, id := range failed {
		keep[id] = true
	}

	entries := make([]sqsDeleteEntry, 0, len(msgs))
	byEntry := make(map[string]string, len(msgs))
	for i, m := range msgs {
		if keep[m.MessageID] {
			continue
		}
		id := strconv.Itoa(i)
		entries = append(entries, sqsDeleteEntry{ID: id, ReceiptHandle: m.ReceiptHandle})
		byEntry[id] = m.MessageID
	}

	for len(entries) > 0 {
		n := min(len(entries), maxReceiveMessages)
		chunk := entries[:n]
		entries = entries[n:]

		out, err := p.client.DeleteMessageBatch(ctx, &sqsDeleteBatchInput{
			QueueURL: p.queueURL,
			Entries:  chunk,
		})
		if err != nil {
			QueueErrorsTotal.WithLabelValues("delete").Inc()
			p.log.Error().Err(err).Int("count", len(chunk)).Msg("failed to delete sqs messages")
			continue
		}

		for _, f := range out.Failed {
			QueueErrorsTotal.WithLabelValues("delete").Inc()
			p.log.Error().
				Str("message_id", byEntry[f.ID]).
				Str("code", f.Code).
				Str("reason", f.Message).
				Msg("failed to delete sqs message")
		}
		MessagesDeletedTotal.Add(float64(len(chunk) - len(out.Failed)))
	}
}
