package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatcher/internal/mail"
)

// SQSEnqueuer publishes mail payloads to an AWS SQS queue.
type SQSEnqueuer struct {
	client   sqsAPI
	queueURL string
	log      zerolog.Logger
}

// NewSQSEnqueuer creates a new SQSEnqueuer targeting the given queue URL.
func NewSQSEnqueuer(client sqsAPI, queueURL string, log zerolog.Logger) *SQSEnqueuer {
	return &SQSEnqueuer{
		client:   client,
		queueURL: queueURL,
		log:      log,
	}
}

// Enqueue validates the payload, serializes it to JSON and sends it via SQS
// SendMessage. It returns the SQS message ID, which becomes the dispatch
// lock key.
func (e *SQSEnqueuer) Enqueue(ctx context.Context, p mail.Payload) (string, error) {
	if _, err := mail.NewRequest("", p.ServiceName, p.Subject, p.Message, p.Address, ""); err != nil {
		return "", err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	out, err := e.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:    e.queueURL,
		MessageBody: string(data),
	})
	if err != nil {
		return "", fmt.Errorf("sqs send message: %w", err)
	}

	MessagesEnqueuedTotal.Inc()
	e.log.Debug().Str("message_id", out.MessageID).Msg("mail payload enqueued")

	return out.MessageID, nil
}
