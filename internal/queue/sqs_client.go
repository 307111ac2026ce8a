package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsAPI abstracts the AWS SQS client for testability.
type sqsAPI interface {
	SendMessage(ctx context.Context, input *sqsSendInput) (*sqsSendOutput, error)
	ReceiveMessage(ctx context.Context, input *sqsReceiveInput) (*sqsReceiveOutput, error)
	DeleteMessageBatch(ctx context.Context, input *sqsDeleteBatchInput) (*sqsDeleteBatchOutput, error)
}

// sqsSendInput mirrors the fields needed for SQS SendMessage.
type sqsSendInput struct {
	QueueURL    string
	MessageBody string
}

// sqsSendOutput contains the result of a successful SendMessage call.
type sqsSendOutput struct {
	MessageID string
}

// sqsReceiveInput mirrors the fields needed for SQS ReceiveMessage.
type sqsReceiveInput struct {
	QueueURL            string
	MaxNumberOfMessages int32
	WaitTimeSeconds     int32
	VisibilityTimeout   int32
}

// sqsReceiveOutput contains the messages returned by ReceiveMessage.
type sqsReceiveOutput struct {
	Messages []sqsReceivedMessage
}

// sqsReceivedMessage represents a single message received from SQS.
type sqsReceivedMessage struct {
	MessageID     string
	ReceiptHandle string
	Body          string
}

// sqsDeleteEntry identifies one message in a DeleteMessageBatch call.
type sqsDeleteEntry struct {
	ID            string
	ReceiptHandle string
}

// sqsDeleteBatchInput mirrors the fields needed for SQS DeleteMessageBatch.
type sqsDeleteBatchInput struct {
	QueueURL string
	Entries  []sqsDeleteEntry
}

// sqsDeleteBatchOutput lists the entry IDs SQS could not delete.
type sqsDeleteBatchOutput struct {
	Failed []sqsDeleteFailure
}

// sqsDeleteFailure is one entry-level DeleteMessageBatch failure.
type sqsDeleteFailure struct {
	ID      string
	Code    string
	Message string
}

// AWSSQSClient wraps the real AWS SQS SDK client and implements sqsAPI.
type AWSSQSClient struct {
	client *sqs.Client
}

// NewAWSSQSClient creates an AWSSQSClient from a loaded AWS config.
func NewAWSSQSClient(cfg aws.Config) *AWSSQSClient {
	return &AWSSQSClient{client: sqs.NewFromConfig(cfg)}
}

// SendMessage sends a message to the specified SQS queue.
func (c *AWSSQSClient) SendMessage(ctx context.Context, input *sqsSendInput) (*sqsSendOutput, error) {
	out, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &input.QueueURL,
		MessageBody: &input.MessageBody,
	})
	if err != nil {
		return nil, err
	}
	return &sqsSendOutput{MessageID: derefString(out.MessageId)}, nil
}

// ReceiveMessage long-polls the specified SQS queue for messages.
func (c *AWSSQSClient) ReceiveMessage(ctx context.Context, input *sqsReceiveInput) (*sqsReceiveOutput, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &input.QueueURL,
		MaxNumberOfMessages: input.MaxNumberOfMessages,
		WaitTimeSeconds:     input.WaitTimeSeconds,
		VisibilityTimeout:   input.VisibilityTimeout,
	})
	if err != nil {
		return nil, err
	}

	messages := make([]sqsReceivedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, sqsReceivedMessage{
			MessageID:     derefString(m.MessageId),
			ReceiptHandle: derefString(m.ReceiptHandle),
			Body:          derefString(m.Body),
		})
	}
	return &sqsReceiveOutput{Messages: messages}, nil
}

// DeleteMessageBatch deletes up to ten messages in one call.
func (c *AWSSQSClient) DeleteMessageBatch(ctx context.Context, input *sqsDeleteBatchInput) (*sqsDeleteBatchOutput, error) {
	entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(input.Entries))
	for _, e := range input.Entries {
		entries = append(entries, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(e.ID),
			ReceiptHandle: aws.String(e.ReceiptHandle),
		})
	}

	out, err := c.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: &input.QueueURL,
		Entries:  entries,
	})
	if err != nil {
		return nil, err
	}

	failed := make([]sqsDeleteFailure, 0, len(out.Failed))
	for _, f := range out.Failed {
		failed = append(failed, sqsDeleteFailure{
			ID:      derefString(f.Id),
			Code:    derefString(f.Code),
			Message: derefString(f.Message),
		})
	}
	return &sqsDeleteBatchOutput{Failed: failed}, nil
}

// derefString safely dereferences a string pointer, returning "" for nil.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
