package provider

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/sungwon/mail-dispatcher/internal/logger"
	"github.com/sungwon/mail-dispatcher/internal/mail"
)

// sesAPI abstracts the SES v2 client for testability.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends through the Amazon SES v2 SendEmail API. One client is shared
// across regions; the region is overridden per call.
type SES struct {
	client sesAPI
}

// NewSES creates an SES dispatcher over client.
func NewSES(client sesAPI) *SES {
	return &SES{client: client}
}

func (s *SES) Name() string { return "ses" }

// Send submits req as a simple UTF-8 text message in region.
func (s *SES) Send(ctx context.Context, req mail.Request, region string) error {
	start := time.Now()

	out, err := s.client.SendEmail(ctx, buildSendEmailInput(req), func(o *sesv2.Options) {
		o.Region = region
	})
	if err != nil {
		return ClassifySESError(err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("ses_message_id", aws.ToString(out.MessageId)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("ses accepted message")
	return nil
}

func buildSendEmailInput(req mail.Request) *sesv2.SendEmailInput {
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(req.SenderAddress),
		Destination: &types.Destination{
			ToAddresses: []string{req.ToAddress},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(req.Subject),
					Charset: aws.String(charsetUTF8),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(req.Body),
						Charset: aws.String(charsetUTF8),
					},
				},
			},
		},
	}
}
