package provider

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatcher/internal/logger"
)

type mockSES struct {
	mu      sync.Mutex
	inputs  []*sesv2.SendEmailInput
	regions []string
	err     error
}

func (m *mockSES) SendEmail(_ context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	var opts sesv2.Options
	for _, fn := range optFns {
		fn(&opts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, params)
	m.regions = append(m.regions, opts.Region)
	if m.err != nil {
		return nil, m.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-0001")}, nil
}

func TestSES_Name(t *testing.T) {
	s := NewSES(&mockSES{})
	if s.Name() != "ses" {
		t.Errorf("expected name ses, got %s", s.Name())
	}
}

func TestSES_buildSendEmailInput(t *testing.T) {
	in := buildSendEmailInput(testRequest())

	if aws.ToString(in.FromEmailAddress) != "noreply@example.com" {
		t.Errorf("unexpected sender %q", aws.ToString(in.FromEmailAddress))
	}
	if len(in.Destination.ToAddresses) != 1 || in.Destination.ToAddresses[0] != "a@example.com" {
		t.Errorf("expected single recipient, got %v", in.Destination.ToAddresses)
	}
	if in.Content.Simple == nil {
		t.Fatal("expected Simple content, got nil")
	}
	if in.Content.Raw != nil {
		t.Error("expected no Raw content")
	}
	simple := in.Content.Simple
	if aws.ToString(simple.Subject.Data) != "Welcome" || aws.ToString(simple.Subject.Charset) != "UTF-8" {
		t.Errorf("unexpected subject %q/%q", aws.ToString(simple.Subject.Data), aws.ToString(simple.Subject.Charset))
	}
	if simple.Body.Text == nil {
		t.Fatal("expected Text body part")
	}
	if aws.ToString(simple.Body.Text.Data) != "hello world" || aws.ToString(simple.Body.Text.Charset) != "UTF-8" {
		t.Errorf("unexpected text body %q", aws.ToString(simple.Body.Text.Data))
	}
	if simple.Body.Html != nil {
		t.Error("expected no Html body part")
	}
}

func TestSES_Send_UsesRegion(t *testing.T) {
	mock := &mockSES{}
	s := NewSES(mock)

	if err := s.Send(context.Background(), testRequest(), "eu-west-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := s.Send(context.Background(), testRequest(), "ap-northeast-2"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(mock.regions) != 2 || mock.regions[0] != "eu-west-1" || mock.regions[1] != "ap-northeast-2" {
		t.Errorf("expected per-call regions, got %v", mock.regions)
	}
}

func TestSES_Send_ClassifiesError(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		wantPerm bool
	}{
		{name: "message rejected", code: "MessageRejected", wantPerm: true},
		{name: "domain not verified", code: "MailFromDomainNotVerifiedException", wantPerm: true},
		{name: "throttled", code: "TooManyRequestsException", wantPerm: false},
		{name: "limit exceeded", code: "LimitExceededException", wantPerm: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockSES{err: &smithy.GenericAPIError{Code: tt.code, Message: "boom"}}
			s := NewSES(mock)

			err := s.Send(context.Background(), testRequest(), "us-east-1")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ProviderError, got %T", err)
			}
			if pe.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, pe.Code)
			}
			if pe.Permanent != tt.wantPerm {
				t.Errorf("expected permanent=%v, got %v", tt.wantPerm, pe.Permanent)
			}
		})
	}
}

func TestClassifySESError_NonAPIError(t *testing.T) {
	err := ClassifySESError(errors.New("dial tcp: i/o timeout"))
	if !IsTransient(err) {
		t.Errorf("expected transport error to be transient, got %v", err)
	}
	if Class(err) != "transient" {
		t.Errorf("expected class transient, got %s", Class(err))
	}
	if ClassifySESError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestSES_Send_LogsWithContextLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel).With().Str("message_id", "m1").Logger()

	ctx := logger.WithLogger(context.Background(), log)
	ctx = logger.WithCorrelationID(ctx, "batch-1")

	s := NewSES(&mockSES{})
	if err := s.Send(ctx, testRequest(), "eu-west-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"message_id":"m1"`, `"correlation_id":"batch-1"`, `"ses_message_id":"ses-0001"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log output, got %s", want, out)
		}
	}
}
