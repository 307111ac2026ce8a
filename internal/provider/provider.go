// Package provider sends a single validated mail request through an external
// mail service, addressed to a resolved region.
package provider

import (
	"context"

	"github.com/sungwon/mail-dispatcher/internal/mail"
)

// Dispatcher submits exactly one email. It does not retry; the caller decides
// what a failure means for the queue record.
type Dispatcher interface {
	// Send delivers req through the provider endpoint for region.
	Send(ctx context.Context, req mail.Request, region string) error
	// Name returns the transport identifier ("ses", "smtp", "stdout").
	Name() string
}

const charsetUTF8 = "UTF-8"
