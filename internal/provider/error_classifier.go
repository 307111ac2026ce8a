package provider

import (
	"errors"
	"strconv"

	"github.com/aws/smithy-go"
	gosmtp "github.com/emersion/go-smtp"
)

// ProviderError wraps a provider failure with classification metadata.
type ProviderError struct {
	// Provider is the transport that returned the error.
	Provider string
	// Code is the API error code (SES) or reply code (SMTP).
	Code string
	// Message is the error description from the provider.
	Message string
	// Permanent indicates the error will not succeed on retry.
	Permanent bool
	// Err is the underlying error.
	Err error
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Provider + ": " + e.Message
	}
	return e.Provider + ": " + e.Code + ": " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsPermanent returns true if err is a provider failure that will not
// succeed on retry.
func IsPermanent(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return false
}

// IsTransient returns true if err may succeed on retry. Unknown errors are
// treated as transient.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// Class returns "permanent" or "transient" for metrics labels.
func Class(err error) string {
	if IsPermanent(err) {
		return "permanent"
	}
	return "transient"
}

// sesPermanentCodes are SES v2 error codes that a redelivery cannot fix.
var sesPermanentCodes = map[string]bool{
	"MessageRejected":                    true,
	"MailFromDomainNotVerifiedException": true,
	"AccountSuspendedException":          true,
	"SendingPausedException":             true,
	"NotFoundException":                  true,
	"BadRequestException":                true,
	"AccessDeniedException":              true,
}

// ClassifySESError wraps an SES SDK error in a ProviderError. Throttling,
// limit and service-side errors stay transient.
func ClassifySESError(err error) error {
	if err == nil {
		return nil
	}

	pe := &ProviderError{Provider: "ses", Message: err.Error(), Err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe.Code = apiErr.ErrorCode()
		pe.Message = apiErr.ErrorMessage()
		pe.Permanent = sesPermanentCodes[pe.Code]
	}
	return pe
}

// ClassifySMTPError wraps an SMTP client error. 5xx replies are permanent;
// 4xx replies and connection failures are transient.
func ClassifySMTPError(err error) error {
	if err == nil {
		return nil
	}

	pe := &ProviderError{Provider: "smtp", Message: err.Error(), Err: err}

	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		pe.Code = strconv.Itoa(smtpErr.Code)
		pe.Message = smtpErr.Message
		pe.Permanent = smtpErr.Code >= 500 && smtpErr.Code < 600
	}
	return pe
}
