// Package mail defines the mail-send request carried by queue records and
// the validation applied before a request may be dispatched.
package mail

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest is returned when a required field is missing or empty.
	// It is permanent: redelivering the same record can never succeed.
	ErrInvalidRequest = errors.New("mail: invalid request")

	// ErrMalformedPayload is returned when a record body is not a JSON object
	// of the expected shape. It is permanent as well.
	ErrMalformedPayload = errors.New("mail: malformed payload")
)

// Payload is the JSON body of one queue record.
type Payload struct {
	Subject     string `json:"subject"`
	Message     string `json:"message"`
	Address     string `json:"address"`
	ServiceName string `json:"service_name,omitempty"`
}

// Request is a validated mail-send request. Values are only produced by
// NewRequest and ParseRecord, so a Request always has a subject, body and
// recipient.
type Request struct {
	MessageID     string
	ServiceName   string
	Subject       string
	Body          string
	ToAddress     string
	SenderAddress string
}

// NewRequest validates the content fields and returns a Request. The sender
// address comes from process configuration, never from the payload.
func NewRequest(messageID, serviceName, subject, body, toAddress, senderAddress string) (Request, error) {
	var missing []string
	if subject == "" {
		missing = append(missing, "subject")
	}
	if body == "" {
		missing = append(missing, "message")
	}
	if toAddress == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return Request{}, fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	return Request{
		MessageID:     messageID,
		ServiceName:   serviceName,
		Subject:       subject,
		Body:          body,
		ToAddress:     toAddress,
		SenderAddress: senderAddress,
	}, nil
}

// ParseRecord decodes a queue record body and validates it.
func ParseRecord(messageID string, body []byte, senderAddress string) (Request, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return NewRequest(messageID, p.ServiceName, p.Subject, p.Message, p.Address, senderAddress)
}

// IsPermanent reports whether err is a rejection that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrMalformedPayload)
}
