package provider

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sungwon/mail-dispatcher/internal/mail"
)

// Stdout writes requests to a writer instead of sending them. Intended for
// local runs; nothing is delivered.
type Stdout struct {
	writer io.Writer
}

// NewStdout creates a Stdout dispatcher writing to w.
func NewStdout(w io.Writer) *Stdout {
	return &Stdout{writer: w}
}

func (s *Stdout) Name() string { return "stdout" }

// Send prints the request.
func (s *Stdout) Send(_ context.Context, req mail.Request, region string) error {
	var b strings.Builder
	b.WriteString("--- stdout dispatcher: message ---\n")
	fmt.Fprintf(&b, "ID:      %s\n", req.MessageID)
	fmt.Fprintf(&b, "Region:  %s\n", region)
	fmt.Fprintf(&b, "From:    %s\n", req.SenderAddress)
	fmt.Fprintf(&b, "To:      %s\n", req.ToAddress)
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	fmt.Fprintf(&b, "Body:    (%d bytes)\n", len(req.Body))
	b.WriteString("--- end ---\n")

	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return fmt.Errorf("stdout: write: %w", err)
	}
	return nil
}
