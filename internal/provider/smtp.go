package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"gopkg.in/gomail.v2"

	"github.com/sungwon/mail-dispatcher/internal/logger"
	"github.com/sungwon/mail-dispatcher/internal/mail"
)

// SMTPConfig configures the SMTP relay dispatcher.
type SMTPConfig struct {
	// HostTemplate is formatted with the region, e.g. "email-smtp.%s.amazonaws.com".
	HostTemplate string
	Port         int
	Username     string
	Password     string
	StartTLS     bool
	Timeout      time.Duration
	// TLSConfig overrides the client TLS settings. ServerName is always set
	// to the resolved host.
	TLSConfig *tls.Config
}

// SMTP relays messages to a per-region SMTP endpoint.
type SMTP struct {
	cfg SMTPConfig
}

// NewSMTP creates an SMTP dispatcher.
func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTP{cfg: cfg}
}

func (s *SMTP) Name() string { return "smtp" }

// Host returns the relay host for region.
func (s *SMTP) Host(region string) string {
	return fmt.Sprintf(s.cfg.HostTemplate, region)
}

// Send opens one connection, submits req and quits.
func (s *SMTP) Send(ctx context.Context, req mail.Request, region string) error {
	var msg bytes.Buffer
	if err := composeMessage(req, &msg); err != nil {
		return &ProviderError{Provider: "smtp", Message: err.Error(), Permanent: true, Err: err}
	}

	host := s.Host(region)
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))

	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ClassifySMTPError(fmt.Errorf("dial %s: %w", addr, err))
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := s.newClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return ClassifySMTPError(fmt.Errorf("auth: %w", err))
		}
	}

	if err := c.SendMail(req.SenderAddress, []string{req.ToAddress}, &msg); err != nil {
		return ClassifySMTPError(err)
	}
	log := logger.FromContext(ctx)
	if err := c.Quit(); err != nil {
		log.Debug().Err(err).Str("host", host).Msg("smtp quit failed after accepted message")
	}

	log.Debug().Str("host", host).Msg("smtp relay accepted message")
	return nil
}

// newClient wraps conn in an SMTP client, upgrading it with STARTTLS when
// configured. The connection is closed on failure.
func (s *SMTP) newClient(conn net.Conn, host string) (*gosmtp.Client, error) {
	if !s.cfg.StartTLS {
		return gosmtp.NewClient(conn), nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.cfg.TLSConfig != nil {
		tlsCfg = s.cfg.TLSConfig.Clone()
	}
	tlsCfg.ServerName = host

	c, err := gosmtp.NewClientStartTLS(conn, tlsCfg)
	if err != nil {
		return nil, ClassifySMTPError(fmt.Errorf("starttls with %s: %w", host, err))
	}
	return c, nil
}

// composeMessage renders req as a UTF-8 text/plain MIME message.
func composeMessage(req mail.Request, w *bytes.Buffer) error {
	m := gomail.NewMessage(gomail.SetCharset(charsetUTF8), gomail.SetEncoding(gomail.QuotedPrintable))
	m.SetHeader("From", req.SenderAddress)
	m.SetHeader("To", req.ToAddress)
	m.SetHeader("Subject", req.Subject)
	m.SetDateHeader("Date", time.Now())
	m.SetBody("text/plain", req.Body)

	_, err := m.WriteTo(w)
	return err
}
