package smtp

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
)

var errAuthRequired = &gosmtp.SMTPError{
	Code:         530,
	EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
	Message:      "Authentication required",
}

// Session handles a single SMTP connection and implements the go-smtp Session
// and AuthSession interfaces.
type Session struct {
	backend       *Backend
	log           zerolog.Logger
	authenticated bool
	sender        string
	recipients    []string
}

func newSession(b *Backend, log zerolog.Logger) *Session {
	return &Session{backend: b, log: log}
}

// AuthMechanisms advertises PLAIN when credentials are configured.
func (s *Session) AuthMechanisms() []string {
	if !s.backend.authRequired() {
		return nil
	}
	return []string{sasl.Plain}
}

// Auth returns a PLAIN server checking the configured credentials.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain || !s.backend.authRequired() {
		return nil, gosmtp.ErrAuthUnsupported
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		return s.authPlain(username, password)
	}), nil
}

func (s *Session) authPlain(username, password string) error {
	creds := s.backend.creds
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(creds.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(creds.Password)) == 1
	if !userOK || !passOK {
		s.log.Warn().Str("username", username).Msg("auth failed")
		return &gosmtp.SMTPError{
			Code:         535,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
			Message:      "Authentication failed",
		}
	}

	s.authenticated = true
	s.log.Debug().Str("username", username).Msg("auth successful")
	return nil
}

// Mail handles the MAIL FROM command.
func (s *Session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.backend.authRequired() && !s.authenticated {
		return errAuthRequired
	}

	if err := ValidateEmailAddress(from); err != nil {
		s.log.Warn().Str("from", from).Msg("invalid sender address format")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender address",
		}
	}

	s.sender = from
	return nil
}

// Rcpt handles the RCPT TO command.
func (s *Session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.backend.authRequired() && !s.authenticated {
		return errAuthRequired
	}

	if err := ValidateEmailAddress(to); err != nil {
		s.log.Warn().Str("to", to).Msg("invalid recipient address format")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}

	s.recipients = append(s.recipients, to)
	return nil
}

// Data reads the message, captures it in the inbox and logs its envelope.
// Message body content is not logged.
func (s *Session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		s.log.Error().Err(err).Msg("failed to read message data")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Error reading message",
		}
	}

	msg := Message{
		From:       s.sender,
		Recipients: append([]string(nil), s.recipients...),
		Raw:        buf.Bytes(),
		ReceivedAt: time.Now().UTC(),
	}
	msg.Subject, msg.Body = parseMessage(buf.Bytes())
	s.backend.inbox.Add(msg)

	domains := make([]string, 0, len(msg.Recipients))
	for _, rcpt := range msg.Recipients {
		domains = append(domains, ExtractDomain(rcpt))
	}
	s.log.Info().
		Str("from", msg.From).
		Strs("recipient_domains", domains).
		Str("subject", msg.Subject).
		Int("size", buf.Len()).
		Msg("message captured")

	return nil
}

// Reset is called between messages in the same session. It clears the sender
// and recipients but preserves the authentication state.
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout is called when the client disconnects.
func (s *Session) Logout() error {
	s.backend.active.Add(-1)
	s.log.Debug().Msg("session closed")
	return nil
}

// parseMessage extracts the decoded subject and text body. Unparseable
// messages yield empty values; the raw bytes are still captured.
func parseMessage(raw []byte) (subject, body string) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return "", ""
	}

	subject = m.Header.Get("Subject")
	dec := new(mime.WordDecoder)
	if decoded, err := dec.DecodeHeader(subject); err == nil {
		subject = decoded
	}

	var r io.Reader = m.Body
	if strings.EqualFold(m.Header.Get("Content-Transfer-Encoding"), "quoted-printable") {
		r = quotedprintable.NewReader(m.Body)
	}
	b, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return subject, ""
	}
	return subject, strings.ReplaceAll(string(b), "\r\n", "\n")
}
