// Package smtp implements a local SMTP sink: a go-smtp server that accepts
// mail from the relay transport, logs it and keeps the most recent messages
// in memory. It stands in for the regional relay during local runs and tests.
package smtp

import (
	"sync/atomic"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatcher/internal/logger"
)

// Credentials are the PLAIN auth username and password a client must
// present. An empty Username disables authentication.
type Credentials struct {
	Username string
	Password string
}

// Backend implements the go-smtp Backend interface.
// It manages session creation and enforces connection limits.
type Backend struct {
	creds    Credentials
	inbox    *Inbox
	log      zerolog.Logger
	maxConns int
	active   atomic.Int64
}

// NewBackend creates a sink backend that stores accepted messages in inbox.
func NewBackend(creds Credentials, inbox *Inbox, log zerolog.Logger, maxConns int) *Backend {
	return &Backend{
		creds:    creds,
		inbox:    inbox,
		log:      log,
		maxConns: maxConns,
	}
}

// NewSession is called after a client sends EHLO/HELO. It enforces connection
// limits and creates a new Session for the connection.
func (b *Backend) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	current := b.active.Add(1)
	if int(current) > b.maxConns {
		b.active.Add(-1)
		b.log.Warn().
			Int64("active", current-1).
			Int("max", b.maxConns).
			Msg("connection limit reached")
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "Too many connections",
		}
	}

	sessionLog := b.log.With().
		Str("correlation_id", logger.NewCorrelationID()).
		Str("remote_addr", conn.Hostname()).
		Logger()

	sessionLog.Debug().Msg("new SMTP session")

	return newSession(b, sessionLog), nil
}

// ActiveSessions returns the current number of active SMTP sessions.
func (b *Backend) ActiveSessions() int64 {
	return b.active.Load()
}

// authRequired reports whether sessions must authenticate before MAIL FROM.
func (b *Backend) authRequired() bool {
	return b.creds.Username != ""
}
