package smtp

import (
	"crypto/tls"
	"time"

	gosmtp "github.com/emersion/go-smtp"
)

// ServerConfig holds the sink listener settings.
type ServerConfig struct {
	Addr            string
	Domain          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	// TLSConfig enables STARTTLS when set.
	TLSConfig *tls.Config
}

// NewServer configures a go-smtp server for backend. The sink listens on
// plain TCP and only offers STARTTLS when a TLS config is given, so PLAIN
// auth is allowed without TLS.
func NewServer(cfg ServerConfig, backend *Backend) *gosmtp.Server {
	s := gosmtp.NewServer(backend)
	s.Addr = cfg.Addr
	s.Domain = cfg.Domain
	if s.Domain == "" {
		s.Domain = "mail-dispatcher-sink"
	}
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.TLSConfig = cfg.TLSConfig
	s.AllowInsecureAuth = true
	return s
}
