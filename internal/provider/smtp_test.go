package provider

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatcher/internal/mail"
	"github.com/sungwon/mail-dispatcher/internal/smtp"
)

// startSink runs an in-process SMTP sink and returns its inbox and port.
func startSink(t *testing.T, creds smtp.Credentials) (*smtp.Inbox, int) {
	t.Helper()
	return startSinkTLS(t, creds, nil)
}

// startSinkTLS is startSink with STARTTLS offered when tlsCfg is non-nil.
func startSinkTLS(t *testing.T, creds smtp.Credentials, tlsCfg *tls.Config) (*smtp.Inbox, int) {
	t.Helper()

	inbox := smtp.NewInbox(10)
	backend := smtp.NewBackend(creds, inbox, zerolog.Nop(), 10)
	srv := smtp.NewServer(smtp.ServerConfig{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		TLSConfig:    tlsCfg,
	}, backend)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return inbox, ln.Addr().(*net.TCPAddr).Port
}

func testRequest() mail.Request {
	return mail.Request{
		MessageID:     "m1",
		Subject:       "Welcome",
		Body:          "hello world",
		ToAddress:     "a@example.com",
		SenderAddress: "noreply@example.com",
	}
}

func TestSMTP_Name(t *testing.T) {
	s := NewSMTP(SMTPConfig{})
	if s.Name() != "smtp" {
		t.Errorf("expected name smtp, got %s", s.Name())
	}
}

func TestSMTP_Host(t *testing.T) {
	s := NewSMTP(SMTPConfig{HostTemplate: "email-smtp.%s.amazonaws.com"})
	if got := s.Host("eu-west-1"); got != "email-smtp.eu-west-1.amazonaws.com" {
		t.Errorf("unexpected host %q", got)
	}
}

func TestSMTP_Send_DeliversToRegionHost(t *testing.T) {
	inbox, port := startSink(t, smtp.Credentials{})

	// The region is substituted into the host template; "127.0.0.1" stands
	// in for a region so the template resolves to the local sink.
	s := NewSMTP(SMTPConfig{HostTemplate: "%s", Port: port, Timeout: 5 * time.Second})

	if err := s.Send(context.Background(), testRequest(), "127.0.0.1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msgs := inbox.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0]
	if got.From != "noreply@example.com" {
		t.Errorf("expected envelope sender noreply@example.com, got %q", got.From)
	}
	if len(got.Recipients) != 1 || got.Recipients[0] != "a@example.com" {
		t.Errorf("expected single recipient a@example.com, got %v", got.Recipients)
	}
	if got.Subject != "Welcome" {
		t.Errorf("expected subject Welcome, got %q", got.Subject)
	}
	if strings.TrimSpace(got.Body) != "hello world" {
		t.Errorf("expected body 'hello world', got %q", got.Body)
	}
}

func TestSMTP_Send_UTF8Subject(t *testing.T) {
	inbox, port := startSink(t, smtp.Credentials{})
	s := NewSMTP(SMTPConfig{HostTemplate: "%s", Port: port})

	req := testRequest()
	req.Subject = "주문 확인"
	if err := s.Send(context.Background(), req, "127.0.0.1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msgs := inbox.Messages()
	if len(msgs) != 1 || msgs[0].Subject != "주문 확인" {
		t.Fatalf("expected decoded UTF-8 subject, got %+v", msgs)
	}
}

func TestSMTP_Send_WithAuth(t *testing.T) {
	inbox, port := startSink(t, smtp.Credentials{Username: "relay", Password: "secret"})
	s := NewSMTP(SMTPConfig{
		HostTemplate: "%s",
		Port:         port,
		Username:     "relay",
		Password:     "secret",
	})

	if err := s.Send(context.Background(), testRequest(), "127.0.0.1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if inbox.Len() != 1 {
		t.Errorf("expected 1 message, got %d", inbox.Len())
	}
}

func TestSMTP_Send_BadCredentialsIsPermanent(t *testing.T) {
	inbox, port := startSink(t, smtp.Credentials{Username: "relay", Password: "secret"})
	s := NewSMTP(SMTPConfig{
		HostTemplate: "%s",
		Port:         port,
		Username:     "relay",
		Password:     "wrong",
	})

	err := s.Send(context.Background(), testRequest(), "127.0.0.1")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsPermanent(err) {
		t.Errorf("expected 535 to be permanent, got %v", err)
	}
	if inbox.Len() != 0 {
		t.Errorf("expected no message, got %d", inbox.Len())
	}
}

// selfSignedTLS returns a server config with a certificate for 127.0.0.1 and
// a client config that trusts it.
func selfSignedTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
	client = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return server, client
}

func TestSMTP_Send_StartTLS(t *testing.T) {
	serverTLS, clientTLS := selfSignedTLS(t)
	inbox, port := startSinkTLS(t, smtp.Credentials{Username: "relay", Password: "secret"}, serverTLS)

	s := NewSMTP(SMTPConfig{
		HostTemplate: "%s",
		Port:         port,
		Username:     "relay",
		Password:     "secret",
		StartTLS:     true,
		Timeout:      5 * time.Second,
		TLSConfig:    clientTLS,
	})

	if err := s.Send(context.Background(), testRequest(), "127.0.0.1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msgs := inbox.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Subject != "Welcome" {
		t.Errorf("expected subject Welcome, got %q", msgs[0].Subject)
	}
}

func TestSMTP_Send_StartTLSUntrustedCertificate(t *testing.T) {
	serverTLS, _ := selfSignedTLS(t)
	inbox, port := startSinkTLS(t, smtp.Credentials{}, serverTLS)

	s := NewSMTP(SMTPConfig{HostTemplate: "%s", Port: port, StartTLS: true, Timeout: 5 * time.Second})

	err := s.Send(context.Background(), testRequest(), "127.0.0.1")
	if err == nil {
		t.Fatal("expected certificate verification error, got nil")
	}
	if inbox.Len() != 0 {
		t.Errorf("expected no message, got %d", inbox.Len())
	}
}

func TestSMTP_Send_StartTLSUnsupported(t *testing.T) {
	_, port := startSink(t, smtp.Credentials{})
	s := NewSMTP(SMTPConfig{HostTemplate: "%s", Port: port, StartTLS: true})

	err := s.Send(context.Background(), testRequest(), "127.0.0.1")
	if err == nil {
		t.Fatal("expected error when the server does not offer STARTTLS")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != "smtp" {
		t.Errorf("expected smtp ProviderError, got %v", err)
	}
}

func TestSMTP_Send_ConnectionRefusedIsTransient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	s := NewSMTP(SMTPConfig{HostTemplate: "%s", Port: port, Timeout: time.Second})
	err = s.Send(context.Background(), testRequest(), "127.0.0.1")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsTransient(err) {
		t.Errorf("expected dial failure to be transient, got %v", err)
	}
}

func TestClassifySMTPError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantPerm bool
		wantCode string
	}{
		{
			name:     "550 is permanent",
			err:      &gosmtp.SMTPError{Code: 550, Message: "mailbox unavailable"},
			wantPerm: true,
			wantCode: "550",
		},
		{
			name:     "421 is transient",
			err:      &gosmtp.SMTPError{Code: 421, Message: "try again later"},
			wantPerm: false,
			wantCode: "421",
		},
		{
			name:     "non-SMTP error is transient",
			err:      errors.New("connection reset"),
			wantPerm: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifySMTPError(tt.err)
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ProviderError, got %T", err)
			}
			if pe.Permanent != tt.wantPerm {
				t.Errorf("expected permanent=%v, got %v", tt.wantPerm, pe.Permanent)
			}
			if pe.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, pe.Code)
			}
			if !errors.Is(err, tt.err) {
				t.Error("expected classified error to wrap the original")
			}
		})
	}

	if ClassifySMTPError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestSMTP_Host_PortJoin(t *testing.T) {
	s := NewSMTP(SMTPConfig{HostTemplate: "email-smtp.%s.amazonaws.com", Port: 587})
	addr := net.JoinHostPort(s.Host("ap-northeast-2"), strconv.Itoa(587))
	if addr != "email-smtp.ap-northeast-2.amazonaws.com:587" {
		t.Errorf("unexpected addr %q", addr)
	}
}
