// Package smtpd accepts inbound mail over SMTP and hands each message to the
// same ingestion path as the webhook.
package smtpd

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"mail-archiver-go/internal/config"
	"mail-archiver-go/internal/ingest"
)

const ingestTimeout = 30 * time.Second

// Ingester accepts raw emails
type Ingester interface {
	Handle(ctx context.Context, raw []byte) (*ingest.Result, error)
}

// Backend implements the go-smtp backend
type Backend struct {
	ingester       Ingester
	allowedDomains map[string]bool
	maxBytes       int64
}

// NewBackend creates a Backend. An empty allowed domain list accepts any
// recipient.
func NewBackend(ingester Ingester, cfg config.SMTPConfig) *Backend {
	allowed := make(map[string]bool, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		allowed[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return &Backend{ingester: ingester, allowedDomains: allowed, maxBytes: cfg.MaxMessageBytes}
}

// NewServer creates an SMTP server for b
func NewServer(b *Backend, cfg config.SMTPConfig) *gosmtp.Server {
	srv := gosmtp.NewServer(b)
	srv.Addr = cfg.Addr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	return srv
}

func (b *Backend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend    *Backend
	from       string
	recipients []string
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := strings.ToLower(strings.Trim(strings.TrimSpace(to), "<>"))
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	if len(s.backend.allowedDomains) > 0 && !s.backend.allowedDomains[addr[at+1:]] {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied",
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	reader := r
	if s.backend.maxBytes > 0 {
		reader = io.LimitReader(r, s.backend.maxBytes+1)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if s.backend.maxBytes > 0 && int64(len(raw)) > s.backend.maxBytes {
		return gosmtp.ErrDataTooLarge
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	result, err := s.backend.ingester.Handle(ctx, raw)
	if errors.Is(err, ingest.ErrMalformedEmail) {
		logrus.WithError(err).WithField("from", s.from).Warn("Rejected malformed SMTP message")
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message",
		}
	}
	if err != nil {
		logrus.WithError(err).WithField("from", s.from).Error("Failed to ingest SMTP message")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure storing message",
		}
	}

	logrus.WithFields(logrus.Fields{
		"email_id":   result.EmailID,
		"from":       s.from,
		"recipients": len(s.recipients),
		"duplicate":  result.Duplicate,
	}).Info("Accepted SMTP message")
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

func (s *session) Logout() error {
	return nil
}

// IsClosed reports whether err is the normal result of shutting the server down
func IsClosed(err error) bool {
	return errors.Is(err, gosmtp.ErrServerClosed)
}
