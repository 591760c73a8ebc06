package ingest

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
)

// SMTPIngest accepts messages over SMTP and runs each one through the
// detector. It is an inspection tap: every message is accepted and the
// flagged ones are recorded; nothing is re-delivered or rejected.
type SMTPIngest struct {
	service    *core.DetectorService
	logger     *zap.Logger
	listenAddr string
	domain     string
	maxBytes   int64
	server     *smtp.Server
}

// NewSMTPIngest creates a new SMTP ingestion frontend.
func NewSMTPIngest(service *core.DetectorService, logger *zap.Logger, listenAddr, domain string, maxBytes int64) *SMTPIngest {
	return &SMTPIngest{
		service:    service,
		logger:     logger,
		listenAddr: listenAddr,
		domain:     domain,
		maxBytes:   maxBytes,
	}
}

// Start starts the SMTP server.
func (g *SMTPIngest) Start() error {
	g.server = smtp.NewServer(&smtpBackend{ingest: g})

	g.server.Addr = g.listenAddr
	g.server.Domain = g.domain
	g.server.ReadTimeout = 30 * time.Second
	g.server.WriteTimeout = 30 * time.Second
	g.server.MaxMessageBytes = g.maxBytes
	g.server.MaxRecipients = 50
	g.server.AllowInsecureAuth = true

	g.logger.Info("SMTP ingest starting", zap.String("address", g.listenAddr))

	go func() {
		if err := g.server.ListenAndServe(); err != nil {
			if err != smtp.ErrServerClosed {
				g.logger.Error("SMTP server error", zap.Error(err))
			}
		}
	}()

	return nil
}

// Stop stops the SMTP server.
func (g *SMTPIngest) Stop() error {
	if g.server != nil {
		return g.server.Close()
	}
	return nil
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	ingest *SMTPIngest
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{ingest: b.ingest}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	ingest     *SMTPIngest
	sender     string
	recipients []string
}

// Reset resets the session state
func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = nil
}

// AuthPlain handles PLAIN authentication (not needed for inspection)
func (s *smtpSession) AuthPlain(_, _ string) error {
	return smtp.ErrAuthUnsupported
}

// Mail sets the sender address
func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt adds a recipient
func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data inspects the message payload. Malformed messages are logged and
// accepted; inspection failures never bounce mail.
func (s *smtpSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.ingest.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	result, outcome, err := s.ingest.service.Inspect(context.Background(), raw)
	if err != nil {
		var parseErr *core.ParseError
		if errors.As(err, &parseErr) {
			s.ingest.logger.Warn("Unparseable message skipped",
				zap.String("sender", s.sender),
				zap.Error(err))
			return nil
		}
		s.ingest.logger.Error("Inspection failed",
			zap.String("sender", s.sender),
			zap.Error(err))
		return nil
	}

	if result.IsFlagged {
		s.ingest.logger.Info("Suspicious message ingested",
			zap.String("sender", s.sender),
			zap.String("identity", result.Identity),
			zap.Int("findings", len(result.Findings)),
			zap.String("outcome", outcome.String()))
	}

	return nil
}

// Logout handles session termination
func (s *smtpSession) Logout() error {
	return nil
}
