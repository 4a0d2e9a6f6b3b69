package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/message"
)

// SMTP delivers envelopes to an SMTP submission server, one connection per
// message.
type SMTP struct {
	cfg    Config
	signer *DKIMSigner
	log    zerolog.Logger
	now    func() time.Time
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTP creates an SMTP transport. signer may be nil.
func NewSMTP(cfg Config, signer *DKIMSigner, log zerolog.Logger) *SMTP {
	d := &net.Dialer{Timeout: cfg.Timeout}
	return &SMTP{
		cfg:    cfg,
		signer: signer,
		log:    log.With().Str("transport", "smtp").Logger(),
		now:    time.Now,
		dial:   d.DialContext,
	}
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *SMTP) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test relays
		MinVersion:         tls.VersionTLS12,
	}
}

// connect dials the server and negotiates TLS and EHLO.
func (s *SMTP) connect(ctx context.Context) (*smtp.Client, error) {
	conn, err := s.dial(ctx, "tcp", s.addr())
	if err != nil {
		return nil, ClassifySMTPError(s.Name(), "dial", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(s.now().Add(s.cfg.Timeout))
	}

	var c *smtp.Client
	switch s.cfg.TLS {
	case "tls":
		tc := tls.Client(conn, s.tlsConfig())
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, ClassifySMTPError(s.Name(), "tls handshake", err)
		}
		c = smtp.NewClient(tc)
	case "starttls":
		c, err = smtp.NewClientStartTLS(conn, s.tlsConfig())
		if err != nil {
			conn.Close()
			return nil, ClassifySMTPError(s.Name(), "starttls", err)
		}
	default:
		c = smtp.NewClient(conn)
	}

	if s.cfg.LocalName != "" {
		if err := c.Hello(s.cfg.LocalName); err != nil {
			c.Close()
			return nil, ClassifySMTPError(s.Name(), "ehlo", err)
		}
	}

	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			c.Close()
			return nil, ClassifySMTPError(s.Name(), "auth", err)
		}
	}
	return c, nil
}

// Send renders, optionally signs, and submits env. The returned MessageID is
// the Message-ID header value the transport generated.
func (s *SMTP) Send(ctx context.Context, env *message.Envelope) (*Result, error) {
	messageID := uuid.NewString() + "@" + messageIDDomain(env.From, s.cfg.LocalName)
	raw, err := buildMessage(env, messageID, s.now())
	if err != nil {
		return nil, fmt.Errorf("smtp: build message: %w", err)
	}
	if raw, err = s.signer.Sign(raw, env.From); err != nil {
		return nil, fmt.Errorf("smtp: %w", err)
	}

	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.Mail(env.From, nil); err != nil {
		return nil, ClassifySMTPError(s.Name(), "mail from", err)
	}
	for _, rcpt := range env.Recipients() {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return nil, ClassifySMTPError(s.Name(), "rcpt to "+rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return nil, ClassifySMTPError(s.Name(), "data", err)
	}
	if _, err := bytes.NewReader(raw).WriteTo(w); err != nil {
		_ = w.Close()
		return nil, ClassifySMTPError(s.Name(), "write body", err)
	}
	resp, err := w.CloseWithResponse()
	if err != nil {
		return nil, ClassifySMTPError(s.Name(), "end data", err)
	}

	if err := c.Quit(); err != nil {
		s.log.Debug().Err(err).Msg("quit after accepted message failed")
	}

	// CloseWithResponse only succeeds on a 250 reply.
	return &Result{
		MessageID: messageID,
		Response:  strings.TrimSpace("250 " + resp.StatusText),
	}, nil
}

// HealthCheck connects, authenticates and sends NOOP.
func (s *SMTP) HealthCheck(ctx context.Context) error {
	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Noop(); err != nil {
		return ClassifySMTPError(s.Name(), "noop", err)
	}
	return c.Quit()
}

func messageIDDomain(from, localName string) string {
	if d := domainOf(from); d != "" {
		return d
	}
	if localName != "" {
		return localName
	}
	return "localhost"
}
