// Package transport delivers envelopes to a mail server. The SMTP transport
// is the production implementation; stdout and file transports exist for
// local development.
package transport

import (
	"context"

	"github.com/sungwon/mail-dispatch/internal/message"
)

// Transport sends a single envelope.
type Transport interface {
	// Send delivers env and reports the provider message id and the
	// server's final response.
	Send(ctx context.Context, env *message.Envelope) (*Result, error)
	// Name returns the transport identifier (e.g., "smtp", "stdout").
	Name() string
	// HealthCheck verifies the transport is reachable.
	HealthCheck(ctx context.Context) error
}

// Result is what the mail server reported for an accepted message.
type Result struct {
	MessageID string
	Response  string
}
