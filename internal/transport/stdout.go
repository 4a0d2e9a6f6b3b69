package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/sungwon/mail-dispatch/internal/message"
)

// Stdout implements Transport by writing envelopes to standard output.
// Intended for development and debugging; messages are never actually delivered.
type Stdout struct {
	writer io.Writer
}

// NewStdout creates a Stdout transport that prints envelopes to os.Stdout.
func NewStdout() *Stdout {
	return &Stdout{writer: os.Stdout}
}

func (s *Stdout) Name() string { return "stdout" }

// Send prints the envelope and returns a successful result.
func (s *Stdout) Send(_ context.Context, env *message.Envelope) (*Result, error) {
	id := "stdout-" + uuid.NewString()

	var b strings.Builder
	b.WriteString("--- stdout transport: message ---\n")
	fmt.Fprintf(&b, "ID:      %s\n", id)
	fmt.Fprintf(&b, "From:    %s\n", env.From)
	fmt.Fprintf(&b, "To:      %s\n", strings.Join(env.Recipients(), ", "))
	fmt.Fprintf(&b, "Subject: %s\n", env.Subject)
	for k, v := range env.Headers {
		fmt.Fprintf(&b, "Header:  %s: %s\n", k, v)
	}
	fmt.Fprintf(&b, "Text:    (%d bytes)\n", len(env.Text))
	fmt.Fprintf(&b, "HTML:    (%d bytes)\n", len(env.HTML))
	b.WriteString("--- end ---\n")

	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return nil, fmt.Errorf("stdout: write: %w", err)
	}

	return &Result{MessageID: id, Response: "250 OK"}, nil
}

// HealthCheck always returns nil since stdout is always available.
func (s *Stdout) HealthCheck(_ context.Context) error {
	return nil
}
