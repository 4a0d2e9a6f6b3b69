// Package message defines the dispatch domain model: messages, envelopes,
// send results and the status state machine.
package message

import (
	"regexp"
	"time"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,127}$`)

// ValidID reports whether id is usable as a client or message identifier.
// Identifiers become storage keys, so path separators and leading dots are
// rejected.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Message is a client-submitted unit of email work.
type Message struct {
	Client            string
	MessageID         string
	Email             *Envelope // nil once the content has been scrubbed
	Status            Status
	StatusDescription string
	SendResult        *SendResult // non-nil iff Status == StatusCompleted
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasContent reports whether the email body is still stored.
func (m Message) HasContent() bool {
	return m.Email != nil
}

// Envelope is the transport-ready representation of an email.
type Envelope struct {
	From    string            `json:"from" validate:"required,email"`
	To      []string          `json:"to" validate:"required,min=1,dive,email"`
	Cc      []string          `json:"cc,omitempty" validate:"omitempty,dive,email"`
	Bcc     []string          `json:"bcc,omitempty" validate:"omitempty,dive,email"`
	ReplyTo string            `json:"reply_to,omitempty" validate:"omitempty,email"`
	Subject string            `json:"subject" validate:"max=998"`
	Text    string            `json:"text,omitempty" validate:"required_without=HTML"`
	HTML    string            `json:"html,omitempty" validate:"required_without=Text"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Recipients returns every envelope recipient (To, Cc and Bcc) in order.
func (e *Envelope) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	out = append(out, e.Bcc...)
	return out
}

// SendResult is what the mail transport reported for a successful delivery.
type SendResult struct {
	SMTPMessageID string `json:"smtp_msg_id"`
	Response      string `json:"response"`
}
